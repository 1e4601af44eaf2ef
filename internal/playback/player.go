package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

const (
	defaultFrameInterval = 40 * time.Millisecond // 25 fps
	defaultTransition    = 800 * time.Millisecond
)

// Frame is one rendered playback step.
type Frame struct {
	Index    int                      `json:"index"`
	Progress float64                  `json:"progress"`
	Devices  []timeline.DeviceDisplay `json:"devices"`
}

// Player animates transitions along a reconciled timeline: progress advances
// from 0 to 1 over a fixed duration at a fixed frame rate, then stops.
// Advancing to a new index cancels any in-flight transition so animations
// never overlap.
type Player struct {
	timeline      []timeline.ReconciledSnapshot
	frameInterval time.Duration
	transition    time.Duration

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
}

// Option customizes the player.
type Option func(*Player)

// WithFrameInterval overrides the redraw interval.
func WithFrameInterval(interval time.Duration) Option {
	return func(p *Player) {
		if interval > 0 {
			p.frameInterval = interval
		}
	}
}

// WithTransition overrides the transition duration.
func WithTransition(duration time.Duration) Option {
	return func(p *Player) {
		if duration > 0 {
			p.transition = duration
		}
	}
}

// NewPlayer constructs a player over a reconciled timeline.
func NewPlayer(reconciled []timeline.ReconciledSnapshot, opts ...Option) (*Player, error) {
	if len(reconciled) == 0 {
		return nil, errors.New("playback: empty timeline")
	}
	player := &Player{
		timeline:      reconciled,
		frameInterval: defaultFrameInterval,
		transition:    defaultTransition,
	}
	for _, opt := range opts {
		opt(player)
	}
	return player, nil
}

// Advance starts an animated transition into the snapshot at index and
// returns immediately. Frames are delivered through emit from a single
// goroutine; the final frame always carries progress 1 with raw snapshot
// values unless the transition is cancelled first.
func (p *Player) Advance(ctx context.Context, index int, emit func(Frame)) error {
	if p == nil {
		return errors.New("playback: nil player")
	}
	if emit == nil {
		return errors.New("playback: nil emit")
	}
	if index < 0 || index >= len(p.timeline) {
		return errors.New("playback: index out of range")
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.generation++
	generation := p.generation
	p.mu.Unlock()

	go p.run(runCtx, generation, index, emit)
	return nil
}

// Stop cancels any in-flight transition.
func (p *Player) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.generation++
	p.mu.Unlock()
}

func (p *Player) run(ctx context.Context, generation uint64, index int, emit func(Frame)) {
	start := time.Now()
	ticker := time.NewTicker(p.frameInterval)
	defer ticker.Stop()

	// Emissions are serialized under the player lock and dropped once a
	// newer transition has started, so cancelled animations never leak a
	// stale frame after their successor begins.
	emitFrame := func(progress float64) bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation != generation {
			return false
		}
		emit(Frame{Index: index, Progress: progress, Devices: timeline.InterpolateFrame(p.timeline, index, progress)})
		return true
	}

	if !emitFrame(0) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			progress := float64(now.Sub(start)) / float64(p.transition)
			if progress >= 1 {
				emitFrame(1)
				return
			}
			if !emitFrame(progress) {
				return
			}
		}
	}
}
