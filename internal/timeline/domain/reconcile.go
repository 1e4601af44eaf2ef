package timeline

import (
	"log"
)

// Reconciler folds an ascending-time-ordered snapshot sequence into a
// continuous timeline: every device that has ever reported a valid position
// appears in every later snapshot, with missing fields backfilled from the
// most recent known value (last observation carried forward).
type Reconciler struct {
	logger *log.Logger
}

// ReconcilerOption customizes the reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler constructs a reconciler.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// deviceCache is the per-run LOCF state, keyed by device id with first-seen
// ordering preserved so output device lists are deterministic.
type deviceCache struct {
	entries map[string]*DeviceObservation
	order   []string
}

func newDeviceCache() *deviceCache {
	return &deviceCache{entries: make(map[string]*DeviceObservation)}
}

// Reconcile produces an equal-length reconciled timeline. A snapshot whose
// site_state cannot be parsed is passed through unchanged (Degraded set) and
// processing continues with the cache as of the last good snapshot.
func (r *Reconciler) Reconcile(snapshots []WakeSnapshot) []ReconciledSnapshot {
	cache := newDeviceCache()
	out := make([]ReconciledSnapshot, 0, len(snapshots))

	for _, snapshot := range snapshots {
		observations, err := ParseSiteState(snapshot.SiteState)
		if err != nil {
			r.logger.Printf("timeline reconcile: wake %d: site_state parse error: %v", snapshot.WakeNumber, err)
			out = append(out, ReconciledSnapshot{
				WakeNumber:     snapshot.WakeNumber,
				WakeRoundStart: snapshot.WakeRoundStart,
				Degraded:       true,
				SiteState:      snapshot.SiteState,
			})
			continue
		}

		for _, obs := range observations {
			cache.merge(obs)
		}

		out = append(out, ReconciledSnapshot{
			WakeNumber:     snapshot.WakeNumber,
			WakeRoundStart: snapshot.WakeRoundStart,
			Devices:        cache.placed(),
		})
	}
	return out
}

// merge applies the LOCF rules for one observation.
func (c *deviceCache) merge(obs DeviceObservation) {
	if obs.DeviceID == "" {
		return
	}

	entry, ok := c.entries[obs.DeviceID]
	if !ok {
		entry = &DeviceObservation{DeviceID: obs.DeviceID}
		c.entries[obs.DeviceID] = entry
		c.order = append(c.order, obs.DeviceID)
	}

	// Position is write-once: the first valid pair freezes the device on
	// the map for the rest of the timeline.
	if entry.Position == nil && obs.Position.Valid() {
		pos := *obs.Position
		entry.Position = &pos
	}

	if obs.DeviceCode != "" {
		entry.DeviceCode = obs.DeviceCode
	}
	if obs.DeviceName != "" {
		entry.DeviceName = obs.DeviceName
	}
	if obs.Status != "" {
		entry.Status = obs.Status
	}
	if entry.Status == "" {
		entry.Status = DefaultStatus
	}
	if obs.LastSeenAt != "" {
		entry.LastSeenAt = obs.LastSeenAt
	}
	if obs.BatteryHealthPercent != nil {
		entry.BatteryHealthPercent = cloneFloat(obs.BatteryHealthPercent)
	}

	// Telemetry merges field by field, but only when the incoming object
	// carries at least one reading; an all-null object leaves the cached
	// sub-object untouched.
	if !obs.Telemetry.Empty() {
		if entry.Telemetry == nil {
			entry.Telemetry = &Telemetry{}
		}
		if obs.Telemetry.Temperature != nil {
			entry.Telemetry.Temperature = cloneFloat(obs.Telemetry.Temperature)
		}
		if obs.Telemetry.Humidity != nil {
			entry.Telemetry.Humidity = cloneFloat(obs.Telemetry.Humidity)
		}
		if obs.Telemetry.Pressure != nil {
			entry.Telemetry.Pressure = cloneFloat(obs.Telemetry.Pressure)
		}
	}

	// MGI score and velocity travel as a unit: an incoming state with any
	// sub-field present replaces the cached pair wholesale.
	if !obs.MGIState.Empty() {
		mgi := MGIState{CurrentMGI: cloneFloat(obs.MGIState.CurrentMGI)}
		if obs.MGIState.MGIVelocity != nil {
			mgi.MGIVelocity = &MGIVelocity{PerHour: cloneFloat(obs.MGIState.MGIVelocity.PerHour)}
		}
		entry.MGIState = &mgi
	}
}

// placed returns a copy of every cached device that has a valid position, in
// first-seen order.
func (c *deviceCache) placed() []DeviceObservation {
	devices := make([]DeviceObservation, 0, len(c.order))
	for _, id := range c.order {
		entry := c.entries[id]
		if !entry.Position.Valid() {
			continue
		}
		devices = append(devices, entry.Clone())
	}
	return devices
}
