package interfaces

import (
	"context"
	"errors"

	alertapp "moldwatch-cloud/internal/alerts/application"
	wakeevents "moldwatch-cloud/internal/wake/application/events"
)

// WakeReceivedConsumer adapts wake events into the alert application service.
type WakeReceivedConsumer struct {
	app *alertapp.Service
}

// NewWakeReceivedConsumer constructs a consumer.
func NewWakeReceivedConsumer(app *alertapp.Service) (*WakeReceivedConsumer, error) {
	if app == nil {
		return nil, errors.New("alerts consumer: nil service")
	}
	return &WakeReceivedConsumer{app: app}, nil
}

// Consume handles a wake received event.
func (c *WakeReceivedConsumer) Consume(ctx context.Context, event wakeevents.WakeReceived) error {
	return c.app.HandleWakeReceived(ctx, event)
}
