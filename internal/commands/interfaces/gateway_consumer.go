package interfaces

import (
	"context"
	"errors"
	"log"
	"time"

	commandsevents "moldwatch-cloud/internal/commands/application/events"
	commandsrepo "moldwatch-cloud/internal/commands/infrastructure/postgres"
	"moldwatch-cloud/internal/devicecloud"
	"moldwatch-cloud/internal/eventing"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	"moldwatch-cloud/internal/observability/metrics"
)

// DeviceResolver maps device ids to registration records.
type DeviceResolver interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// GatewayConsumer forwards issued commands to the LAN gateway mailbox
// and updates command statuses.
type GatewayConsumer struct {
	repo      *commandsrepo.CommandRepository
	gateway   *devicecloud.Client
	devices   DeviceResolver
	publisher *eventing.Publisher
	logger    *log.Logger
}

// NewGatewayConsumer constructs a consumer.
func NewGatewayConsumer(repo *commandsrepo.CommandRepository, gateway *devicecloud.Client, devices DeviceResolver, publisher *eventing.Publisher, logger *log.Logger) (*GatewayConsumer, error) {
	if repo == nil || gateway == nil || devices == nil || publisher == nil {
		return nil, errors.New("gateway consumer: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GatewayConsumer{repo: repo, gateway: gateway, devices: devices, publisher: publisher, logger: logger}, nil
}

// HandleCommandIssued handles CommandIssued events.
func (c *GatewayConsumer) HandleCommandIssued(ctx context.Context, event any) error {
	evt, ok := event.(commandsevents.CommandIssued)
	if !ok {
		if ptr, ok := event.(*commandsevents.CommandIssued); ok && ptr != nil {
			evt = *ptr
		} else {
			return nil
		}
	}

	device, err := c.devices.Get(ctx, evt.DeviceID)
	if err != nil {
		return err
	}
	if device == nil || device.MAC == "" {
		message := "device has no registered mac"
		_ = c.repo.MarkFailed(ctx, evt.CommandID, message)
		return c.publishFailed(ctx, evt, message)
	}

	now := time.Now().UTC()
	if err := c.repo.MarkSent(ctx, evt.CommandID, now); err != nil {
		return err
	}

	resp, err := c.gateway.QueueCommand(ctx, device.MAC, evt.CommandID, evt.CommandType, evt.Payload)
	if err != nil {
		_ = c.repo.MarkFailed(ctx, evt.CommandID, err.Error())
		return c.publishFailed(ctx, evt, err.Error())
	}
	switch resp.Status {
	case "failed":
		message := resp.Error
		if message == "" {
			message = "gateway rejected command"
		}
		_ = c.repo.MarkFailed(ctx, evt.CommandID, message)
		return c.publishFailed(ctx, evt, message)
	case "acked":
		// Device was awake and executed immediately.
		if err := c.repo.MarkAcked(ctx, evt.CommandID, now); err != nil {
			return err
		}
		return c.publishAcked(ctx, evt)
	}

	// Queued commands stay "sent" until the device wakes and acks, or
	// the timeout scanner expires them.
	c.logger.Printf("gateway queued: command=%s status=%s", evt.CommandID, resp.Status)
	return nil
}

func (c *GatewayConsumer) publishAcked(ctx context.Context, evt commandsevents.CommandIssued) error {
	eventID := eventing.NewEventID()
	ack := commandsevents.CommandAcked{
		EventID:    eventID,
		CommandID:  evt.CommandID,
		TenantID:   evt.TenantID,
		SiteID:     evt.SiteID,
		DeviceID:   evt.DeviceID,
		OccurredAt: time.Now().UTC(),
	}
	metrics.IncCommandResult(metrics.CommandResultAcked)
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithTenantID(ctx, evt.TenantID)
	return c.publisher.Publish(ctx, ack)
}

func (c *GatewayConsumer) publishFailed(ctx context.Context, evt commandsevents.CommandIssued, message string) error {
	eventID := eventing.NewEventID()
	failed := commandsevents.CommandFailed{
		EventID:    eventID,
		CommandID:  evt.CommandID,
		TenantID:   evt.TenantID,
		SiteID:     evt.SiteID,
		DeviceID:   evt.DeviceID,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	}
	metrics.IncCommandResult(metrics.CommandResultFailed)
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithTenantID(ctx, evt.TenantID)
	return c.publisher.Publish(ctx, failed)
}
