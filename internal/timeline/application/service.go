package application

import (
	"context"
	"errors"
	"time"

	"moldwatch-cloud/internal/auth"
	"moldwatch-cloud/internal/eventing"
	"moldwatch-cloud/internal/observability/metrics"
	timeline "moldwatch-cloud/internal/timeline/domain"
	wakeevents "moldwatch-cloud/internal/wake/application/events"
	wake "moldwatch-cloud/internal/wake/domain"
)

// Service rebuilds reconciled site timelines from stored wake reports.
type Service struct {
	query      wake.SnapshotQuery
	reconciler *timeline.Reconciler
	publisher  *eventing.Publisher
	tenantID   string
}

// NewService constructs a timeline service.
func NewService(query wake.SnapshotQuery, reconciler *timeline.Reconciler, publisher *eventing.Publisher, tenantID string) (*Service, error) {
	if query == nil {
		return nil, errors.New("timeline service: nil snapshot query")
	}
	if reconciler == nil {
		reconciler = timeline.NewReconciler()
	}
	if tenantID == "" {
		return nil, errors.New("timeline service: empty tenant id")
	}
	return &Service{query: query, reconciler: reconciler, publisher: publisher, tenantID: tenantID}, nil
}

// Timeline loads snapshots for a site in [from, to) and reconciles them.
func (s *Service) Timeline(ctx context.Context, siteID string, from, to time.Time) ([]timeline.ReconciledSnapshot, error) {
	if siteID == "" {
		return nil, errors.New("timeline service: site id required")
	}
	if !to.After(from) {
		return nil, errors.New("timeline service: to must be after from")
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}

	started := time.Now()
	snapshots, err := s.query.QuerySnapshots(ctx, tenantID, siteID, from.UTC(), to.UTC())
	if err != nil {
		metrics.ObserveReconcile(metrics.ResultError, time.Since(started))
		return nil, err
	}

	reconciled := s.reconciler.Reconcile(snapshots)
	metrics.ObserveReconcile(metrics.ResultSuccess, time.Since(started))

	degraded := 0
	for _, snapshot := range reconciled {
		if snapshot.Degraded {
			degraded++
		}
	}
	metrics.AddDegradedSnapshots(degraded)
	if latest := latestDeviceCount(reconciled); latest >= 0 {
		metrics.SetSnapshotDevices(siteID, latest)
	}

	s.publishReconciled(ctx, tenantID, siteID, reconciled, degraded)
	return reconciled, nil
}

func (s *Service) publishReconciled(ctx context.Context, tenantID, siteID string, reconciled []timeline.ReconciledSnapshot, degraded int) {
	if s.publisher == nil || len(reconciled) == 0 {
		return
	}
	event := wakeevents.SnapshotReconciled{
		TenantID:   tenantID,
		SiteID:     siteID,
		FirstWake:  reconciled[0].WakeNumber,
		LastWake:   reconciled[len(reconciled)-1].WakeNumber,
		Snapshots:  len(reconciled),
		Degraded:   degraded,
		OccurredAt: time.Now().UTC(),
	}
	ctx = eventing.WithTenantID(ctx, tenantID)
	_ = s.publisher.Publish(ctx, event)
}

// latestDeviceCount returns the device count of the newest non-degraded
// snapshot, or -1 when every snapshot is degraded or none exist.
func latestDeviceCount(reconciled []timeline.ReconciledSnapshot) int {
	for i := len(reconciled) - 1; i >= 0; i-- {
		if !reconciled[i].Degraded {
			return len(reconciled[i].Devices)
		}
	}
	return -1
}
