package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

// SnapshotQuery assembles wake snapshots from stored per-device reports.
type SnapshotQuery struct {
	db    *sql.DB
	table string
}

// NewSnapshotQuery constructs a query with the default table name.
func NewSnapshotQuery(db *sql.DB, opts ...QueryOption) *SnapshotQuery {
	query := &SnapshotQuery{db: db, table: defaultReportTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the snapshot query.
type QueryOption func(*SnapshotQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *SnapshotQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// QuerySnapshots returns one snapshot per wake round within [from, to),
// ordered by wake round start. Each snapshot's site state is the JSON
// array of device observations reported during that round.
func (q *SnapshotQuery) QuerySnapshots(ctx context.Context, tenantID, siteID string, from, to time.Time) ([]timeline.WakeSnapshot, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("snapshot query: nil db")
	}
	if tenantID == "" || siteID == "" {
		return nil, errors.New("snapshot query: invalid arguments")
	}

	query := fmt.Sprintf(`
SELECT wake_number, wake_round_start, observation
FROM %s
WHERE tenant_id = $1
	AND site_id = $2
	AND wake_round_start >= $3
	AND wake_round_start < $4
ORDER BY wake_round_start ASC, wake_number ASC, device_id ASC`, q.table)

	rows, err := q.db.QueryContext(ctx, query, tenantID, siteID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type round struct {
		start        time.Time
		observations []timeline.DeviceObservation
	}

	byWake := make(map[int]*round)
	order := make([]int, 0)

	for rows.Next() {
		var wakeNumber int
		var start time.Time
		var raw []byte
		if err := rows.Scan(&wakeNumber, &start, &raw); err != nil {
			return nil, err
		}
		var obs timeline.DeviceObservation
		if err := json.Unmarshal(raw, &obs); err != nil {
			return nil, fmt.Errorf("snapshot query: decode observation: %w", err)
		}
		entry := byWake[wakeNumber]
		if entry == nil {
			entry = &round{start: start}
			byWake[wakeNumber] = entry
			order = append(order, wakeNumber)
		}
		if start.Before(entry.start) {
			entry.start = start
		}
		entry.observations = append(entry.observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(order, func(i, j int) bool {
		return byWake[order[i]].start.Before(byWake[order[j]].start)
	})

	snapshots := make([]timeline.WakeSnapshot, 0, len(order))
	for _, wakeNumber := range order {
		entry := byWake[wakeNumber]
		state, err := json.Marshal(entry.observations)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, timeline.WakeSnapshot{
			WakeNumber:     wakeNumber,
			WakeRoundStart: entry.start,
			SiteState:      state,
		})
	}
	return snapshots, nil
}
