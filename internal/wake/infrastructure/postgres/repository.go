package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	wake "moldwatch-cloud/internal/wake/domain"
)

const defaultReportTable = "wake_reports"

// ReportRepository is a Postgres implementation for wake reports.
type ReportRepository struct {
	db    *sql.DB
	table string
}

// NewReportRepository constructs a repository with the default table name.
func NewReportRepository(db *sql.DB, opts ...RepositoryOption) *ReportRepository {
	repo := &ReportRepository{db: db, table: defaultReportTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReportRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReportRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertReports upserts wake reports. Re-delivered reports for the same
// device and wake round overwrite the stored observation.
func (r *ReportRepository) InsertReports(ctx context.Context, reports []wake.Report) error {
	if r == nil || r.db == nil {
		return errors.New("wake repo: nil db")
	}
	if len(reports) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id,
	site_id,
	device_id,
	wake_number,
	wake_round_start,
	observation
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (tenant_id, site_id, device_id, wake_number)
DO UPDATE SET
	wake_round_start = EXCLUDED.wake_round_start,
	observation = EXCLUDED.observation,
	updated_at = NOW()`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, report := range reports {
		if err := report.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		observation, err := json.Marshal(report.Observation)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			report.TenantID,
			report.SiteID,
			report.DeviceID,
			report.WakeNumber,
			report.WakeRoundStart,
			observation,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
