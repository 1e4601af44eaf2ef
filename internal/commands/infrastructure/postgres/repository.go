package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commands "moldwatch-cloud/internal/commands/domain"
)

const defaultCommandsTable = "device_commands"

// CommandRepository is a Postgres implementation for device commands.
type CommandRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*CommandRepository)

// WithTable overrides the commands table name.
func WithTable(table string) Option {
	return func(r *CommandRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB, opts ...Option) *CommandRepository {
	r := &CommandRepository{db: db, table: defaultCommandsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindByIdempotencyKey finds a command by idempotency key within a time window.
func (r *CommandRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string, since time.Time) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if tenantID == "" || key == "" {
		return nil, errors.New("command repo: invalid idempotency query")
	}
	query := fmt.Sprintf(`
SELECT command_id, tenant_id, site_id, device_id, command_type, payload, idempotency_key,
	status, created_at, sent_at, acked_at, error
FROM %s
WHERE tenant_id = $1 AND idempotency_key = $2 AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1`, r.table)
	return scanCommand(r.db.QueryRowContext(ctx, query, tenantID, key, since))
}

// GetByID fetches a command by id.
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT command_id, tenant_id, site_id, device_id, command_type, payload, idempotency_key,
	status, created_at, sent_at, acked_at, error
FROM %s
WHERE command_id = $1
LIMIT 1`, r.table)
	return scanCommand(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return errors.New("command repo: invalid payload")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	command_id, tenant_id, site_id, device_id, command_type, payload, idempotency_key,
	status, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		cmd.CommandID, cmd.TenantID, cmd.SiteID, cmd.DeviceID, cmd.CommandType,
		payload, cmd.IdempotencyKey, cmd.Status, cmd.CreatedAt)
	return err
}

// NextPendingForDevice returns the oldest undelivered command for a device.
func (r *CommandRepository) NextPendingForDevice(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if tenantID == "" || deviceID == "" {
		return nil, errors.New("command repo: invalid pending query")
	}
	query := fmt.Sprintf(`
SELECT command_id, tenant_id, site_id, device_id, command_type, payload, idempotency_key,
	status, created_at, sent_at, acked_at, error
FROM %s
WHERE tenant_id = $1 AND device_id = $2 AND status IN ($3, $4)
ORDER BY created_at ASC
LIMIT 1`, r.table)
	return scanCommand(r.db.QueryRowContext(ctx, query,
		tenantID, deviceID, commands.StatusCreated, commands.StatusSent))
}

// MarkSent marks command as sent.
func (r *CommandRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, sent_at = $2
WHERE command_id = $3`, r.table)
	_, err := r.db.ExecContext(ctx, query, commands.StatusSent, sentAt, id)
	return err
}

// MarkAcked marks command as acked.
func (r *CommandRepository) MarkAcked(ctx context.Context, id string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, acked_at = $2
WHERE command_id = $3`, r.table)
	_, err := r.db.ExecContext(ctx, query, commands.StatusAcked, ackedAt, id)
	return err
}

// MarkFailed marks command as failed.
func (r *CommandRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error = $2
WHERE command_id = $3`, r.table)
	_, err := r.db.ExecContext(ctx, query, commands.StatusFailed, errMsg, id)
	return err
}

// MarkTimeoutBefore marks sent commands older than the cutoff as timed out.
// A sleeping device that never woke to collect its command lands here.
func (r *CommandRepository) MarkTimeoutBefore(ctx context.Context, before time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error = $2
WHERE status = $3 AND sent_at < $4`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		commands.StatusTimeout, "device did not collect command", commands.StatusSent, before)
	if err != nil {
		return 0, err
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}

// ListBySiteAndTime lists commands for a site in a time range.
func (r *CommandRepository) ListBySiteAndTime(ctx context.Context, tenantID, siteID string, from, to time.Time) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT command_id, tenant_id, site_id, device_id, command_type, payload, idempotency_key,
	status, created_at, sent_at, acked_at, error
FROM %s
WHERE tenant_id = $1 AND site_id = $2 AND created_at >= $3 AND created_at < $4
ORDER BY created_at ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID, siteID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var cmd commands.Command
	var payload []byte
	var sentAt sql.NullTime
	var ackedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(
		&cmd.CommandID,
		&cmd.TenantID,
		&cmd.SiteID,
		&cmd.DeviceID,
		&cmd.CommandType,
		&payload,
		&cmd.IdempotencyKey,
		&cmd.Status,
		&cmd.CreatedAt,
		&sentAt,
		&ackedAt,
		&errMsg,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cmd.Payload = payload
	if sentAt.Valid {
		cmd.SentAt = sentAt.Time.UTC()
	}
	if ackedAt.Valid {
		cmd.AckedAt = ackedAt.Time.UTC()
	}
	if errMsg.Valid {
		cmd.Error = errMsg.String
	}
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	return &cmd, nil
}
