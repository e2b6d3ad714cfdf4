package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	id, name, job_type, triggered_by, payload, scheduled_at, processed_at,
	status, attempts, max_attempts, error_message, requested_by,
	lease_owner, lease_expires_at, created_at, updated_at`

// Storage handles all database operations for job records
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

type jobRow struct {
	ID             int64      `db:"id"`
	Name           string     `db:"name"`
	JobType        string     `db:"job_type"`
	TriggeredBy    string     `db:"triggered_by"`
	Payload        string     `db:"payload"`
	ScheduledAt    time.Time  `db:"scheduled_at"`
	ProcessedAt    *time.Time `db:"processed_at"`
	Status         string     `db:"status"`
	Attempts       int        `db:"attempts"`
	MaxAttempts    int        `db:"max_attempts"`
	ErrorMessage   *string    `db:"error_message"`
	RequestedBy    string     `db:"requested_by"`
	LeaseOwner     *string    `db:"lease_owner"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r *jobRow) toDomain() *domain.JobRecord {
	return &domain.JobRecord{
		ID:             r.ID,
		Name:           r.Name,
		JobType:        domain.JobType(r.JobType),
		TriggeredBy:    domain.Trigger(r.TriggeredBy),
		Payload:        json.RawMessage(r.Payload),
		ScheduledAt:    r.ScheduledAt.UTC(),
		ProcessedAt:    utcPtr(r.ProcessedAt),
		Status:         domain.Status(r.Status),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		ErrorMessage:   r.ErrorMessage,
		RequestedBy:    r.RequestedBy,
		LeaseOwner:     r.LeaseOwner,
		LeaseExpiresAt: utcPtr(r.LeaseExpiresAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

// Insert stores a new job record and returns it with the database-assigned ID
func (s *Storage) Insert(ctx context.Context, job *domain.JobRecord) (*domain.JobRecord, error) {
	query := s.db.Rebind(`
		INSERT INTO job_queue (
			name, job_type, triggered_by, payload, scheduled_at,
			status, attempts, max_attempts, requested_by,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)
		RETURNING id
	`)

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	now := Timestamp(time.Now())
	created := *job
	created.Payload = json.RawMessage(payload)
	created.ScheduledAt = Timestamp(job.ScheduledAt)
	created.CreatedAt = now
	created.UpdatedAt = now

	err := s.db.QueryRowxContext(
		ctx,
		query,
		created.Name,
		string(created.JobType),
		string(created.TriggeredBy),
		payload,
		created.ScheduledAt,
		string(created.Status),
		created.Attempts,
		created.MaxAttempts,
		created.RequestedBy,
		created.CreatedAt,
		created.UpdatedAt,
	).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Debug("Job inserted",
		slog.Int64("job_id", created.ID),
		slog.String("name", created.Name),
	)

	return &created, nil
}

// GetByID retrieves a job from the database by its ID
func (s *Storage) GetByID(ctx context.Context, id int64) (*domain.JobRecord, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job_queue WHERE id = ?`)

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// ListByFilter returns the jobs matching filter, newest scheduled first unless
// filter.Ascending is set.
func (s *Storage) ListByFilter(ctx context.Context, filter Filter) ([]*domain.JobRecord, error) {
	where, args := filter.where()

	query := `SELECT ` + jobColumns + ` FROM job_queue` + where

	if filter.Ascending {
		query += " ORDER BY scheduled_at ASC, id ASC"
	} else {
		query += " ORDER BY scheduled_at DESC, id DESC"
	}

	if limit, offset := filter.window(); limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.JobRecord, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

// Count returns the number of jobs matching filter. Paging fields are ignored.
func (s *Storage) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := filter.where()

	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM job_queue`+where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// UpdateFields applies a partial update to one job and returns the number of
// rows changed. Guards in upd turn it into a compare-and-set: zero rows means
// the job is missing or no longer in the expected state.
func (s *Storage) UpdateFields(ctx context.Context, id int64, upd Update) (int64, error) {
	sets, args := upd.assignments()
	sets = append(sets, "updated_at = ?")
	args = append(args, Timestamp(time.Now()))

	query := "UPDATE job_queue SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	guards, guardArgs := upd.guards()
	for _, g := range guards {
		query += " AND " + g
	}
	args = append(args, guardArgs...)

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Debug("Job update - no rows affected",
			slog.Int64("job_id", id),
		)
	}

	return rowsAffected, nil
}

// DeleteWhere removes every job matching pred and returns how many were deleted
func (s *Storage) DeleteWhere(ctx context.Context, pred Predicate) (int64, error) {
	conds, args := pred.conditions()
	if len(conds) == 0 {
		return 0, fmt.Errorf("failed to delete jobs: empty predicate")
	}

	query := "DELETE FROM job_queue WHERE " + strings.Join(conds, " AND ")

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Timestamp normalises t to the precision and zone every supported database stores
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
