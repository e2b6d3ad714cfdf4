package storage

import (
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
)

// Filter selects job records for ListByFilter and Count.
// Zero-valued fields do not constrain the query.
type Filter struct {
	Status        domain.Status
	JobType       domain.JobType
	TriggeredBy   domain.Trigger
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time

	// LeaseExpiredBefore matches jobs whose lease deadline is earlier than the given time
	LeaseExpiredBefore *time.Time

	Ascending bool

	// Page is 1-based and only used together with PageSize
	Page     int
	PageSize int

	// Limit caps the result when PageSize is not set
	Limit int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	if f.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(f.JobType))
	}

	if f.TriggeredBy != "" {
		conds = append(conds, "triggered_by = ?")
		args = append(args, string(f.TriggeredBy))
	}

	if f.ScheduledFrom != nil {
		conds = append(conds, "scheduled_at >= ?")
		args = append(args, Timestamp(*f.ScheduledFrom))
	}

	if f.ScheduledTo != nil {
		conds = append(conds, "scheduled_at <= ?")
		args = append(args, Timestamp(*f.ScheduledTo))
	}

	if f.LeaseExpiredBefore != nil {
		conds = append(conds, "lease_expires_at IS NOT NULL AND lease_expires_at < ?")
		args = append(args, Timestamp(*f.LeaseExpiredBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) window() (limit, offset int) {
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		return f.PageSize, (page - 1) * f.PageSize
	}
	if f.Limit > 0 {
		return f.Limit, 0
	}
	return 0, 0
}

// Update is a partial update of a job record. Nil pointers leave the column unchanged.
type Update struct {
	Status         *domain.Status
	ScheduledAt    *time.Time
	ProcessedAt    *time.Time
	ErrorMessage   *string
	LeaseOwner     *string
	LeaseExpiresAt *time.Time

	ClearErrorMessage bool
	ClearLease        bool
	IncrementAttempts bool

	// IfStatus restricts the update to jobs currently in one of these statuses
	IfStatus []domain.Status
	// IfAttemptsBelow restricts the update to jobs with attempts < the value, when positive
	IfAttemptsBelow int
	// IfLeaseOwner restricts the update to jobs leased by the given owner
	IfLeaseOwner *string
}

func (u Update) assignments() ([]string, []any) {
	var sets []string
	var args []any

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}

	if u.ScheduledAt != nil {
		sets = append(sets, "scheduled_at = ?")
		args = append(args, Timestamp(*u.ScheduledAt))
	}

	if u.ProcessedAt != nil {
		sets = append(sets, "processed_at = ?")
		args = append(args, Timestamp(*u.ProcessedAt))
	}

	switch {
	case u.ErrorMessage != nil:
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	case u.ClearErrorMessage:
		sets = append(sets, "error_message = NULL")
	}

	switch {
	case u.ClearLease:
		sets = append(sets, "lease_owner = NULL", "lease_expires_at = NULL")
	default:
		if u.LeaseOwner != nil {
			sets = append(sets, "lease_owner = ?")
			args = append(args, *u.LeaseOwner)
		}
		if u.LeaseExpiresAt != nil {
			sets = append(sets, "lease_expires_at = ?")
			args = append(args, Timestamp(*u.LeaseExpiresAt))
		}
	}

	if u.IncrementAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}

	return sets, args
}

func (u Update) guards() ([]string, []any) {
	var conds []string
	var args []any

	if len(u.IfStatus) > 0 {
		placeholders := make([]string, len(u.IfStatus))
		for i, s := range u.IfStatus {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if u.IfAttemptsBelow > 0 {
		conds = append(conds, "attempts < ?")
		args = append(args, u.IfAttemptsBelow)
	}

	if u.IfLeaseOwner != nil {
		conds = append(conds, "lease_owner = ?")
		args = append(args, *u.IfLeaseOwner)
	}

	return conds, args
}

// Predicate selects rows for DeleteWhere. At least one field must be set.
type Predicate struct {
	Status          domain.Status
	ProcessedBefore *time.Time
}

func (p Predicate) conditions() ([]string, []any) {
	var conds []string
	var args []any

	if p.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(p.Status))
	}

	if p.ProcessedBefore != nil {
		conds = append(conds, "processed_at IS NOT NULL AND processed_at < ?")
		args = append(args, Timestamp(*p.ProcessedBefore))
	}

	return conds, args
}
