package domain

import (
	"encoding/json"
	"time"
)

// JobRecord is the durable row representing one schedulable unit of work
type JobRecord struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	JobType        JobType         `json:"jobType"`
	TriggeredBy    Trigger         `json:"triggeredBy"`
	Payload        json.RawMessage `json:"payload"`
	ScheduledAt    time.Time       `json:"scheduledAt"`
	ProcessedAt    *time.Time      `json:"processedAt"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	ErrorMessage   *string         `json:"errorMessage"`
	RequestedBy    string          `json:"requestedBy"`
	LeaseOwner     *string         `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CanRetry reports whether another attempt is allowed under the record's own ceiling
func (j *JobRecord) CanRetry() bool {
	return j.MaxAttempts > 0 && j.Attempts < j.MaxAttempts
}

// PayloadMaxAttempts extracts the optional retry ceiling declared inside a payload.
// It returns 0 when the payload is empty, not an object, or the field is not a positive integer.
func PayloadMaxAttempts(payload json.RawMessage) int {
	if len(payload) == 0 {
		return 0
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0
	}

	v, ok := fields[PayloadMaxAttemptsKey].(float64)
	if !ok || v < 1 || v != float64(int(v)) {
		return 0
	}
	return int(v)
}

// ResolveMaxAttempts picks the authoritative ceiling stored on a new record:
// an explicit value wins, then the payload declaration, then the fallback.
func ResolveMaxAttempts(explicit int, payload json.RawMessage, fallback int) int {
	if explicit > 0 {
		return explicit
	}
	if n := PayloadMaxAttempts(payload); n > 0 {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxAttempts
}
