package domain

// Status is the lifecycle state of a job record
type Status string

// Job status constants
const (
	JobStatusPending    Status = "PENDING"
	JobStatusProcessing Status = "PROCESSING"
	JobStatusFinished   Status = "FINISHED"
	JobStatusFailed     Status = "FAILED"
	JobStatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusFinished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType describes what kind of work a job performs. It is informational only.
type JobType string

const (
	JobTypeConnectorImport JobType = "connector.import"
	JobTypeConnectorExport JobType = "connector.export"
	JobTypeGeneral         JobType = "general"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeConnectorImport, JobTypeConnectorExport, JobTypeGeneral:
		return true
	}
	return false
}

// Trigger records who caused a job to be created
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

func (t Trigger) Valid() bool {
	return t == TriggerSchedule || t == TriggerManual
}

const (
	// DefaultMaxAttempts is used when neither the caller nor the payload sets a ceiling
	DefaultMaxAttempts = 3

	// PayloadMaxAttemptsKey is the payload field that may carry a handler-specific ceiling
	PayloadMaxAttemptsKey = "maximumAttempts"
)
