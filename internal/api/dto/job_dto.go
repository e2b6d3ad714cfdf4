package dto

import (
	"encoding/json"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
)

// ListJobsRequest carries the admin list/count filters
type ListJobsRequest struct {
	Status      string `form:"status"`
	JobType     string `form:"jobType"`
	TriggeredBy string `form:"triggeredBy"`
	FromDate    string `form:"fromDate"`
	ToDate      string `form:"toDate"`
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
}

type JobDTO struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	JobType      string          `json:"jobType"`
	TriggeredBy  string          `json:"triggeredBy"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledAt  string          `json:"scheduledAt"`
	ProcessedAt  *string         `json:"processedAt"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	ErrorMessage *string         `json:"errorMessage"`
	RequestedBy  string          `json:"requestedBy"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// NewJobDTO converts a job record to its API representation
func NewJobDTO(job *domain.JobRecord) JobDTO {
	out := JobDTO{
		ID:           job.ID,
		Name:         job.Name,
		JobType:      string(job.JobType),
		TriggeredBy:  string(job.TriggeredBy),
		Payload:      job.Payload,
		ScheduledAt:  job.ScheduledAt.Format(time.RFC3339Nano),
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		ErrorMessage: job.ErrorMessage,
		RequestedBy:  job.RequestedBy,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if len(out.Payload) == 0 {
		out.Payload = json.RawMessage("{}")
	}
	if job.ProcessedAt != nil {
		processed := job.ProcessedAt.Format(time.RFC3339Nano)
		out.ProcessedAt = &processed
	}
	return out
}

// NewJobDTOs converts a slice of job records
func NewJobDTOs(jobs []*domain.JobRecord) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = NewJobDTO(job)
	}
	return out
}
