package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/api/dto"
	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	dateLayout      = "2006-01-02"
)

// parseJobID parses the :id path parameter
func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return id, nil
}

// buildFilter validates list query parameters. Paging is only applied when paged is set.
func buildFilter(req *dto.ListJobsRequest, paged bool) (storage.Filter, error) {
	var filter storage.Filter

	if req.Status != "" {
		status := domain.Status(strings.ToUpper(req.Status))
		if !status.Valid() {
			return filter, fmt.Errorf("invalid status: %s", req.Status)
		}
		filter.Status = status
	}

	if req.JobType != "" {
		jobType := domain.JobType(req.JobType)
		if !jobType.Valid() {
			return filter, fmt.Errorf("invalid jobType: %s", req.JobType)
		}
		filter.JobType = jobType
	}

	if req.TriggeredBy != "" {
		trigger := domain.Trigger(req.TriggeredBy)
		if !trigger.Valid() {
			return filter, fmt.Errorf("invalid triggeredBy: %s", req.TriggeredBy)
		}
		filter.TriggeredBy = trigger
	}

	if req.FromDate != "" {
		from, _, err := parseDate(req.FromDate)
		if err != nil {
			return filter, fmt.Errorf("invalid fromDate: %w", err)
		}
		filter.ScheduledFrom = &from
	}

	if req.ToDate != "" {
		to, dateOnly, err := parseDate(req.ToDate)
		if err != nil {
			return filter, fmt.Errorf("invalid toDate: %w", err)
		}
		if dateOnly {
			// a bare date includes the whole day
			to = to.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		filter.ScheduledTo = &to
	}

	if filter.ScheduledFrom != nil && filter.ScheduledTo != nil && filter.ScheduledFrom.After(*filter.ScheduledTo) {
		return filter, fmt.Errorf("fromDate must not be after toDate")
	}

	if paged {
		if req.Page < 0 || req.PageSize < 0 {
			return filter, fmt.Errorf("page and pageSize must not be negative")
		}
		filter.Page = req.Page
		if filter.Page == 0 {
			filter.Page = 1
		}
		filter.PageSize = req.PageSize
		if filter.PageSize == 0 {
			filter.PageSize = defaultPageSize
		}
		if filter.PageSize > maxPageSize {
			filter.PageSize = maxPageSize
		}
	}

	return filter, nil
}

// parseDate accepts RFC 3339 timestamps or bare dates (UTC)
func parseDate(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, true, nil
}
