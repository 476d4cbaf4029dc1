package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	DefaultListLimit = 100
	// ListCeiling is the hard cap on list results, whatever the caller asks for.
	ListCeiling         = 1000
	DefaultStaleMinutes = 10
)

type ListFilter struct {
	Teams            []string
	Machine          string
	Bridge           string
	Statuses         []TaskStatus
	Priority         int
	MinPriority      int
	MaxPriority      int
	TaskIDContains   string
	CreatedAfter     time.Time
	CreatedBefore    time.Time
	ExcludeCompleted bool
	ExcludeCancelled bool
	StaleOnly        bool
	StaleAfter       time.Duration
	Limit            int
}

// SortNewestFirst orders tasks by creation time, newest first.
func SortNewestFirst(tasks []Task) {
	slices.SortStableFunc(tasks, func(a, b Task) int { return b.CreatedAt.Compare(a.CreatedAt) })
}

// ClampLimit applies the default and the hard ceiling to a requested limit.
func ClampLimit(requested, ceiling int) int {
	if ceiling <= 0 || ceiling > ListCeiling {
		ceiling = ListCeiling
	}
	if requested <= 0 {
		requested = DefaultListLimit
	}
	return min(requested, ceiling)
}

func (f ListFilter) Validate() error {
	for _, p := range []int{f.Priority, f.MinPriority, f.MaxPriority} {
		if p == 0 {
			continue
		}
		if err := ValidatePriority(p); err != nil {
			return err
		}
	}
	if f.MinPriority != 0 && f.MaxPriority != 0 && f.MinPriority > f.MaxPriority {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("min %d is greater than max %d", f.MinPriority, f.MaxPriority)}
	}
	if !f.CreatedAfter.IsZero() && !f.CreatedBefore.IsZero() && f.CreatedAfter.After(f.CreatedBefore) {
		return &ValidationError{Field: "date range", Message: "start is after end"}
	}
	return nil
}

// Match reports whether t passes every set criterion. now is used for staleness.
func (f ListFilter) Match(t *Task, now time.Time) bool {
	if len(f.Teams) > 0 && !slices.Contains(f.Teams, t.Team) {
		return false
	}
	if f.Machine != "" && t.Machine != f.Machine {
		return false
	}
	if f.Bridge != "" && t.Bridge != f.Bridge {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.Priority != 0 && t.Priority != f.Priority {
		return false
	}
	if f.MinPriority != 0 && t.Priority < f.MinPriority {
		return false
	}
	if f.MaxPriority != 0 && t.Priority > f.MaxPriority {
		return false
	}
	if f.TaskIDContains != "" && !strings.Contains(strings.ToLower(t.ID), strings.ToLower(f.TaskIDContains)) {
		return false
	}
	if !f.CreatedAfter.IsZero() && t.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && t.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	if f.ExcludeCompleted && t.Status == StatusCompleted {
		return false
	}
	if f.ExcludeCancelled && t.Status == StatusCancelled {
		return false
	}
	if f.StaleOnly {
		threshold := f.StaleAfter
		if threshold <= 0 {
			threshold = DefaultStaleMinutes * time.Minute
		}
		if t.Status != StatusProcessing || now.Sub(t.processingSince()) < threshold {
			return false
		}
	}
	return true
}

// processingSince is when the task was claimed. Progress updates do not
// move it.
func (t *Task) processingSince() time.Time {
	if t.PickedAt != nil {
		return *t.PickedAt
	}
	return t.UpdatedAt
}
