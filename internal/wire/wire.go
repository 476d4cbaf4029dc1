// Package wire holds the JSON and query encodings shared by the queue
// HTTP server and its client.
package wire

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"bridgeq/internal/domain"
)

const Prefix = "/v1"

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PayloadBody struct {
	Payload domain.Payload `json:"payload,omitempty"`
}

type TaskList struct {
	Tasks []domain.Task `json:"tasks"`
}

type FunctionList struct {
	Functions []domain.FunctionSpec `json:"functions"`
}

// EncodeFilter renders a filter as query parameters; zero fields are omitted.
func EncodeFilter(f domain.ListFilter) url.Values {
	q := url.Values{}
	for _, team := range f.Teams {
		q.Add("team", team)
	}
	for _, s := range f.Statuses {
		q.Add("status", string(s))
	}
	setString(q, "machine", f.Machine)
	setString(q, "bridge", f.Bridge)
	setString(q, "task_id", f.TaskIDContains)
	setInt(q, "priority", f.Priority)
	setInt(q, "min_priority", f.MinPriority)
	setInt(q, "max_priority", f.MaxPriority)
	setInt(q, "limit", f.Limit)
	if !f.CreatedAfter.IsZero() {
		q.Set("created_after", f.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if !f.CreatedBefore.IsZero() {
		q.Set("created_before", f.CreatedBefore.UTC().Format(time.RFC3339))
	}
	setBool(q, "exclude_completed", f.ExcludeCompleted)
	setBool(q, "exclude_cancelled", f.ExcludeCancelled)
	setBool(q, "stale_only", f.StaleOnly)
	if f.StaleAfter > 0 {
		q.Set("stale_seconds", strconv.Itoa(int(f.StaleAfter/time.Second)))
	}
	return q
}

// DecodeFilter is the inverse of EncodeFilter.
func DecodeFilter(q url.Values) (domain.ListFilter, error) {
	f := domain.ListFilter{
		Teams:            q["team"],
		Machine:          q.Get("machine"),
		Bridge:           q.Get("bridge"),
		TaskIDContains:   q.Get("task_id"),
		ExcludeCompleted: q.Get("exclude_completed") == "true",
		ExcludeCancelled: q.Get("exclude_cancelled") == "true",
		StaleOnly:        q.Get("stale_only") == "true",
	}
	for _, raw := range q["status"] {
		s, err := domain.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, s)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"priority", &f.Priority},
		{"min_priority", &f.MinPriority},
		{"max_priority", &f.MaxPriority},
		{"limit", &f.Limit},
	}
	for _, it := range ints {
		raw := q.Get(it.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, &domain.ValidationError{Field: it.key, Message: fmt.Sprintf("not a number: %q", raw)}
		}
		*it.dst = v
	}

	if raw := q.Get("stale_seconds"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, &domain.ValidationError{Field: "stale_seconds", Message: fmt.Sprintf("not a number: %q", raw)}
		}
		f.StaleAfter = time.Duration(v) * time.Second
	}

	var err error
	if f.CreatedAfter, err = parseTime(q, "created_after"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = parseTime(q, "created_before"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: key, Message: err.Error()}
	}
	return t, nil
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func setInt(q url.Values, key string, v int) {
	if v != 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

func setBool(q url.Values, key string, v bool) {
	if v {
		q.Set(key, "true")
	}
}
