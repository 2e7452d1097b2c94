package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus reports whether s is one of the known status literals.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOpen, StatusInProgress, StatusDone:
		return Status(s), true
	default:
		return "", false
	}
}

// StatusRank is one entry of the lifecycle ordering used when sorting by
// status. The ordering is domain progression, not lexical order of the
// literals.
type StatusRank struct {
	Status Status
	Rank   int
}

// StatusRanks returns the explicit ordered rank mapping: open=1,
// in_progress=2, done=3.
func StatusRanks() []StatusRank {
	return []StatusRank{
		{StatusOpen, 1},
		{StatusInProgress, 2},
		{StatusDone, 3},
	}
}

// TimeLayout is the stored timestamp representation: fixed-width UTC
// ISO-8601 with microseconds and a literal Z. Fixed width keeps lexical
// order equal to temporal order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// NowUTC returns the current time in the stored representation.
func NowUTC() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Task represents a tracked task record.
type Task struct {
	ID          string  `db:"id" json:"id"`
	Title       string  `db:"title" json:"title"`
	Description *string `db:"description" json:"description"`
	Status      Status  `db:"status" json:"status"`
	CreatedAt   string  `db:"created_at" json:"created_at"`
	UpdatedAt   string  `db:"updated_at" json:"updated_at"`
}

// TaskInput is the request body for creating or fully replacing a task.
// Status is a pointer so an absent key (defaulted to open) can be told apart
// from an explicit empty or bad value (rejected).
type TaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      *Status `json:"status"`
}

// Validate checks the input against the write rules shared by create,
// replace and patch-merge. It accumulates every violation found. Title
// length counts characters, not bytes.
func (in *TaskInput) Validate() error {
	var violations []string
	if n := utf8.RuneCountInString(in.Title); n < 1 || n > 255 {
		violations = append(violations, "title must be between 1 and 255 characters")
	}
	if in.Status != nil {
		if _, ok := ParseStatus(string(*in.Status)); !ok {
			violations = append(violations, fmt.Sprintf("Invalid status: %s", *in.Status))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// TaskPatch holds the fields present in a partial update. Status stays an
// unparsed string so its enum check can run after the existence check.
type TaskPatch struct {
	Title          *string
	Description    *string
	HasDescription bool
	Status         *string
}

var patchFields = map[string]struct{}{
	"title":       {},
	"description": {},
	"status":      {},
}

// ParseTaskPatch decodes a partial-update body. Keys outside the updatable
// set fail with UnknownFieldError listing every offender.
func ParseTaskPatch(data []byte) (TaskPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return TaskPatch{}, fmt.Errorf("decode patch: %w", err)
	}

	var unknown []string
	for k := range raw {
		if _, ok := patchFields[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return TaskPatch{}, &UnknownFieldError{Fields: unknown}
	}

	var p TaskPatch
	if v, ok := raw["title"]; ok {
		var t *string
		if err := json.Unmarshal(v, &t); err != nil {
			return TaskPatch{}, fmt.Errorf("decode title: %w", err)
		}
		if t == nil {
			// Explicit null collapses to empty, which validation rejects.
			t = new(string)
		}
		p.Title = t
	}
	if v, ok := raw["description"]; ok {
		p.HasDescription = true
		if err := json.Unmarshal(v, &p.Description); err != nil {
			return TaskPatch{}, fmt.Errorf("decode description: %w", err)
		}
	}
	if v, ok := raw["status"]; ok {
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return TaskPatch{}, fmt.Errorf("decode status: %w", err)
		}
		if s == nil {
			s = new(string)
		}
		p.Status = s
	}
	return p, nil
}
