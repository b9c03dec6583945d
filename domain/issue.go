package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the board column an issue lives in.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

// Statuses lists the board columns from left to right.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}

// Priority of an issue.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority converts raw input into a Priority. Empty input defaults to MEDIUM.
func ParsePriority(raw string) (Priority, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToUpper(raw))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, raw)
	}
	return p, nil
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Issue is a single work item. An empty SprintID means the issue sits in the
// project backlog.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Order       int       `json:"order"`
	SprintID    string    `json:"sprintId,omitempty"`
	ProjectID   string    `json:"projectId"`
	AssigneeID  string    `json:"assigneeId,omitempty"`
	ReporterID  string    `json:"reporterId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewIssue carries the fields a caller supplies when creating an issue.
type NewIssue struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
	SprintID    string
	AssigneeID  string
}

func (n NewIssue) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !n.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, n.Status)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, n.Priority)
	}
	return nil
}

// IssueEdit is a direct, non-ordering edit. Nil fields are left untouched.
type IssueEdit struct {
	Status   *Status
	Priority *Priority
}

func (e IssueEdit) validate() error {
	if e.Status == nil && e.Priority == nil {
		return fmt.Errorf("%w: edit had no fields", ErrValidation)
	}
	if e.Status != nil && !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *e.Status)
	}
	if e.Priority != nil && !e.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *e.Priority)
	}
	return nil
}
