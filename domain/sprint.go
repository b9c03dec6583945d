package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SprintStatus is the lifecycle state of a sprint.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintCompleted SprintStatus = "COMPLETED"
)

// ParseSprintStatus converts raw input into a SprintStatus.
func ParseSprintStatus(raw string) (SprintStatus, error) {
	s := SprintStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case SprintPlanned, SprintActive, SprintCompleted:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown sprint status %q", ErrValidation, raw)
}

// Sprint is a time-boxed iteration of a project.
type Sprint struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"startDate"`
	EndDate   time.Time    `json:"endDate"`
	Status    SprintStatus `json:"status"`
	ProjectID string       `json:"projectId"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewSprint carries the fields supplied when creating a sprint.
type NewSprint struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

func (n *NewSprint) normalize() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return fmt.Errorf("%w: sprint name is required", ErrValidation)
	}
	if n.StartDate.IsZero() || n.EndDate.IsZero() {
		return fmt.Errorf("%w: sprint dates are required", ErrValidation)
	}
	if n.EndDate.Before(n.StartDate) {
		return fmt.Errorf("%w: sprint end date is before its start date", ErrValidation)
	}
	return nil
}

// InWindow reports whether t falls inside [StartDate, EndDate].
func (s Sprint) InWindow(t time.Time) bool {
	return !t.Before(s.StartDate) && !t.After(s.EndDate)
}

// Overdue reports an ACTIVE sprint whose end date has passed. It is purely
// informational: overdue sprints stay mutable until an admin completes them.
func (s Sprint) Overdue(now time.Time) bool {
	return s.Status == SprintActive && now.After(s.EndDate)
}

// Badge returns the short status text shown next to the sprint selector, or
// an empty string when there is nothing to point out.
func (s Sprint) Badge(now time.Time) string {
	switch {
	case s.Status == SprintCompleted:
		return "Sprint Ended"
	case s.Overdue(now):
		return "Overdue by " + strings.TrimSpace(humanize.RelTime(s.EndDate, now, "", ""))
	case s.Status == SprintPlanned && now.Before(s.StartDate):
		return "Starts in " + strings.TrimSpace(humanize.RelTime(now, s.StartDate, "", ""))
	}
	return ""
}

// Transition checks whether caller may move sprint s to status to at time now.
// Role is checked first, then the prior state, then the date window.
//
//	PLANNED -> ACTIVE     org admin, now within [StartDate, EndDate]
//	ACTIVE  -> COMPLETED  org admin
func Transition(s Sprint, to SprintStatus, caller Caller, now time.Time) error {
	if !caller.IsOrgAdmin() {
		return fmt.Errorf("%w: only organization admins can change sprint status", ErrForbidden)
	}
	switch {
	case s.Status == SprintPlanned && to == SprintActive:
		if !s.InWindow(now) {
			return fmt.Errorf("%w: cannot start sprint outside of its date range", ErrPreconditionFailed)
		}
		return nil
	case s.Status == SprintActive && to == SprintCompleted:
		return nil
	case to == SprintCompleted:
		return fmt.Errorf("%w: can only complete an active sprint", ErrPreconditionFailed)
	default:
		return fmt.Errorf("%w: cannot move sprint from %s to %s", ErrPreconditionFailed, s.Status, to)
	}
}
