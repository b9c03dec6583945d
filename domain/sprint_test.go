package domain

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestTransitionGuards(t *testing.T) {
	planned := Sprint{ID: "s", Status: SprintPlanned, StartDate: day(2024, 1, 1), EndDate: day(2024, 1, 14)}
	active := planned
	active.Status = SprintActive
	completed := planned
	completed.Status = SprintCompleted

	cases := []struct {
		name   string
		sprint Sprint
		to     SprintStatus
		caller Caller
		now    time.Time
		want   error
	}{
		{"activate before window", planned, SprintActive, adminUser, day(2023, 12, 20), ErrPreconditionFailed},
		{"activate after window", planned, SprintActive, adminUser, day(2024, 1, 15), ErrPreconditionFailed},
		{"activate on start date", planned, SprintActive, adminUser, day(2024, 1, 1), nil},
		{"activate on end date", planned, SprintActive, adminUser, day(2024, 1, 14), nil},
		{"activate as member", planned, SprintActive, memberA, day(2024, 1, 5), ErrForbidden},
		{"complete as member", active, SprintCompleted, memberA, day(2024, 1, 5), ErrForbidden},
		{"complete active", active, SprintCompleted, adminUser, day(2030, 1, 1), nil},
		{"complete planned", planned, SprintCompleted, adminUser, day(2024, 1, 5), ErrPreconditionFailed},
		{"reactivate completed", completed, SprintActive, adminUser, day(2024, 1, 5), ErrPreconditionFailed},
		{"complete twice", completed, SprintCompleted, adminUser, day(2024, 1, 5), ErrPreconditionFailed},
		{"back to planned", active, SprintPlanned, adminUser, day(2024, 1, 5), ErrPreconditionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Transition(tc.sprint, tc.to, tc.caller, tc.now)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestAdmitBoardMutation(t *testing.T) {
	if err := AdmitBoardMutation(Sprint{Status: SprintActive}); err != nil {
		t.Fatalf("active sprint rejected: %v", err)
	}
	for _, st := range []SprintStatus{SprintPlanned, SprintCompleted, "ARCHIVED"} {
		if err := AdmitBoardMutation(Sprint{Status: st}); !errors.Is(err, ErrPreconditionFailed) {
			t.Fatalf("%s: expected precondition failure, got %v", st, err)
		}
	}
}

func TestSprintBadge(t *testing.T) {
	s := Sprint{Status: SprintActive, StartDate: day(2024, 1, 1), EndDate: day(2024, 1, 14)}
	if got := s.Badge(day(2024, 1, 5)); got != "" {
		t.Fatalf("expected no badge inside window, got %q", got)
	}
	if got := s.Badge(day(2024, 1, 17)); got != "Overdue by 3 days" {
		t.Fatalf("unexpected overdue badge %q", got)
	}
	s.Status = SprintPlanned
	if got := s.Badge(day(2023, 12, 30)); got != "Starts in 2 days" {
		t.Fatalf("unexpected planned badge %q", got)
	}
	s.Status = SprintCompleted
	if got := s.Badge(day(2024, 1, 17)); got != "Sprint Ended" {
		t.Fatalf("unexpected completed badge %q", got)
	}
}

func TestNewSprintValidation(t *testing.T) {
	bad := []NewSprint{
		{Name: " ", StartDate: day(2024, 1, 1), EndDate: day(2024, 1, 2)},
		{Name: "S", EndDate: day(2024, 1, 2)},
		{Name: "S", StartDate: day(2024, 1, 3), EndDate: day(2024, 1, 2)},
	}
	for _, in := range bad {
		if err := in.normalize(); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}
