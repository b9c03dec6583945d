package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SprintService drives the sprint lifecycle.
type SprintService struct{ deps }

func NewSprintService(store Store, opts ...Option) *SprintService {
	return &SprintService{deps: newDeps(store, opts)}
}

// Create adds a PLANNED sprint to a project.
func (s *SprintService) Create(ctx context.Context, caller Caller, projectID string, in NewSprint) (*Sprint, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	sp := &Sprint{
		ID:        uuid.NewString(),
		Name:      in.Name,
		StartDate: in.StartDate.UTC(),
		EndDate:   in.EndDate.UTC(),
		Status:    SprintPlanned,
		ProjectID: projectID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateSprint(ctx, sp); err != nil {
		return nil, storageErr(err)
	}
	s.publish(ctx, Event{Type: SprintCreated, EntityType: "sprint", EntityID: sp.ID, ProjectID: projectID, SprintID: sp.ID, UserID: caller.UserID})
	return sp, nil
}

// Get returns one sprint of a project.
func (s *SprintService) Get(ctx context.Context, caller Caller, projectID, sprintID string) (*Sprint, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	return s.loadSprint(ctx, projectID, sprintID)
}

// List returns the sprints of a project, newest first.
func (s *SprintService) List(ctx context.Context, caller Caller, projectID string) ([]Sprint, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	sprints, err := s.store.ListSprints(ctx, projectID)
	if err != nil {
		return nil, storageErr(err)
	}
	return sprints, nil
}

// Transition moves a sprint to status to. The write is conditional on the
// status the guards were evaluated against, so of two racing transitions one
// fails with ErrPreconditionFailed.
func (s *SprintService) Transition(ctx context.Context, caller Caller, projectID, sprintID string, to SprintStatus) (*Sprint, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	sp, err := s.loadSprint(ctx, projectID, sprintID)
	if err != nil {
		return nil, err
	}
	if err := Transition(*sp, to, caller, s.now()); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateSprintStatus(ctx, projectID, sprintID, sp.Status, to)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			return nil, fmt.Errorf("%w: sprint %s changed status concurrently", ErrPreconditionFailed, sprintID)
		}
		return nil, storageErr(err)
	}
	log.WithFields(log.Fields{"sprint": sprintID, "from": sp.Status, "to": to, "user": caller.UserID}).Info("sprint status changed")
	s.publish(ctx, Event{
		Type:       SprintStatusChanged,
		EntityType: "sprint",
		EntityID:   sprintID,
		ProjectID:  projectID,
		SprintID:   sprintID,
		UserID:     caller.UserID,
		Data:       map[string]SprintStatus{"from": sp.Status, "to": to},
	})
	return updated, nil
}

// Activate starts a PLANNED sprint.
func (s *SprintService) Activate(ctx context.Context, caller Caller, projectID, sprintID string) (*Sprint, error) {
	return s.Transition(ctx, caller, projectID, sprintID, SprintActive)
}

// Complete ends an ACTIVE sprint.
func (s *SprintService) Complete(ctx context.Context, caller Caller, projectID, sprintID string) (*Sprint, error) {
	return s.Transition(ctx, caller, projectID, sprintID, SprintCompleted)
}

// Overdue lists ACTIVE sprints across all projects whose end date has passed.
// Nothing is transitioned; the result is informational.
func (s *SprintService) Overdue(ctx context.Context) ([]Sprint, error) {
	active, err := s.store.ListSprintsByStatus(ctx, SprintActive)
	if err != nil {
		return nil, storageErr(err)
	}
	now := s.now()
	var out []Sprint
	for _, sp := range active {
		if sp.Overdue(now) {
			out = append(out, sp)
		}
	}
	return out, nil
}

// NotifyOverdue publishes a sprint-overdue notice for sp.
func (s *SprintService) NotifyOverdue(ctx context.Context, sp Sprint) {
	s.publish(ctx, Event{
		Type:       SprintOverdue,
		EntityType: "sprint",
		EntityID:   sp.ID,
		ProjectID:  sp.ProjectID,
		SprintID:   sp.ID,
		Data:       map[string]string{"badge": sp.Badge(s.now())},
	})
}
