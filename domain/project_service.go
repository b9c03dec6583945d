package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ProjectService manages projects of the caller's organization.
type ProjectService struct{ deps }

func NewProjectService(store Store, opts ...Option) *ProjectService {
	return &ProjectService{deps: newDeps(store, opts)}
}

// Create adds a project to the caller's organization. Only organization
// admins may create projects; the creator becomes a project admin.
func (s *ProjectService) Create(ctx context.Context, caller Caller, in NewProject) (*Project, error) {
	if err := caller.check(); err != nil {
		return nil, err
	}
	if !caller.IsOrgAdmin() {
		return nil, fmt.Errorf("%w: only organization admins can create projects", ErrForbidden)
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	p := &Project{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Key:            in.Key,
		Description:    in.Description,
		OrganizationID: caller.OrgID,
		AdminIDs:       []string{caller.UserID},
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, storageErr(err)
	}
	s.publish(ctx, Event{Type: ProjectCreated, EntityType: "project", EntityID: p.ID, ProjectID: p.ID, UserID: caller.UserID})
	return p, nil
}

// Get returns a project of the caller's organization.
func (s *ProjectService) Get(ctx context.Context, caller Caller, projectID string) (*Project, error) {
	return s.loadProject(ctx, caller, projectID)
}

// List returns the projects of the caller's organization, newest first.
func (s *ProjectService) List(ctx context.Context, caller Caller) ([]Project, error) {
	if err := caller.check(); err != nil {
		return nil, err
	}
	ps, err := s.store.ListProjects(ctx, caller.OrgID)
	if err != nil {
		return nil, storageErr(err)
	}
	return ps, nil
}

// Delete removes a project. Only organization admins may delete projects.
func (s *ProjectService) Delete(ctx context.Context, caller Caller, projectID string) error {
	if err := caller.check(); err != nil {
		return err
	}
	if !caller.IsOrgAdmin() {
		return fmt.Errorf("%w: only organization admins can delete projects", ErrForbidden)
	}
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return storageErr(err)
	}
	s.publish(ctx, Event{Type: ProjectDeleted, EntityType: "project", EntityID: projectID, ProjectID: projectID, UserID: caller.UserID})
	return nil
}
