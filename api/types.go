package api

import (
	"context"
	"time"

	"prism-board/domain"
)

// Authenticator resolves the caller behind an Authorization header.
type Authenticator interface {
	CallerFromAuthHeader(string) (domain.Caller, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}

// Services bundles the domain services the handlers call into.
type Services struct {
	Projects *domain.ProjectService
	Sprints  *domain.SprintService
	Boards   *domain.BoardService
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

type createSprintRequest struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type orderRequest struct {
	Updates []domain.IssueUpdate `json:"updates"`
}

type createIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	SprintID    string `json:"sprintId"`
	AssigneeID  string `json:"assigneeId"`
}

func (r createIssueRequest) toDomain() (domain.NewIssue, error) {
	status := domain.StatusTodo
	if r.Status != "" {
		s, err := domain.ParseStatus(r.Status)
		if err != nil {
			return domain.NewIssue{}, err
		}
		status = s
	}
	prio, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return domain.NewIssue{}, err
	}
	return domain.NewIssue{
		Title:       r.Title,
		Description: r.Description,
		Status:      status,
		Priority:    prio,
		SprintID:    r.SprintID,
		AssigneeID:  r.AssigneeID,
	}, nil
}

type updateIssueRequest struct {
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
}

func (r updateIssueRequest) toDomain() (domain.IssueEdit, error) {
	var edit domain.IssueEdit
	if r.Status != nil {
		s, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return edit, err
		}
		edit.Status = &s
	}
	if r.Priority != nil {
		p, err := domain.ParsePriority(*r.Priority)
		if err != nil {
			return edit, err
		}
		edit.Priority = &p
	}
	return edit, nil
}

// sprintView is a sprint with its header badge rendered for the caller's clock.
type sprintView struct {
	domain.Sprint
	Badge string `json:"badge,omitempty"`
}

type projectResponse struct {
	*domain.Project
	Sprints []sprintView `json:"sprints"`
}

type issuesResponse struct {
	Issues []domain.Issue `json:"issues"`
}
