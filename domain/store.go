package domain

import "context"

// IssueStorage is the issue half of the persistence façade.
//
// Writes that touch a sprint board take an AdmitFunc. Implementations must
// re-read the sprint inside the same transaction as the write, call admit with
// it and abort without writing anything if admit fails.
type IssueStorage interface {
	// CreateIssue persists is and assigns its initial order: one past the
	// highest order in the (project, status) bucket, or 0 when it is empty.
	// admit is nil for backlog issues.
	CreateIssue(ctx context.Context, is *Issue, admit AdmitFunc) error
	GetIssue(ctx context.Context, projectID, issueID string) (*Issue, error)
	// ListIssuesBySprint returns the sprint's issues ordered by (status, order).
	ListIssuesBySprint(ctx context.Context, projectID, sprintID string) ([]Issue, error)
	// ListIssuesForUser returns issues of the given projects that userID is
	// assigned to or reported, most recently updated first.
	ListIssuesForUser(ctx context.Context, projectIDs []string, userID string) ([]Issue, error)
	// UpdateIssueBatch applies all updates in one atomic transaction.
	UpdateIssueBatch(ctx context.Context, projectID, sprintID string, updates []IssueUpdate, admit AdmitFunc) error
	// UpdateIssue applies a direct edit. When the status changes the issue is
	// appended to its new column. admit is consulted only for issues that
	// belong to a sprint and change status.
	UpdateIssue(ctx context.Context, projectID, issueID string, edit IssueEdit, admit AdmitFunc) (*Issue, error)
	DeleteIssue(ctx context.Context, projectID, issueID string) error
}

// SprintStorage is the sprint half of the persistence façade.
type SprintStorage interface {
	CreateSprint(ctx context.Context, s *Sprint) error
	GetSprint(ctx context.Context, projectID, sprintID string) (*Sprint, error)
	ListSprints(ctx context.Context, projectID string) ([]Sprint, error)
	ListSprintsByStatus(ctx context.Context, status SprintStatus) ([]Sprint, error)
	// UpdateSprintStatus moves the sprint from status from to status to. It
	// fails with ErrConcurrencyConflict when the stored status is no longer from.
	UpdateSprintStatus(ctx context.Context, projectID, sprintID string, from, to SprintStatus) (*Sprint, error)
}

// ProjectStorage persists projects.
type ProjectStorage interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
	ListProjects(ctx context.Context, orgID string) ([]Project, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// Store combines every persistence primitive the services need. Lookups of
// missing records return ErrNotFound.
type Store interface {
	IssueStorage
	SprintStorage
	ProjectStorage
}

// BoardCache holds recently read sprint boards. It is only used on the read
// path; the mutation gate always works on freshly read sprints.
//
// A miss reports the cache generation of the sprint. The caller reads storage
// after that and hands the generation back to StoreBoard, which drops the
// snapshot if an Evict happened in between.
type BoardCache interface {
	LoadBoard(ctx context.Context, sprintID string) (issues []Issue, gen int64, ok bool)
	StoreBoard(ctx context.Context, sprintID string, gen int64, issues []Issue)
	Evict(ctx context.Context, sprintIDs ...string)
}

// Publisher fans out committed changes to other viewers and services.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
