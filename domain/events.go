package domain

const (
	IssueCreated        = "issue-created"
	IssueUpdated        = "issue-updated"
	IssueDeleted        = "issue-deleted"
	IssuesReordered     = "issues-reordered"
	SprintCreated       = "sprint-created"
	SprintStatusChanged = "sprint-status-changed"
	SprintOverdue       = "sprint-overdue"
	ProjectCreated      = "project-created"
	ProjectDeleted      = "project-deleted"
)

// Event describes a committed change.
type Event struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	ProjectID  string `json:"projectId"`
	SprintID   string `json:"sprintId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Data       any    `json:"data,omitempty"`
}
