package storage

import (
	"strings"
	"time"

	"prism-board/domain"
)

const (
	edmInt64 = "Edm.Int64"

	kindSprint = "sprint"
	kindIssue  = "issue"
)

// entityKeys are the table keys of a row. Rows written by this package carry
// no other system properties.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

func sprintKey(id string) string { return kindSprint + ":" + id }
func issueKey(id string) string  { return kindIssue + ":" + id }

func idFromKey(rk string) string {
	if i := strings.IndexByte(rk, ':'); i >= 0 {
		return rk[i+1:]
	}
	return rk
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// sprintEntity is a sprint row in the board table. The partition is the project.
type sprintEntity struct {
	entityKeys
	Kind          string `json:"Kind"`
	Name          string `json:"Name"`
	Status        string `json:"Status"`
	StartDate     int64  `json:"StartDate,string"`
	StartDateType string `json:"StartDate@odata.type"`
	EndDate       int64  `json:"EndDate,string"`
	EndDateType   string `json:"EndDate@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func newSprintEntity(s *domain.Sprint) sprintEntity {
	return sprintEntity{
		entityKeys:    entityKeys{PartitionKey: s.ProjectID, RowKey: sprintKey(s.ID)},
		Kind:          kindSprint,
		Name:          s.Name,
		Status:        string(s.Status),
		StartDate:     millis(s.StartDate),
		StartDateType: edmInt64,
		EndDate:       millis(s.EndDate),
		EndDateType:   edmInt64,
		CreatedAt:     millis(s.CreatedAt),
		CreatedAtType: edmInt64,
	}
}

func (e sprintEntity) sprint() domain.Sprint {
	return domain.Sprint{
		ID:        idFromKey(e.RowKey),
		Name:      e.Name,
		Status:    domain.SprintStatus(e.Status),
		StartDate: fromMillis(e.StartDate),
		EndDate:   fromMillis(e.EndDate),
		ProjectID: e.PartitionKey,
		CreatedAt: fromMillis(e.CreatedAt),
	}
}

// sprintStatusUpdate merges a new status into a sprint row.
type sprintStatusUpdate struct {
	entityKeys
	Status string `json:"Status,omitempty"`
}

// issueEntity is an issue row in the board table. SprintID is empty for
// backlog issues.
type issueEntity struct {
	entityKeys
	Kind          string `json:"Kind"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	Order         int    `json:"Order"`
	SprintID      string `json:"SprintID"`
	AssigneeID    string `json:"AssigneeID"`
	ReporterID    string `json:"ReporterID"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func newIssueEntity(is *domain.Issue) issueEntity {
	return issueEntity{
		entityKeys:    entityKeys{PartitionKey: is.ProjectID, RowKey: issueKey(is.ID)},
		Kind:          kindIssue,
		Title:         is.Title,
		Description:   is.Description,
		Status:        string(is.Status),
		Priority:      string(is.Priority),
		Order:         is.Order,
		SprintID:      is.SprintID,
		AssigneeID:    is.AssigneeID,
		ReporterID:    is.ReporterID,
		CreatedAt:     millis(is.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     millis(is.UpdatedAt),
		UpdatedAtType: edmInt64,
	}
}

func (e issueEntity) issue() domain.Issue {
	return domain.Issue{
		ID:          idFromKey(e.RowKey),
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		Order:       e.Order,
		SprintID:    e.SprintID,
		ProjectID:   e.PartitionKey,
		AssigneeID:  e.AssigneeID,
		ReporterID:  e.ReporterID,
		CreatedAt:   fromMillis(e.CreatedAt),
		UpdatedAt:   fromMillis(e.UpdatedAt),
	}
}

// issueUpdate carries partial updates for an issue row.
type issueUpdate struct {
	entityKeys
	Status        *string `json:"Status,omitempty"`
	Priority      *string `json:"Priority,omitempty"`
	Order         *int    `json:"Order,omitempty"`
	UpdatedAt     *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

func (u *issueUpdate) touch(now time.Time) {
	ms := millis(now)
	t := edmInt64
	u.UpdatedAt = &ms
	u.UpdatedAtType = &t
}

// projectEntity is a row of the projects table, partitioned by organization.
type projectEntity struct {
	entityKeys
	Name          string `json:"Name"`
	Key           string `json:"Key"`
	Description   string `json:"Description"`
	AdminIDs      string `json:"AdminIDs"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func newProjectEntity(p *domain.Project) projectEntity {
	return projectEntity{
		entityKeys:    entityKeys{PartitionKey: p.OrganizationID, RowKey: p.ID},
		Name:          p.Name,
		Key:           p.Key,
		Description:   p.Description,
		AdminIDs:      strings.Join(p.AdminIDs, ","),
		CreatedAt:     millis(p.CreatedAt),
		CreatedAtType: edmInt64,
	}
}

func (e projectEntity) project() domain.Project {
	var admins []string
	if e.AdminIDs != "" {
		admins = strings.Split(e.AdminIDs, ",")
	}
	return domain.Project{
		ID:             e.RowKey,
		Name:           e.Name,
		Key:            e.Key,
		Description:    e.Description,
		OrganizationID: e.PartitionKey,
		AdminIDs:       admins,
		CreatedAt:      fromMillis(e.CreatedAt),
	}
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
