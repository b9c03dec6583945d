package domain

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	projects map[string]Project
	sprints  map[string]Sprint
	issues   map[string]Issue

	batchErr error
	batches  [][]IssueUpdate
	writes   int
}

func newMemStore() *memStore {
	return &memStore{
		projects: map[string]Project{},
		sprints:  map[string]Sprint{},
		issues:   map[string]Issue{},
	}
}

func (m *memStore) CreateIssue(ctx context.Context, is *Issue, admit AdmitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if admit != nil {
		if err := admit(m.sprints[is.SprintID]); err != nil {
			return err
		}
	}
	is.Order = 0
	for _, other := range m.issues {
		if other.ProjectID == is.ProjectID && other.Status == is.Status && other.Order+1 > is.Order {
			is.Order = other.Order + 1
		}
	}
	m.issues[is.ID] = *is
	m.writes++
	return nil
}

func (m *memStore) GetIssue(ctx context.Context, projectID, issueID string) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[issueID]
	if !ok || is.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &is, nil
}

func (m *memStore) ListIssuesBySprint(ctx context.Context, projectID, sprintID string) ([]Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Issue
	for _, is := range m.issues {
		if is.ProjectID == projectID && is.SprintID == sprintID {
			out = append(out, is)
		}
	}
	return out, nil
}

func (m *memStore) ListIssuesForUser(ctx context.Context, projectIDs []string, userID string) ([]Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Issue
	for _, is := range m.issues {
		if slices.Contains(projectIDs, is.ProjectID) && (is.AssigneeID == userID || is.ReporterID == userID) {
			out = append(out, is)
		}
	}
	slices.SortFunc(out, func(a, b Issue) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (m *memStore) UpdateIssueBatch(ctx context.Context, projectID, sprintID string, updates []IssueUpdate, admit AdmitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := admit(m.sprints[sprintID]); err != nil {
		return err
	}
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, u := range updates {
		if is, ok := m.issues[u.IssueID]; !ok || is.SprintID != sprintID {
			return ErrNotFound
		}
	}
	for _, u := range updates {
		is := m.issues[u.IssueID]
		is.Status = u.Status
		is.Order = u.Order
		m.issues[u.IssueID] = is
	}
	m.batches = append(m.batches, slices.Clone(updates))
	m.writes++
	return nil
}

func (m *memStore) UpdateIssue(ctx context.Context, projectID, issueID string, edit IssueEdit, admit AdmitFunc) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[issueID]
	if !ok || is.ProjectID != projectID {
		return nil, ErrNotFound
	}
	if edit.Status != nil && *edit.Status != is.Status {
		if is.SprintID != "" {
			if err := admit(m.sprints[is.SprintID]); err != nil {
				return nil, err
			}
		}
		is.Status = *edit.Status
		is.Order = 0
		for _, other := range m.issues {
			if other.ID != is.ID && other.SprintID == is.SprintID && other.Status == is.Status && other.Order+1 > is.Order {
				is.Order = other.Order + 1
			}
		}
	}
	if edit.Priority != nil {
		is.Priority = *edit.Priority
	}
	is.UpdatedAt = time.Now()
	m.issues[issueID] = is
	m.writes++
	return &is, nil
}

func (m *memStore) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[issueID]; !ok {
		return ErrNotFound
	}
	delete(m.issues, issueID)
	m.writes++
	return nil
}

func (m *memStore) CreateSprint(ctx context.Context, s *Sprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sprints[s.ID] = *s
	m.writes++
	return nil
}

func (m *memStore) GetSprint(ctx context.Context, projectID, sprintID string) (*Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sprints[sprintID]
	if !ok || s.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ListSprints(ctx context.Context, projectID string) ([]Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sprint
	for _, s := range m.sprints {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Sprint) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *memStore) ListSprintsByStatus(ctx context.Context, status SprintStatus) ([]Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sprint
	for _, s := range m.sprints {
		if s.Status == status {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Sprint) int { return a.EndDate.Compare(b.EndDate) })
	return out, nil
}

func (m *memStore) UpdateSprintStatus(ctx context.Context, projectID, sprintID string, from, to SprintStatus) (*Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sprints[sprintID]
	if !ok || s.ProjectID != projectID {
		return nil, ErrNotFound
	}
	if s.Status != from {
		return nil, ErrConcurrencyConflict
	}
	s.Status = to
	m.sprints[sprintID] = s
	m.writes++
	return &s, nil
}

func (m *memStore) CreateProject(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = *p
	m.writes++
	return nil
}

func (m *memStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Project
	for _, p := range m.projects {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	for id, s := range m.sprints {
		if s.ProjectID == projectID {
			delete(m.sprints, id)
		}
	}
	for id, is := range m.issues {
		if is.ProjectID == projectID {
			delete(m.issues, id)
		}
	}
	m.writes++
	return nil
}

func (m *memStore) setSprintStatus(id string, st SprintStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sprints[id]
	s.Status = st
	m.sprints[id] = s
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

var (
	testNow   = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	adminUser = Caller{UserID: "admin", OrgID: "org1", OrgRole: OrgAdminRole}
	memberA   = Caller{UserID: "alice", OrgID: "org1", OrgRole: "org:member"}
	memberB   = Caller{UserID: "bob", OrgID: "org1", OrgRole: "org:member"}
)

// seedBoard stores a project p1 with sprint s1 in the given status and the
// issues laid out per column in order.
func seedBoard(status SprintStatus, columns map[Status][]string) *memStore {
	m := newMemStore()
	m.projects["p1"] = Project{ID: "p1", Name: "Board", Key: "BRD", OrganizationID: "org1", AdminIDs: []string{"admin"}}
	m.sprints["s1"] = Sprint{
		ID:        "s1",
		Name:      "Sprint 1",
		ProjectID: "p1",
		Status:    status,
		StartDate: testNow.Add(-7 * 24 * time.Hour),
		EndDate:   testNow.Add(7 * 24 * time.Hour),
	}
	for st, ids := range columns {
		for i, id := range ids {
			m.issues[id] = Issue{ID: id, Title: id, Status: st, Priority: PriorityMedium, Order: i, SprintID: "s1", ProjectID: "p1", ReporterID: "alice"}
		}
	}
	return m
}

func columnIDs(b Board, s Status) []string {
	col := b.Column(s)
	out := make([]string, len(col))
	for i, is := range col {
		out[i] = is.ID
	}
	return out
}
