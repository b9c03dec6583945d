package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	// maxTransactionOps is the entity limit of a table transaction. One slot
	// is reserved for the sprint guard.
	maxTransactionOps = 100
	maxGuardAttempts  = 5
)

// tableClient is the part of *aztables.Client the store uses.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores projects in one table and every sprint and issue of a project
// in one partition of the board table, so board batches can be committed as a
// single entity group transaction.
type Tables struct {
	board    tableClient
	projects tableClient
	now      func() time.Time
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, boardTable, projectsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{board: svc.NewClient(boardTable), projects: svc.NewClient(projectsTable), now: time.Now}, nil
}

var innerStatusLine = regexp.MustCompile(`(?m)^HTTP/1\.1 (\d{3}) `)

// statusCode returns the HTTP status of a failed call. A failed transaction
// comes back as the 202 of the batch envelope, so the status of the failing
// operation is read from the inner responses.
func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return 0
	}
	if respErr.StatusCode == http.StatusAccepted && respErr.RawResponse != nil {
		if code := innerStatus(respErr.RawResponse); code != 0 {
			return code
		}
	}
	return respErr.StatusCode
}

func innerStatus(resp *http.Response) int {
	body, err := runtime.Payload(resp)
	if err != nil {
		return 0
	}
	for _, m := range innerStatusLine.FindAllSubmatch(body, -1) {
		if code, _ := strconv.Atoi(string(m[1])); code >= 400 {
			return code
		}
	}
	return 0
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.ErrorCode == "UpdateConditionNotSatisfied" || statusCode(err) == http.StatusPreconditionFailed
}

// tableErr maps Azure response codes onto the domain error kinds.
func tableErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case statusCode(err) == 404:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	case isConflict(err):
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, what)
	}
	return err
}

func (t *Tables) list(ctx context.Context, client tableClient, filter string, each func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := each(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tables) listIssues(ctx context.Context, filter string) ([]domain.Issue, error) {
	issues := []domain.Issue{}
	err := t.list(ctx, t.board, filter, func(data []byte) error {
		var ent issueEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		issues = append(issues, ent.issue())
		return nil
	})
	return issues, err
}

// getSprint reads a sprint row together with its ETag.
func (t *Tables) getSprint(ctx context.Context, projectID, sprintID string) (*sprintEntity, azcore.ETag, error) {
	resp, err := t.board.GetEntity(ctx, projectID, sprintKey(sprintID), nil)
	if err != nil {
		return nil, "", tableErr(err, "sprint "+sprintID)
	}
	var ent sprintEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

func (t *Tables) getIssue(ctx context.Context, projectID, issueID string) (*issueEntity, azcore.ETag, error) {
	resp, err := t.board.GetEntity(ctx, projectID, issueKey(issueID), nil)
	if err != nil {
		return nil, "", tableErr(err, "issue "+issueID)
	}
	var ent issueEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

// sprintGuard returns a transaction action that only succeeds while the
// sprint row still carries etag. Merging the bare keys leaves the sprint
// unchanged apart from its ETag.
func sprintGuard(projectID, sprintID string, etag azcore.ETag) (aztables.TransactionAction, error) {
	payload, err := sonic.Marshal(sprintStatusUpdate{entityKeys: entityKeys{PartitionKey: projectID, RowKey: sprintKey(sprintID)}})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &etag}, nil
}

// guarded runs build against a freshly read and admitted sprint and submits
// the resulting actions together with the sprint guard. If the sprint changed
// in between, the sprint is read and admitted again. A conflict on any other
// row is returned as ErrConcurrencyConflict without retrying.
func (t *Tables) guarded(ctx context.Context, projectID, sprintID string, admit domain.AdmitFunc, build func() ([]aztables.TransactionAction, error)) error {
	var lastTag azcore.ETag
	for attempt := 1; ; attempt++ {
		ent, etag, err := t.getSprint(ctx, projectID, sprintID)
		if err != nil {
			return err
		}
		if attempt > 1 && etag == lastTag {
			return fmt.Errorf("%w: board rows of sprint %s changed during write", domain.ErrConcurrencyConflict, sprintID)
		}
		lastTag = etag
		if err := admit(ent.sprint()); err != nil {
			return err
		}
		actions, err := build()
		if err != nil {
			return err
		}
		guard, err := sprintGuard(projectID, sprintID, etag)
		if err != nil {
			return err
		}
		actions = append(actions, guard)
		_, err = t.board.SubmitTransaction(ctx, actions, nil)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return tableErr(err, "board transaction")
		}
		if attempt >= maxGuardAttempts {
			return fmt.Errorf("%w: sprint %s kept changing", domain.ErrConcurrencyConflict, sprintID)
		}
		log.WithFields(log.Fields{"sprint": sprintID, "attempt": attempt}).Debug("sprint changed during board write, retrying")
	}
}

// nextOrder returns one past the highest order among issues matching filter.
func (t *Tables) nextOrder(ctx context.Context, filter string) (int, error) {
	issues, err := t.listIssues(ctx, filter)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, is := range issues {
		next = max(next, is.Order+1)
	}
	return next, nil
}

func issueFilter(projectID string, clauses ...string) string {
	parts := append([]string{"PartitionKey eq " + quote(projectID), "Kind eq " + quote(kindIssue)}, clauses...)
	return strings.Join(parts, " and ")
}

func (t *Tables) CreateIssue(ctx context.Context, is *domain.Issue, admit domain.AdmitFunc) error {
	build := func() ([]aztables.TransactionAction, error) {
		order, err := t.nextOrder(ctx, issueFilter(is.ProjectID, "Status eq "+quote(string(is.Status))))
		if err != nil {
			return nil, err
		}
		is.Order = order
		payload, err := sonic.Marshal(newIssueEntity(is))
		if err != nil {
			return nil, err
		}
		return []aztables.TransactionAction{{ActionType: aztables.TransactionTypeAdd, Entity: payload}}, nil
	}
	if admit == nil {
		actions, err := build()
		if err != nil {
			return err
		}
		_, err = t.board.AddEntity(ctx, actions[0].Entity, nil)
		return tableErr(err, "issue "+is.ID)
	}
	return t.guarded(ctx, is.ProjectID, is.SprintID, admit, build)
}

func (t *Tables) GetIssue(ctx context.Context, projectID, issueID string) (*domain.Issue, error) {
	ent, _, err := t.getIssue(ctx, projectID, issueID)
	if err != nil {
		return nil, err
	}
	is := ent.issue()
	return &is, nil
}

func (t *Tables) ListIssuesBySprint(ctx context.Context, projectID, sprintID string) ([]domain.Issue, error) {
	issues, err := t.listIssues(ctx, issueFilter(projectID, "SprintID eq "+quote(sprintID)))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(issues, compareStatusOrder)
	return issues, nil
}

func (t *Tables) ListIssuesForUser(ctx context.Context, projectIDs []string, userID string) ([]domain.Issue, error) {
	out := []domain.Issue{}
	for _, pid := range projectIDs {
		issues, err := t.listIssues(ctx, issueFilter(pid, "(AssigneeID eq "+quote(userID)+" or ReporterID eq "+quote(userID)+")"))
		if err != nil {
			return nil, err
		}
		out = append(out, issues...)
	}
	slices.SortFunc(out, func(a, b domain.Issue) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (t *Tables) UpdateIssueBatch(ctx context.Context, projectID, sprintID string, updates []domain.IssueUpdate, admit domain.AdmitFunc) error {
	if len(updates) >= maxTransactionOps {
		return fmt.Errorf("%w: a batch may touch at most %d issues", domain.ErrValidation, maxTransactionOps-1)
	}
	return t.guarded(ctx, projectID, sprintID, admit, func() ([]aztables.TransactionAction, error) {
		current, err := t.listIssues(ctx, issueFilter(projectID, "SprintID eq "+quote(sprintID)))
		if err != nil {
			return nil, err
		}
		onSprint := make(map[string]struct{}, len(current))
		for _, is := range current {
			onSprint[is.ID] = struct{}{}
		}
		now := t.now()
		anyTag := azcore.ETagAny
		actions := make([]aztables.TransactionAction, 0, len(updates)+1)
		for _, u := range updates {
			if _, ok := onSprint[u.IssueID]; !ok {
				return nil, fmt.Errorf("%w: issue %s is not on sprint %s", domain.ErrNotFound, u.IssueID, sprintID)
			}
			status := string(u.Status)
			order := u.Order
			upd := issueUpdate{
				entityKeys: entityKeys{PartitionKey: projectID, RowKey: issueKey(u.IssueID)},
				Status: &status,
				Order:  &order,
			}
			upd.touch(now)
			payload, err := sonic.Marshal(upd)
			if err != nil {
				return nil, err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &anyTag})
		}
		return actions, nil
	})
}

func (t *Tables) UpdateIssue(ctx context.Context, projectID, issueID string, edit domain.IssueEdit, admit domain.AdmitFunc) (*domain.Issue, error) {
	for attempt := 1; ; attempt++ {
		ent, etag, err := t.getIssue(ctx, projectID, issueID)
		if err != nil {
			return nil, err
		}
		upd := issueUpdate{entityKeys: entityKeys{PartitionKey: projectID, RowKey: issueKey(issueID)}}
		upd.touch(t.now())
		if edit.Priority != nil {
			p := string(*edit.Priority)
			upd.Priority = &p
			ent.Priority = p
		}
		statusChange := edit.Status != nil && string(*edit.Status) != ent.Status
		build := func() ([]aztables.TransactionAction, error) {
			if statusChange {
				status := string(*edit.Status)
				order, err := t.nextOrder(ctx, issueFilter(projectID, "SprintID eq "+quote(ent.SprintID), "Status eq "+quote(status)))
				if err != nil {
					return nil, err
				}
				upd.Status = &status
				upd.Order = &order
				ent.Status = status
				ent.Order = order
			}
			payload, err := sonic.Marshal(upd)
			if err != nil {
				return nil, err
			}
			return []aztables.TransactionAction{{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &etag}}, nil
		}

		if statusChange && ent.SprintID != "" {
			err = t.guarded(ctx, projectID, ent.SprintID, admit, build)
		} else {
			var actions []aztables.TransactionAction
			if actions, err = build(); err == nil {
				_, err = t.board.UpdateEntity(ctx, actions[0].Entity, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
				err = tableErr(err, "issue "+issueID)
			}
		}
		if err == nil {
			ent.UpdatedAt = *upd.UpdatedAt
			is := ent.issue()
			return &is, nil
		}
		// the issue itself changed: start over from a fresh read
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= maxGuardAttempts {
			return nil, err
		}
	}
}

func (t *Tables) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	_, err := t.board.DeleteEntity(ctx, projectID, issueKey(issueID), nil)
	return tableErr(err, "issue "+issueID)
}

func (t *Tables) CreateSprint(ctx context.Context, s *domain.Sprint) error {
	payload, err := sonic.Marshal(newSprintEntity(s))
	if err != nil {
		return err
	}
	_, err = t.board.AddEntity(ctx, payload, nil)
	return tableErr(err, "sprint "+s.ID)
}

func (t *Tables) GetSprint(ctx context.Context, projectID, sprintID string) (*domain.Sprint, error) {
	ent, _, err := t.getSprint(ctx, projectID, sprintID)
	if err != nil {
		return nil, err
	}
	s := ent.sprint()
	return &s, nil
}

func (t *Tables) listSprints(ctx context.Context, filter string) ([]domain.Sprint, error) {
	sprints := []domain.Sprint{}
	err := t.list(ctx, t.board, filter, func(data []byte) error {
		var ent sprintEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		sprints = append(sprints, ent.sprint())
		return nil
	})
	return sprints, err
}

func (t *Tables) ListSprints(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	sprints, err := t.listSprints(ctx, "PartitionKey eq "+quote(projectID)+" and Kind eq "+quote(kindSprint))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sprints, func(a, b domain.Sprint) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return sprints, nil
}

func (t *Tables) ListSprintsByStatus(ctx context.Context, status domain.SprintStatus) ([]domain.Sprint, error) {
	sprints, err := t.listSprints(ctx, "Kind eq "+quote(kindSprint)+" and Status eq "+quote(string(status)))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sprints, func(a, b domain.Sprint) int { return a.EndDate.Compare(b.EndDate) })
	return sprints, nil
}

func (t *Tables) UpdateSprintStatus(ctx context.Context, projectID, sprintID string, from, to domain.SprintStatus) (*domain.Sprint, error) {
	ent, etag, err := t.getSprint(ctx, projectID, sprintID)
	if err != nil {
		return nil, err
	}
	if ent.Status != string(from) {
		return nil, fmt.Errorf("%w: sprint %s is %s", domain.ErrConcurrencyConflict, sprintID, ent.Status)
	}
	payload, err := sonic.Marshal(sprintStatusUpdate{entityKeys: entityKeys{PartitionKey: projectID, RowKey: sprintKey(sprintID)}, Status: string(to)})
	if err != nil {
		return nil, err
	}
	if _, err := t.board.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, tableErr(err, "sprint "+sprintID)
	}
	ent.Status = string(to)
	s := ent.sprint()
	return &s, nil
}

func (t *Tables) CreateProject(ctx context.Context, p *domain.Project) error {
	payload, err := sonic.Marshal(newProjectEntity(p))
	if err != nil {
		return err
	}
	_, err = t.projects.AddEntity(ctx, payload, nil)
	return tableErr(err, "project "+p.ID)
}

func (t *Tables) listProjects(ctx context.Context, filter string) ([]domain.Project, error) {
	projects := []domain.Project{}
	err := t.list(ctx, t.projects, filter, func(data []byte) error {
		var ent projectEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		projects = append(projects, ent.project())
		return nil
	})
	return projects, err
}

// GetProject looks a project up by id alone; the organization partition is
// not known to callers.
func (t *Tables) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	projects, err := t.listProjects(ctx, "RowKey eq "+quote(projectID))
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
	}
	return &projects[0], nil
}

func (t *Tables) ListProjects(ctx context.Context, orgID string) ([]domain.Project, error) {
	projects, err := t.listProjects(ctx, "PartitionKey eq "+quote(orgID))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(projects, func(a, b domain.Project) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return projects, nil
}

// DeleteProject removes the project row and then its whole board partition in
// transactions of up to maxTransactionOps deletes.
func (t *Tables) DeleteProject(ctx context.Context, projectID string) error {
	p, err := t.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := t.projects.DeleteEntity(ctx, p.OrganizationID, projectID, nil); err != nil {
		return tableErr(err, "project "+projectID)
	}
	var keys []entityKeys
	err = t.list(ctx, t.board, "PartitionKey eq "+quote(projectID), func(data []byte) error {
		var ent entityKeys
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return err
		}
		keys = append(keys, ent)
		return nil
	})
	if err != nil {
		return err
	}
	for chunk := range slices.Chunk(keys, maxTransactionOps) {
		actions := make([]aztables.TransactionAction, 0, len(chunk))
		for _, k := range chunk {
			payload, err := sonic.Marshal(k)
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
		}
		if _, err := t.board.SubmitTransaction(ctx, actions, nil); err != nil {
			return tableErr(err, "project "+projectID+" board")
		}
	}
	log.WithFields(log.Fields{"project": projectID, "rows": len(keys)}).Info("project board removed")
	return nil
}

func compareStatusOrder(a, b domain.Issue) int {
	if c := slices.Index(domain.Statuses, a.Status) - slices.Index(domain.Statuses, b.Status); c != 0 {
		return c
	}
	return a.Order - b.Order
}
