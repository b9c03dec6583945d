package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// BoardService serves sprint boards and admits every mutation of them through
// the board mutation gate.
type BoardService struct{ deps }

func NewBoardService(store Store, opts ...Option) *BoardService {
	return &BoardService{deps: newDeps(store, opts)}
}

// Board returns the current board of a sprint, served from the cache when
// possible.
func (s *BoardService) Board(ctx context.Context, caller Caller, projectID, sprintID string) (Board, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return Board{}, err
	}
	if _, err := s.loadSprint(ctx, projectID, sprintID); err != nil {
		return Board{}, err
	}
	var gen int64
	if s.cache != nil {
		issues, g, ok := s.cache.LoadBoard(ctx, sprintID)
		if ok {
			return NewBoard(sprintID, issues), nil
		}
		gen = g
	}
	issues, err := s.store.ListIssuesBySprint(ctx, projectID, sprintID)
	if err != nil {
		return Board{}, storageErr(err)
	}
	if s.cache != nil {
		s.cache.StoreBoard(ctx, sprintID, gen, issues)
	}
	return NewBoard(sprintID, issues), nil
}

// freshBoard reads the sprint and its issues straight from storage and runs
// the gate on the sprint before anything else happens.
func (s *BoardService) freshBoard(ctx context.Context, caller Caller, projectID, sprintID string) (Board, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return Board{}, err
	}
	sp, err := s.loadSprint(ctx, projectID, sprintID)
	if err != nil {
		return Board{}, err
	}
	if err := AdmitBoardMutation(*sp); err != nil {
		return Board{}, err
	}
	issues, err := s.store.ListIssuesBySprint(ctx, projectID, sprintID)
	if err != nil {
		return Board{}, storageErr(err)
	}
	return NewBoard(sprintID, issues), nil
}

// Move reconciles a drag-and-drop move against the current board and
// persists the resulting batch atomically. A drop onto the original slot
// writes nothing. Concurrent moves on the same sprint are last-write-wins.
func (s *BoardService) Move(ctx context.Context, caller Caller, projectID, sprintID string, mv Move) (Board, error) {
	board, err := s.freshBoard(ctx, caller, projectID, sprintID)
	if err != nil {
		return Board{}, err
	}
	next, updates, err := Reconcile(board, mv)
	if err != nil {
		return Board{}, err
	}
	if len(updates) == 0 {
		return next, nil
	}
	if err := s.commit(ctx, caller, projectID, sprintID, updates); err != nil {
		return Board{}, err
	}
	return next, nil
}

// ApplyBatch persists a batch computed by the client, for example after an
// optimistic local reorder. Every issue must belong to the sprint.
func (s *BoardService) ApplyBatch(ctx context.Context, caller Caller, projectID, sprintID string, updates []IssueUpdate) (Board, error) {
	board, err := s.freshBoard(ctx, caller, projectID, sprintID)
	if err != nil {
		return Board{}, err
	}
	if err := ValidateBatch(board, updates); err != nil {
		return Board{}, err
	}
	if err := s.commit(ctx, caller, projectID, sprintID, updates); err != nil {
		return Board{}, err
	}
	return board.Apply(updates), nil
}

func (s *BoardService) commit(ctx context.Context, caller Caller, projectID, sprintID string, updates []IssueUpdate) error {
	start := time.Now()
	if err := s.store.UpdateIssueBatch(ctx, projectID, sprintID, updates, AdmitBoardMutation); err != nil {
		log.WithError(err).WithFields(log.Fields{"sprint": sprintID, "updates": len(updates)}).Warn("issue batch rejected")
		return storageErr(err)
	}
	log.WithFields(log.Fields{"sprint": sprintID, "updates": len(updates), "ms": time.Since(start).Milliseconds()}).Debug("issue batch committed")
	s.evict(ctx, sprintID)
	s.publish(ctx, Event{
		Type:       IssuesReordered,
		EntityType: "sprint",
		EntityID:   sprintID,
		ProjectID:  projectID,
		SprintID:   sprintID,
		UserID:     caller.UserID,
		Data:       updates,
	})
	return nil
}

// CreateIssue adds an issue to the backlog or, when in.SprintID is set, to
// an ACTIVE sprint.
func (s *BoardService) CreateIssue(ctx context.Context, caller Caller, projectID string, in NewIssue) (*Issue, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var admit AdmitFunc
	if in.SprintID != "" {
		sp, err := s.loadSprint(ctx, projectID, in.SprintID)
		if err != nil {
			return nil, err
		}
		if err := AdmitBoardMutation(*sp); err != nil {
			return nil, err
		}
		admit = AdmitBoardMutation
	}
	now := s.now().UTC()
	is := &Issue{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		SprintID:    in.SprintID,
		ProjectID:   projectID,
		AssigneeID:  in.AssigneeID,
		ReporterID:  caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateIssue(ctx, is, admit); err != nil {
		return nil, storageErr(err)
	}
	s.evict(ctx, is.SprintID)
	s.publish(ctx, Event{Type: IssueCreated, EntityType: "issue", EntityID: is.ID, ProjectID: projectID, SprintID: is.SprintID, UserID: caller.UserID})
	return is, nil
}

// UpdateIssue applies a direct status or priority edit. Status changes of a
// sprint issue rearrange its board and therefore pass the gate.
func (s *BoardService) UpdateIssue(ctx context.Context, caller Caller, projectID, issueID string, edit IssueEdit) (*Issue, error) {
	if _, err := s.loadProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if err := edit.validate(); err != nil {
		return nil, err
	}
	current, err := s.store.GetIssue(ctx, projectID, issueID)
	if err != nil {
		return nil, storageErr(err)
	}
	if current.SprintID != "" && edit.Status != nil && *edit.Status != current.Status {
		sp, err := s.loadSprint(ctx, projectID, current.SprintID)
		if err != nil {
			return nil, err
		}
		if err := AdmitBoardMutation(*sp); err != nil {
			return nil, err
		}
	}
	updated, err := s.store.UpdateIssue(ctx, projectID, issueID, edit, AdmitBoardMutation)
	if err != nil {
		return nil, storageErr(err)
	}
	s.evict(ctx, updated.SprintID)
	s.publish(ctx, Event{Type: IssueUpdated, EntityType: "issue", EntityID: issueID, ProjectID: projectID, SprintID: updated.SprintID, UserID: caller.UserID})
	return updated, nil
}

// DeleteIssue removes an issue. Only its reporter or a project admin may do so.
func (s *BoardService) DeleteIssue(ctx context.Context, caller Caller, projectID, issueID string) error {
	p, err := s.loadProject(ctx, caller, projectID)
	if err != nil {
		return err
	}
	is, err := s.store.GetIssue(ctx, projectID, issueID)
	if err != nil {
		return storageErr(err)
	}
	if is.ReporterID != caller.UserID && !p.IsAdmin(caller.UserID) {
		return fmt.Errorf("%w: you don't have permission to delete this issue", ErrForbidden)
	}
	if err := s.store.DeleteIssue(ctx, projectID, issueID); err != nil {
		return storageErr(err)
	}
	s.evict(ctx, is.SprintID)
	s.publish(ctx, Event{Type: IssueDeleted, EntityType: "issue", EntityID: issueID, ProjectID: projectID, SprintID: is.SprintID, UserID: caller.UserID})
	return nil
}

// UserIssues returns the issues assigned to or reported by the caller across
// the projects of the caller's organization.
func (s *BoardService) UserIssues(ctx context.Context, caller Caller) ([]Issue, error) {
	if err := caller.check(); err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, caller.OrgID)
	if err != nil {
		return nil, storageErr(err)
	}
	if len(projects) == 0 {
		return []Issue{}, nil
	}
	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	issues, err := s.store.ListIssuesForUser(ctx, ids, caller.UserID)
	if err != nil {
		return nil, storageErr(err)
	}
	return issues, nil
}
