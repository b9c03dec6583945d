package domain

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newBoardService(m *memStore, pub *recordingPublisher) *BoardService {
	return NewBoardService(m, WithPublisher(pub), WithClock(func() time.Time { return testNow }))
}

func TestMovePersistsBatch(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}, StatusDone: {"C"}})
	pub := &recordingPublisher{}
	svc := newBoardService(m, pub)

	b, err := svc.Move(context.Background(), memberA, "p1", "s1", Move{SourceStatus: StatusTodo, SourceIndex: 0, DestStatus: StatusDone, DestIndex: 1})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := columnIDs(b, StatusDone); !slices.Equal(got, []string{"C", "A"}) {
		t.Fatalf("unexpected DONE column %v", got)
	}
	stored, _ := m.ListIssuesBySprint(context.Background(), "p1", "s1")
	fresh := NewBoard("s1", stored)
	if got := columnIDs(fresh, StatusTodo); !slices.Equal(got, []string{"B"}) {
		t.Fatalf("stored TODO column %v", got)
	}
	if len(m.batches) != 1 || len(m.batches[0]) != 2 {
		t.Fatalf("expected one batch of two updates, got %v", m.batches)
	}
	if got := pub.types(); !slices.Equal(got, []string{IssuesReordered}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestMoveNoopWritesNothing(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	pub := &recordingPublisher{}
	svc := newBoardService(m, pub)

	if _, err := svc.Move(context.Background(), memberA, "p1", "s1", Move{SourceStatus: StatusTodo, SourceIndex: 1, DestStatus: StatusTodo, DestIndex: 1}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if m.writeCount() != 0 || len(pub.types()) != 0 {
		t.Fatalf("no-op move wrote %d times and published %v", m.writeCount(), pub.types())
	}
}

func TestMoveRejectedByGate(t *testing.T) {
	for _, st := range []SprintStatus{SprintPlanned, SprintCompleted} {
		t.Run(string(st), func(t *testing.T) {
			m := seedBoard(st, map[Status][]string{StatusTodo: {"A", "B"}})
			svc := newBoardService(m, &recordingPublisher{})

			// the source index is out of range: the gate must answer before
			// the move is reconciled
			_, err := svc.Move(context.Background(), memberA, "p1", "s1", Move{SourceStatus: StatusTodo, SourceIndex: 9, DestStatus: StatusTodo, DestIndex: 0})
			if !errors.Is(err, ErrPreconditionFailed) {
				t.Fatalf("expected precondition failure, got %v", err)
			}
			if m.writeCount() != 0 {
				t.Fatalf("rejected move wrote to storage")
			}
		})
	}
}

// A client still showing ACTIVE submits a batch after the sprint was
// completed. The store re-reads the sprint inside the write and refuses.
func TestStaleClientBatchAfterCompletion(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	svc := newBoardService(m, &recordingPublisher{})

	local, err := svc.Board(context.Background(), memberA, "p1", "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	mv, err := BeginMove(local, Move{SourceStatus: StatusTodo, SourceIndex: 1, DestStatus: StatusTodo, DestIndex: 0})
	if err != nil {
		t.Fatalf("begin move: %v", err)
	}

	m.setSprintStatus("s1", SprintCompleted)

	writeErr := m.UpdateIssueBatch(context.Background(), "p1", "s1", mv.Updates(), AdmitBoardMutation)
	if !errors.Is(writeErr, ErrPreconditionFailed) {
		t.Fatalf("expected store to reject batch, got %v", writeErr)
	}
	if _, err := svc.ApplyBatch(context.Background(), memberA, "p1", "s1", mv.Updates()); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected service to reject batch, got %v", err)
	}

	authoritative, err := mv.Settle(context.Background(), writeErr, func(ctx context.Context) (Board, error) {
		is, err := m.ListIssuesBySprint(ctx, "p1", "s1")
		return NewBoard("s1", is), err
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("settle should report the write error, got %v", err)
	}
	if got := columnIDs(authoritative, StatusTodo); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("expected authoritative order, got %v", got)
	}
	if len(mv.Updates()) != 0 {
		t.Fatalf("settled batch must not be kept for resubmission")
	}
}

func TestMoveSurfacesStorageFailure(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	m.batchErr = errors.New("transaction aborted")
	pub := &recordingPublisher{}
	svc := newBoardService(m, pub)

	_, err := svc.Move(context.Background(), memberA, "p1", "s1", Move{SourceStatus: StatusTodo, SourceIndex: 0, DestStatus: StatusTodo, DestIndex: 1})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if len(pub.types()) != 0 {
		t.Fatalf("failed write must not publish")
	}
}

func TestApplyBatch(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	svc := newBoardService(m, &recordingPublisher{})

	b, err := svc.ApplyBatch(context.Background(), memberB, "p1", "s1", []IssueUpdate{
		{IssueID: "A", Status: StatusInReview, Order: 0},
		{IssueID: "B", Status: StatusTodo, Order: 0},
	})
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if got := columnIDs(b, StatusInReview); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("unexpected column %v", got)
	}

	m.issues["X"] = Issue{ID: "X", Status: StatusTodo, SprintID: "other", ProjectID: "p1"}
	_, err = svc.ApplyBatch(context.Background(), memberB, "p1", "s1", []IssueUpdate{{IssueID: "X", Status: StatusTodo, Order: 0}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign issue, got %v", err)
	}
}

func TestApplyBatchRejectsBrokenColumnOrder(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B", "C"}})
	pub := &recordingPublisher{}
	svc := newBoardService(m, pub)

	_, err := svc.ApplyBatch(context.Background(), memberB, "p1", "s1", []IssueUpdate{
		{IssueID: "A", Status: StatusTodo, Order: 0},
		{IssueID: "B", Status: StatusTodo, Order: 0},
		{IssueID: "C", Status: StatusTodo, Order: 7},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for id, want := range map[string]int{"A": 0, "B": 1, "C": 2} {
		if got := m.issues[id].Order; got != want {
			t.Fatalf("issue %s order changed to %d", id, got)
		}
	}
	if len(pub.types()) != 0 {
		t.Fatalf("rejected batch must not publish")
	}
}

func TestCreateIssue(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	svc := newBoardService(m, &recordingPublisher{})
	ctx := context.Background()

	is, err := svc.CreateIssue(ctx, memberB, "p1", NewIssue{Title: "C", Status: StatusTodo, Priority: PriorityHigh, SprintID: "s1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if is.Order != 2 || is.ReporterID != "bob" {
		t.Fatalf("unexpected issue %+v", is)
	}

	backlog, err := svc.CreateIssue(ctx, memberB, "p1", NewIssue{Title: "D", Status: StatusDone, Priority: PriorityLow})
	if err != nil {
		t.Fatalf("create backlog: %v", err)
	}
	if backlog.Order != 0 || backlog.SprintID != "" {
		t.Fatalf("unexpected backlog issue %+v", backlog)
	}

	if _, err := svc.CreateIssue(ctx, memberB, "p1", NewIssue{Title: " ", Status: StatusTodo, Priority: PriorityLow}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	m.setSprintStatus("s1", SprintPlanned)
	if _, err := svc.CreateIssue(ctx, memberB, "p1", NewIssue{Title: "E", Status: StatusTodo, Priority: PriorityLow, SprintID: "s1"}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected gate rejection, got %v", err)
	}
	if _, err := svc.CreateIssue(ctx, memberB, "p1", NewIssue{Title: "F", Status: StatusTodo, Priority: PriorityLow}); err != nil {
		t.Fatalf("backlog creation must stay open: %v", err)
	}
}

func TestUpdateIssue(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A"}, StatusDone: {"B", "C"}})
	svc := newBoardService(m, &recordingPublisher{})
	ctx := context.Background()

	done := StatusDone
	is, err := svc.UpdateIssue(ctx, memberA, "p1", "A", IssueEdit{Status: &done})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if is.Status != StatusDone || is.Order != 2 {
		t.Fatalf("expected A appended to DONE, got %+v", is)
	}

	m.setSprintStatus("s1", SprintCompleted)
	todo := StatusTodo
	if _, err := svc.UpdateIssue(ctx, memberA, "p1", "A", IssueEdit{Status: &todo}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected gate rejection, got %v", err)
	}
	urgent := PriorityUrgent
	if is, err := svc.UpdateIssue(ctx, memberA, "p1", "A", IssueEdit{Priority: &urgent}); err != nil || is.Priority != PriorityUrgent {
		t.Fatalf("priority edit should not be gated: %v %+v", err, is)
	}
	if _, err := svc.UpdateIssue(ctx, memberA, "p1", "A", IssueEdit{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty edit, got %v", err)
	}
}

func TestDeleteIssuePermissions(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	svc := newBoardService(m, &recordingPublisher{})
	ctx := context.Background()

	if err := svc.DeleteIssue(ctx, memberB, "p1", "A"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.DeleteIssue(ctx, memberA, "p1", "A"); err != nil {
		t.Fatalf("reporter delete: %v", err)
	}
	if err := svc.DeleteIssue(ctx, adminUser, "p1", "B"); err != nil {
		t.Fatalf("project admin delete: %v", err)
	}
	if err := svc.DeleteIssue(ctx, adminUser, "p1", "B"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBoardHidesOtherOrganizations(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A"}})
	svc := newBoardService(m, &recordingPublisher{})

	outsider := Caller{UserID: "eve", OrgID: "org2"}
	if _, err := svc.Board(context.Background(), outsider, "p1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Board(context.Background(), Caller{}, "p1", "s1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestUserIssues(t *testing.T) {
	m := seedBoard(SprintActive, map[Status][]string{StatusTodo: {"A", "B"}})
	m.projects["p2"] = Project{ID: "p2", OrganizationID: "org2"}
	m.issues["Z"] = Issue{ID: "Z", ProjectID: "p2", ReporterID: "alice"}
	svc := newBoardService(m, &recordingPublisher{})

	issues, err := svc.UserIssues(context.Background(), memberA)
	if err != nil {
		t.Fatalf("user issues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected issues of own organization only, got %d", len(issues))
	}
}
