package domain

import (
	"fmt"
	"slices"
)

// Move describes a drag-and-drop result on the board.
type Move struct {
	SourceStatus Status `json:"sourceStatus"`
	SourceIndex  int    `json:"sourceIndex"`
	DestStatus   Status `json:"destStatus"`
	DestIndex    int    `json:"destIndex"`
}

func (m Move) validate() error {
	if !m.SourceStatus.Valid() {
		return fmt.Errorf("%w: unknown source status %q", ErrValidation, m.SourceStatus)
	}
	if !m.DestStatus.Valid() {
		return fmt.Errorf("%w: unknown destination status %q", ErrValidation, m.DestStatus)
	}
	if m.SourceIndex < 0 || m.DestIndex < 0 {
		return fmt.Errorf("%w: move indexes must not be negative", ErrValidation)
	}
	return nil
}

// IsNoop reports a drop back onto the slot the drag started from.
func (m Move) IsNoop() bool {
	return m.SourceStatus == m.DestStatus && m.SourceIndex == m.DestIndex
}

// IssueUpdate is one entry of a reorder batch.
type IssueUpdate struct {
	IssueID string `json:"id"`
	Status  Status `json:"status"`
	Order   int    `json:"order"`
}

// Reconcile computes the board that results from applying mv to b together
// with the batch of updates needed to persist it. The batch only contains
// issues whose status or order actually changed; b is not modified.
//
// Destination indexes past the end of the column clamp to an append. The
// source index must address an existing issue.
func Reconcile(b Board, mv Move) (Board, []IssueUpdate, error) {
	if err := mv.validate(); err != nil {
		return Board{}, nil, err
	}
	src := b.Column(mv.SourceStatus)
	if mv.SourceIndex >= len(src) {
		return Board{}, nil, fmt.Errorf("%w: no issue at %s[%d]", ErrValidation, mv.SourceStatus, mv.SourceIndex)
	}
	if mv.IsNoop() {
		return b.Clone(), nil, nil
	}

	next := b.Clone()
	source := next.Columns[mv.SourceStatus]
	moved := source[mv.SourceIndex]
	source = slices.Delete(source, mv.SourceIndex, mv.SourceIndex+1)

	var touched []Status
	if mv.SourceStatus == mv.DestStatus {
		dest := min(mv.DestIndex, len(source))
		if dest == mv.SourceIndex {
			return b.Clone(), nil, nil
		}
		next.Columns[mv.SourceStatus] = slices.Insert(source, dest, moved)
		touched = []Status{mv.SourceStatus}
	} else {
		next.Columns[mv.SourceStatus] = source
		target := next.Columns[mv.DestStatus]
		moved.Status = mv.DestStatus
		next.Columns[mv.DestStatus] = slices.Insert(target, min(mv.DestIndex, len(target)), moved)
		touched = []Status{mv.SourceStatus, mv.DestStatus}
	}

	before := make(map[string]Issue, b.Len())
	for _, s := range touched {
		for _, is := range b.Column(s) {
			before[is.ID] = is
		}
	}

	var updates []IssueUpdate
	for _, s := range touched {
		col := next.Columns[s]
		for i := range col {
			col[i].Order = Rank(i)
			prev := before[col[i].ID]
			if prev.Order != col[i].Order || prev.Status != col[i].Status {
				updates = append(updates, IssueUpdate{IssueID: col[i].ID, Status: col[i].Status, Order: col[i].Order})
			}
		}
	}
	return next, updates, nil
}

// ValidateBatch checks an externally computed batch against the board it is
// meant for: every issue must be on the board, appear once, and carry a valid
// status and a non-negative order. Every column the batch touches must end
// up ordered exactly 0..n-1.
func ValidateBatch(b Board, updates []IssueUpdate) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: empty batch", ErrValidation)
	}
	seen := make(map[string]struct{}, len(updates))
	touched := make(map[Status]struct{}, len(Statuses))
	for _, u := range updates {
		if !u.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
		}
		if u.Order < 0 {
			return fmt.Errorf("%w: negative order for issue %s", ErrValidation, u.IssueID)
		}
		if _, dup := seen[u.IssueID]; dup {
			return fmt.Errorf("%w: issue %s appears twice in batch", ErrValidation, u.IssueID)
		}
		seen[u.IssueID] = struct{}{}
		is, _, ok := b.Find(u.IssueID)
		if !ok {
			return fmt.Errorf("%w: issue %s is not on sprint %s", ErrNotFound, u.IssueID, b.SprintID)
		}
		touched[is.Status] = struct{}{}
		touched[u.Status] = struct{}{}
	}
	next := b.Apply(updates)
	for _, s := range Statuses {
		if _, ok := touched[s]; !ok {
			continue
		}
		col := next.Column(s)
		for i, is := range col {
			if is.Order != Rank(i) {
				return fmt.Errorf("%w: %s column would not be ordered 0..%d", ErrValidation, s, len(col)-1)
			}
		}
	}
	return nil
}
