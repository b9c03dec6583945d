package domain

import "context"

// OptimisticMove is a move applied to a local board before the write that
// persists it has committed. The local board is shown immediately; once the
// write returns the move is settled: kept on success, thrown away on failure.
type OptimisticMove struct {
	local   Board
	updates []IssueUpdate
}

// BeginMove reconciles mv against the caller's local view.
func BeginMove(local Board, mv Move) (*OptimisticMove, error) {
	next, updates, err := Reconcile(local, mv)
	if err != nil {
		return nil, err
	}
	return &OptimisticMove{local: next, updates: updates}, nil
}

// Board is the optimistic local view.
func (m *OptimisticMove) Board() Board { return m.local }

// Updates is the batch to submit. It is empty for a no-op move.
func (m *OptimisticMove) Updates() []IssueUpdate { return m.updates }

// Settle resolves the move with the outcome of the write. On success the
// local board stands. On failure it is discarded and the authoritative board
// is read with refetch; the batch is never resubmitted. The write error is
// returned unchanged so callers can report it.
func (m *OptimisticMove) Settle(ctx context.Context, writeErr error, refetch func(context.Context) (Board, error)) (Board, error) {
	if writeErr == nil {
		return m.local, nil
	}
	m.updates = nil
	fresh, err := refetch(ctx)
	if err != nil {
		return Board{}, err
	}
	m.local = fresh
	return fresh, writeErr
}
