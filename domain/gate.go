package domain

import "fmt"

// AdmitFunc is evaluated by the store against the sprint it re-reads inside
// the write transaction. Returning an error aborts the transaction.
type AdmitFunc func(Sprint) error

// AdmitBoardMutation is the board mutation gate: only an ACTIVE sprint
// accepts reorders, batch writes and new issues.
func AdmitBoardMutation(s Sprint) error {
	switch s.Status {
	case SprintActive:
		return nil
	case SprintPlanned:
		return fmt.Errorf("%w: start sprint %s to update the board", ErrPreconditionFailed, s.ID)
	case SprintCompleted:
		return fmt.Errorf("%w: cannot update the board of completed sprint %s", ErrPreconditionFailed, s.ID)
	default:
		return fmt.Errorf("%w: sprint %s has unknown status %q", ErrPreconditionFailed, s.ID, s.Status)
	}
}
