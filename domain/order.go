package domain

import (
	"slices"
	"strings"
)

// Rank is the order value of the issue at index within its column. Columns are
// densely reindexed after every reconciliation, so rank and position coincide.
func Rank(index int) int { return index }

// Board is the derived view of a sprint: its issues grouped by status column,
// each column sorted by order. It is rebuilt on every read and never stored.
type Board struct {
	SprintID string             `json:"sprintId"`
	Columns  map[Status][]Issue `json:"columns"`
}

// NewBoard groups issues into columns. Issues with duplicate or gapped order
// values still produce a deterministic sequence: ties fall back to creation
// time and then id.
func NewBoard(sprintID string, issues []Issue) Board {
	b := Board{SprintID: sprintID, Columns: make(map[Status][]Issue, len(Statuses))}
	for _, s := range Statuses {
		b.Columns[s] = []Issue{}
	}
	for _, is := range issues {
		b.Columns[is.Status] = append(b.Columns[is.Status], is)
	}
	for _, col := range b.Columns {
		sortColumn(col)
	}
	return b
}

func sortColumn(col []Issue) {
	slices.SortStableFunc(col, func(a, b Issue) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Column returns the issues of status s in board order.
func (b Board) Column(s Status) []Issue { return b.Columns[s] }

// Issues flattens the board ordered by (status, order), matching the order
// in which storage lists a sprint.
func (b Board) Issues() []Issue {
	out := make([]Issue, 0, b.Len())
	for _, s := range Statuses {
		out = append(out, b.Columns[s]...)
	}
	return out
}

// Len is the total number of issues on the board.
func (b Board) Len() int {
	n := 0
	for _, col := range b.Columns {
		n += len(col)
	}
	return n
}

// Clone returns a deep copy so callers can mutate columns freely.
func (b Board) Clone() Board {
	out := Board{SprintID: b.SprintID, Columns: make(map[Status][]Issue, len(b.Columns))}
	for s, col := range b.Columns {
		out.Columns[s] = slices.Clone(col)
	}
	return out
}

// Apply returns a copy of b with the batch applied. Updates referring to
// issues not on the board are ignored.
func (b Board) Apply(updates []IssueUpdate) Board {
	if len(updates) == 0 {
		return b.Clone()
	}
	byID := make(map[string]IssueUpdate, len(updates))
	for _, u := range updates {
		byID[u.IssueID] = u
	}
	all := b.Issues()
	for i := range all {
		if u, ok := byID[all[i].ID]; ok {
			all[i].Status = u.Status
			all[i].Order = u.Order
		}
	}
	return NewBoard(b.SprintID, all)
}

// Find locates an issue by id.
func (b Board) Find(id string) (Issue, int, bool) {
	for _, col := range b.Columns {
		for i, is := range col {
			if is.ID == id {
				return is, i, true
			}
		}
	}
	return Issue{}, -1, false
}
