package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// OrgAdminRole is the organization role allowed to manage projects and sprints.
const OrgAdminRole = "org:admin"

// Caller identifies who performs an operation. It is resolved by the identity
// collaborator and only consumed here.
type Caller struct {
	UserID  string
	OrgID   string
	OrgRole string
}

func (c Caller) IsOrgAdmin() bool { return c.OrgRole == OrgAdminRole }

func (c Caller) check() error {
	if c.UserID == "" || c.OrgID == "" {
		return ErrUnauthorized
	}
	return nil
}

// Project owns sprints and issues. AdminIDs may delete any issue of the project.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Key            string    `json:"key"`
	Description    string    `json:"description,omitempty"`
	OrganizationID string    `json:"organizationId"`
	AdminIDs       []string  `json:"adminIds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (p Project) IsAdmin(userID string) bool { return slices.Contains(p.AdminIDs, userID) }

// NewProject carries the fields supplied when creating a project.
type NewProject struct {
	Name        string
	Key         string
	Description string
}

func (n *NewProject) normalize() error {
	n.Name = strings.TrimSpace(n.Name)
	n.Key = strings.ToUpper(strings.TrimSpace(n.Key))
	switch l := utf8.RuneCountInString(n.Name); {
	case l == 0:
		return fmt.Errorf("%w: project name is required", ErrValidation)
	case l > 100:
		return fmt.Errorf("%w: project name must be 100 characters or less", ErrValidation)
	}
	switch l := utf8.RuneCountInString(n.Key); {
	case l < 2:
		return fmt.Errorf("%w: project key must be at least 2 characters", ErrValidation)
	case l > 10:
		return fmt.Errorf("%w: project key must be 10 characters or less", ErrValidation)
	}
	if utf8.RuneCountInString(n.Description) > 500 {
		return fmt.Errorf("%w: description must be 500 characters or less", ErrValidation)
	}
	return nil
}
