package model

import "slices"

// Role names granted per project.
const (
	RoleCreate      = "create"
	RoleRead        = "read"
	RoleUpdate      = "update"
	RoleDelete      = "delete"
	RoleDownload    = "download"
	RoleReadStorage = "read-storage"
)

// AllRoles is every role, the grant given to submitters on their projects.
var AllRoles = []string{RoleCreate, RoleRead, RoleUpdate, RoleDelete, RoleDownload, RoleReadStorage}

// Actor is the identity recorded on every transaction.
// It is a plain value: construct it directly or decode it from a token.
type Actor struct {
	ID            int64               `json:"id"`
	Username      string              `json:"username"`
	IsAdmin       bool                `json:"is_admin"`
	ProjectAccess map[string][]string `json:"project_access,omitempty"`
}

// HasRole reports whether the actor holds role on project.
// Admins hold every role.
func (a Actor) HasRole(project, role string) bool {
	if a.IsAdmin {
		return true
	}
	return slices.Contains(a.ProjectAccess[project], role)
}

// Projects returns the projects the actor has any access to, sorted.
func (a Actor) Projects() []string {
	out := make([]string, 0, len(a.ProjectAccess))
	for p := range a.ProjectAccess {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool {
	return a.ID == 0 && a.Username == ""
}
