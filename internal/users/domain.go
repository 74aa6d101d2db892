package users

import "time"

// Principal is an account as resolved by the directory, including its role
// and the role's permission set.
type Principal struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	// PasswordHash is empty when no password has been set.
	PasswordHash string
	IsActive     bool
	// Role is nil when no role is assigned.
	Role *Role
}

// RoleName returns the assigned role name or "" when there is none.
func (p *Principal) RoleName() string {
	if p == nil || p.Role == nil {
		return ""
	}
	return p.Role.Name
}

// HasAccess reports whether p may use bearer tokens: the account is active
// and holds an active role.
func (p *Principal) HasAccess() bool {
	return p != nil && p.IsActive && p.Role != nil && p.Role.IsActive
}

// Role groups permissions.
type Role struct {
	ID          int64
	Name        string
	IsActive    bool
	Permissions []Permission
}

// Permission is a named capability.
type Permission struct {
	ID       int64
	Name     string
	IsActive bool
}

// User represents a user account for management listings.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
