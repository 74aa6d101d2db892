package rbac

import (
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// EffectivePermissions returns the permission names p holds. An inactive role
// grants nothing and inactive permissions are skipped.
func EffectivePermissions(p *users.Principal) []string {
	if p == nil || p.Role == nil || !p.Role.IsActive {
		return nil
	}
	out := make([]string, 0, len(p.Role.Permissions))
	for _, perm := range p.Role.Permissions {
		if perm.IsActive {
			out = append(out, perm.Name)
		}
	}
	return out
}

// Names are matched exactly. The schema keeps role and permission names
// unique case-sensitively, so "ADMIN" and "Admin" are different roles.
func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func hasRole(role string, allowed []string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
