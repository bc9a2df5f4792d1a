package auth

import (
	"net/http"
	"strings"
)

type Permission string

const (
	PermTranscribe  Permission = "transcribe"
	PermJobs        Permission = "jobs"
	PermHistoryRead Permission = "history:read"
	PermWildcard    Permission = "*"
)

// parseScope reads a space-separated scope claim. Tokens without a scope
// get full access.
func parseScope(scope string) []Permission {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return []Permission{PermWildcard}
	}
	perms := make([]Permission, len(fields))
	for i, f := range fields {
		perms[i] = Permission(f)
	}
	return perms
}

func (p *Principal) Has(perm Permission) bool {
	for _, have := range p.Permissions {
		if have == PermWildcard || have == perm {
			return true
		}
	}
	return false
}

// RequirePermission rejects authenticated callers lacking perm. Anonymous
// requests only reach it when authentication is disabled and pass through.
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p != nil && !p.Has(perm) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
