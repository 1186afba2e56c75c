package auth

import (
	"net/http"
	"strings"
)

// Role is a management API role. Higher roles include the lower ones.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole accepts a known role name.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	_, ok := roleRanks[role]
	return role, ok
}

// Covers reports whether r grants at least required.
func (r Role) Covers(required Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= roleRanks[required]
}

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/api/v1/alerts" && method == http.MethodDelete:
		return RoleOperator, true
	case path == "/api/v1/alerts/report.pdf":
		return RoleViewer, true
	case strings.HasPrefix(path, "/api/v1/devices/") && strings.HasSuffix(path, "/autogen"):
		return RoleOperator, true
	case strings.HasPrefix(path, "/api/v1/devices/") && method == http.MethodDelete:
		return RoleAdmin, true
	case path == "/api/v1/stream", path == "/api/v1/ws":
		return RoleViewer, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}
