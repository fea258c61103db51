package api

import (
	"net/http"
	"strings"

	"fleetopt/internal/auth"
)

// getPrincipal extracts the caller from a bearer token. In dev mode a
// request without a token may name its role in X-Role (default admin);
// otherwise it is treated as a viewer.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		return s.Auth.Verify(r.Context(), tok)
	}
	if s.Auth == nil || s.Auth.Mode == "dev" {
		role := strings.ToLower(r.Header.Get("X-Role"))
		if role == "" {
			role = auth.RoleAdmin
		}
		return auth.Principal{Subject: r.Header.Get("X-Subject"), Role: role}, nil
	}
	return auth.Principal{Role: auth.RoleViewer}, nil
}

// authorize writes a problem response and returns false unless allowed
// accepts the caller.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, allowed func(auth.Principal) bool, need string) (auth.Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return p, false
	}
	if !allowed(p) {
		writeProblem(w, http.StatusForbidden, "Forbidden", need+" required", r.URL.Path)
		return p, false
	}
	return p, true
}

func anyRole(auth.Principal) bool { return true }
