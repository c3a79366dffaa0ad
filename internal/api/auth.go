package api

import (
	"net/http"
	"strings"

	"sweepwatch/internal/auth"
)

// getPrincipal resolves the caller from the Authorization header. In dev mode
// an X-Role header (default admin) stands in for a real token so local
// tooling works without minting JWTs.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
	}
	if s.Auth != nil && s.Auth.Mode == "dev" {
		role := r.Header.Get("X-Role")
		if role == "" {
			role = "admin"
		}
		return auth.Principal{Subject: "dev", Role: strings.ToLower(role)}
	}
	return auth.Principal{}
}
