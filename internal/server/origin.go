package server

import (
	"net/http"
	"slices"
)

// OriginChecker implements the upgrader's origin policy from a fixed
// allowlist. An empty Origin header (non-browser client) is accepted; "*"
// in the allowlist accepts everything.
type OriginChecker struct {
	allowed []string
}

func NewOriginChecker(allowed []string) *OriginChecker {
	return &OriginChecker{
		allowed: allowed,
	}
}

func (c *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if slices.Contains(c.allowed, "*") {
		return true
	}

	return slices.Contains(c.allowed, origin)
}
