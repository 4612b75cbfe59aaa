// Package redirect decides where the user lands after signing in and which
// routes a session may open.
package redirect

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

// Routes are the fixed landing points of the site.
type Routes struct {
	Home  string
	Admin string
	Login string
}

// DefaultRoutes mirrors the site's navigation.
var DefaultRoutes = Routes{Home: "/", Admin: "/admin/dashboard", Login: "/login"}

// ErrUnsafeRoute rejects anything that is not a local absolute path.
var ErrUnsafeRoute = errors.New("redirect target must be a local path")

// Resolve picks the post-login destination using DefaultRoutes. Admins
// always land on the admin dashboard; pending is ignored for them.
func Resolve(role identity.Role, pending string) string {
	return DefaultRoutes.resolve(role, pending)
}

func (r Routes) resolve(role identity.Role, pending string) string {
	if role == identity.RoleAdmin {
		return r.Admin
	}
	if pending != "" {
		return pending
	}
	return r.Home
}

// Pending holds the route a user was sent away from. It is consumed once.
type Pending struct {
	mu    sync.Mutex
	route string
}

// Capture remembers route, replacing any earlier capture.
func (p *Pending) Capture(route string) error {
	if !isLocal(route) {
		return ErrUnsafeRoute
	}
	p.mu.Lock()
	p.route = route
	p.mu.Unlock()
	return nil
}

// Take returns the captured route and forgets it.
func (p *Pending) Take() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.route
	p.route = ""
	return r
}

func isLocal(route string) bool {
	if !strings.HasPrefix(route, "/") || strings.HasPrefix(route, "//") || strings.HasPrefix(route, "/\\") {
		return false
	}
	u, err := url.Parse(route)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// Resolver resolves against configured routes and a shared Pending.
type Resolver struct {
	routes  Routes
	pending *Pending
}

func NewResolver(routes Routes, pending *Pending) *Resolver {
	if pending == nil {
		pending = &Pending{}
	}
	return &Resolver{routes: routes, pending: pending}
}

// Pending exposes the holder the guard writes to.
func (r *Resolver) Pending() *Pending { return r.pending }

// Resolve consumes the pending route, even for admins, and returns the
// destination for role.
func (r *Resolver) Resolve(role identity.Role) string {
	return r.routes.resolve(role, r.pending.Take())
}
