package redirect

import (
	"fmt"
	"net/url"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

const guardModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj, eft

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

const anonymous = "anonymous"

// keyMatch only supports a trailing wildcard, so each protected section is
// listed as its exact path plus its subtree.
var guardPolicy = [][]string{
	{anonymous, "/*", "allow"},
	{anonymous, "/booking", "deny"},
	{anonymous, "/booking/*", "deny"},
	{anonymous, "/profile", "deny"},
	{anonymous, "/profile/*", "deny"},
	{anonymous, "/admin", "deny"},
	{anonymous, "/admin/*", "deny"},
	{string(identity.RoleCustomer), "/*", "allow"},
	{string(identity.RoleCustomer), "/admin", "deny"},
	{string(identity.RoleCustomer), "/admin/*", "deny"},
	{string(identity.RoleAdmin), "/*", "allow"},
}

// Action is what the caller should do with a navigation.
type Action int

const (
	Allow Action = iota
	Redirect
	// Wait means the session is still being restored.
	Wait
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Wait:
		return "wait"
	}
	return "unknown"
}

type Decision struct {
	Action Action
	Target string
}

// Guard gates protected routes on the current AuthState.
type Guard struct {
	enforcer *casbin.Enforcer
	routes   Routes
	pending  *Pending
}

func NewGuard(routes Routes, pending *Pending) (*Guard, error) {
	m, err := model.NewModelFromString(guardModel)
	if err != nil {
		return nil, fmt.Errorf("guard model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("guard enforcer: %w", err)
	}
	if _, err := e.AddPolicies(guardPolicy); err != nil {
		return nil, fmt.Errorf("guard policy: %w", err)
	}
	if pending == nil {
		pending = &Pending{}
	}
	return &Guard{enforcer: e, routes: routes, pending: pending}, nil
}

// Check decides whether st may open route. An anonymous visitor bounced
// from a protected route has it captured as the pending redirect.
func (g *Guard) Check(st identity.AuthState, route string) (Decision, error) {
	if st.IsLoading {
		return Decision{Action: Wait}, nil
	}
	u, err := url.Parse(route)
	if err != nil || !isLocal(route) {
		return Decision{}, ErrUnsafeRoute
	}

	sub := anonymous
	if st.IsAuthenticated {
		sub = string(st.Role)
	}
	ok, err := g.enforcer.Enforce(sub, u.Path)
	if err != nil {
		return Decision{}, fmt.Errorf("enforce %s: %w", route, err)
	}
	if ok {
		return Decision{Action: Allow, Target: route}, nil
	}
	if !st.IsAuthenticated {
		if err := g.pending.Capture(route); err != nil {
			return Decision{}, err
		}
		return Decision{Action: Redirect, Target: g.routes.Login}, nil
	}
	return Decision{Action: Redirect, Target: g.routes.Home}, nil
}
