package session

import (
	"fmt"

	"github.com/jrsteele09/elearn-session/users"
)

// Kind is the identity state of the process.
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindAuthenticating
	KindAuthenticated
	KindRefreshing
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthenticating:
		return "authenticating"
	case KindAuthenticated:
		return "authenticated"
	case KindRefreshing:
		return "refreshing"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State is a snapshot of the session. Identity is set for Authenticated and
// Refreshing (where it is the stale identity being refreshed); Reason is set
// for Failed and for an Unauthenticated state caused by expiry.
type State struct {
	Kind     Kind
	Identity *users.Identity
	Reason   string
}

func Unauthenticated() State {
	return State{Kind: KindUnauthenticated}
}

func Authenticating() State {
	return State{Kind: KindAuthenticating}
}

func Authenticated(identity *users.Identity) State {
	return State{Kind: KindAuthenticated, Identity: identity.Clone()}
}

func Refreshing(stale *users.Identity) State {
	return State{Kind: KindRefreshing, Identity: stale.Clone()}
}

func Failed(reason string) State {
	return State{Kind: KindFailed, Reason: reason}
}

// IsAuthenticated is true only for a settled, authenticated session.
func (s State) IsAuthenticated() bool {
	return s.Kind == KindAuthenticated && s.Identity != nil
}

// Settling is true while the identity is being established or refreshed.
func (s State) Settling() bool {
	return s.Kind == KindAuthenticating || s.Kind == KindRefreshing
}

// Role returns the identity's role, or RoleUnspecified without one.
func (s State) Role() users.RoleType {
	if s.Identity == nil {
		return users.RoleUnspecified
	}
	return s.Identity.Role
}

func (s State) String() string {
	if s.Identity != nil {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Identity.ID)
	}
	if s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	}
	return s.Kind.String()
}
