// Package identity works out who is calling the greeter: the subject of a verified bearer token,
// the name on a verified client certificate, or nobody.
package identity

import (
	"context"
	"fmt"
)

// Mechanism is how a caller was identified.
type Mechanism int

const (
	// None means the caller is anonymous.
	None Mechanism = iota
	// Jwt means the caller presented a verified bearer token.
	Jwt
	// Mtls means the caller presented a verified client certificate.
	Mtls
)

func (m Mechanism) String() string {
	switch m {
	case None:
		return "none"
	case Jwt:
		return "JWT"
	case Mtls:
		return "mTLS"
	default:
		return "unknown"
	}
}

// CallIdentity is the identity of a single call.
type CallIdentity struct {
	Mechanism Mechanism
	Label     string
}

// Anonymous is the identity of a call that proved nothing.
var Anonymous = CallIdentity{Mechanism: None}

// IsAuthenticated returns whether any mechanism identified the caller.
func (ci CallIdentity) IsAuthenticated() bool {
	return ci.Mechanism != None
}

// Annotation is appended to a greeting to tell the caller how it was identified. It is empty
// for anonymous callers.
func (ci CallIdentity) Annotation() string {
	if !ci.IsAuthenticated() {
		return ""
	}
	return fmt.Sprintf(` (authenticated as "%s" via %s)`, ci.Label, ci.Mechanism)
}

type identityKeyType int

const identityKeyID = identityKeyType(iota)

// NewContext returns a context carrying id.
func NewContext(ctx context.Context, id CallIdentity) context.Context {
	return context.WithValue(ctx, identityKeyID, id)
}

// FromContext returns the identity attached by the server interceptor, or Anonymous.
func FromContext(ctx context.Context) CallIdentity {
	if id, ok := ctx.Value(identityKeyID).(CallIdentity); ok {
		return id
	}
	return Anonymous
}

// Provider gives a handler read-only access to the identity of the call it serves.
type Provider interface {
	CallIdentity(ctx context.Context) CallIdentity
}

// ContextProvider reads identities placed in the call context by UnaryServerInterceptor.
type ContextProvider struct{}

// CallIdentity implements Provider.
func (ContextProvider) CallIdentity(ctx context.Context) CallIdentity {
	return FromContext(ctx)
}
