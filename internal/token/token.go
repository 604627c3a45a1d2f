// Package token parses and verifies signed delegation tokens.
//
// A delegation token is a JWT carrying two subjects: the agent (`sub`) and,
// optionally, the human principal on whose behalf the agent acts (`act.sub`),
// plus a `delegation` claim describing how and when authority was granted.
// The codec turns an opaque bearer string into a structured Token or fails
// with one of the distinct error kinds below; it never collapses failure
// modes into a generic "bad token".
package token

import (
	"errors"
	"time"
)

// Method is the way delegation was granted.
type Method string

const (
	MethodExplicit Method = "explicit"
	MethodImplicit Method = "implicit"
	MethodSystem   Method = "system"
)

// Actor identifies the human principal attached to a token.
type Actor struct {
	Subject string
}

// Delegation describes the grant of authority from human to agent.
type Delegation struct {
	Method    Method
	GrantedAt time.Time
	// Expiry bounds the delegation itself, independently of the token's
	// exp claim. Zero means the delegation lives as long as the token.
	Expiry        time.Time
	IntentSummary string
}

// Token is the verified, structured form of an inbound delegation token.
type Token struct {
	AgentSubject string
	HumanActor   *Actor
	Delegation   Delegation
	Scopes       []string
	HumanScopes  []string
	Version      string
	TokenID      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Issuer       string

	// Extra holds claims the codec does not understand. They are preserved
	// for audit only and never drive control flow.
	Extra map[string]any
}

// Distinct decode failure kinds. Callers classify with errors.Is.
var (
	ErrSignatureInvalid   = errors.New("token signature invalid")
	ErrExpired            = errors.New("token expired")
	ErrNotYetValid        = errors.New("token not yet valid")
	ErrMalformed          = errors.New("token claims malformed")
	ErrUnsupportedVersion = errors.New("token version unsupported")
)
