package agbac

import (
	"context"
	"errors"
	"time"
)

// DecisionRequest carries both subjects of an evaluation to the Policy
// Decision Point. It is constructed once per evaluation and never persisted.
type DecisionRequest struct {
	// AgentSubject is the agent identity, e.g. "agent:finance-bot".
	AgentSubject string `json:"agent_subject"`
	// HumanSubject is the human principal, empty when no human actor is
	// attached to the token.
	HumanSubject string `json:"human_subject,omitempty"`
	// Action is the operation being performed (e.g. "read", "write").
	Action string `json:"action"`
	// Resource is the target of the action (e.g. "records/55239").
	Resource string `json:"resource"`

	// AgentScopes and HumanScopes are the scope sets granted in the token.
	AgentScopes []string `json:"agent_scopes,omitempty"`
	HumanScopes []string `json:"human_scopes,omitempty"`

	// DelegationMethod, DelegationGrantedAt, and DelegationExpiry mirror the
	// token's delegation claim so policy can reason about the grant.
	DelegationMethod    string    `json:"delegation_method"`
	DelegationGrantedAt time.Time `json:"delegation_granted_at,omitempty"`
	DelegationExpiry    time.Time `json:"delegation_expiry,omitempty"`

	// Environment carries caller context plus the validator's semantic
	// warnings under "agbac."-prefixed keys.
	Environment map[string]string `json:"environment,omitempty"`
}

// DecisionResponse is the PDP's answer to a DecisionRequest.
type DecisionResponse struct {
	Allowed bool `json:"allowed"`
	// ReasonCode is the PDP's own reason vocabulary, recorded in audit
	// metadata. The enforcement verdict uses the PEP taxonomy.
	ReasonCode string `json:"reason_code,omitempty"`
	// PolicyID names the policy that determined the outcome, if known.
	PolicyID string `json:"policy_id,omitempty"`
}

// PDP is the Policy Decision Point boundary. Evaluate must be side-effect
// free and idempotent from the PEP's perspective; the PEP treats any error
// as PdpUnavailable and fails closed.
type PDP interface {
	Evaluate(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error)
}

// ErrPDPUnavailable is wrapped by PDP implementations for transport
// failures, timeouts, and malformed responses.
var ErrPDPUnavailable = errors.New("agbac: pdp unavailable")
