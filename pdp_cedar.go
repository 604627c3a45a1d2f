package agbac

import (
	"context"
	"time"

	"github.com/agbac-io/agbac-go/internal/cedar"
)

// CedarPDP is an embedded Policy Decision Point evaluating Cedar policies
// in-process. It applies dual-subject semantics: when a human subject is
// present, both the AGBAC::Agent and the AGBAC::Human principal must be
// independently permitted for the action and resource.
type CedarPDP struct {
	engine *cedar.Engine
}

// NewCedarPDP creates an embedded Cedar PDP with no policies loaded.
// An empty policy set denies everything.
func NewCedarPDP() *CedarPDP {
	return &CedarPDP{engine: cedar.NewEngine()}
}

// LoadBundle replaces the active policy set with policies parsed from raw
// Cedar sources, keyed by filename.
func (p *CedarPDP) LoadBundle(policies map[string]string, version string) error {
	return p.engine.LoadBundle(policies, version)
}

// PolicyCount returns the number of loaded policies.
func (p *CedarPDP) PolicyCount() int {
	return p.engine.PolicyCount()
}

// Evaluate implements PDP.
func (p *CedarPDP) Evaluate(_ context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	input := cedar.Input{
		Agent: cedar.Subject{
			ID:     req.AgentSubject,
			Scopes: req.AgentScopes,
		},
		Action:   req.Action,
		Resource: req.Resource,
		Context:  cedarContext(req),
	}
	if req.HumanSubject != "" {
		input.Human = &cedar.Subject{
			ID:     req.HumanSubject,
			Scopes: req.HumanScopes,
		}
	}

	decision := p.engine.Evaluate(input)
	return &DecisionResponse{
		Allowed:    decision.Allow,
		ReasonCode: decision.Reason,
		PolicyID:   decision.PolicyID,
	}, nil
}

// cedarContext exposes the delegation metadata and environment to policy.
func cedarContext(req *DecisionRequest) map[string]string {
	ctx := make(map[string]string, len(req.Environment)+2)
	for k, v := range req.Environment {
		ctx[k] = v
	}
	ctx["delegation_method"] = req.DelegationMethod
	if !req.DelegationGrantedAt.IsZero() {
		ctx["delegation_granted_at"] = req.DelegationGrantedAt.UTC().Format(time.RFC3339)
	}
	return ctx
}
