package cedar

import (
	"fmt"
	"sync"

	"github.com/cedar-policy/cedar-go"
)

// Subject is one of the two principals in a dual-subject evaluation.
type Subject struct {
	ID     string
	Scopes []string
}

// Input holds the request parameters for a policy evaluation.
type Input struct {
	Agent    Subject
	Human    *Subject // nil when no human principal is attached
	Action   string
	Resource string
	Context  map[string]string
}

// Decision represents the result of a dual-subject policy evaluation.
type Decision struct {
	Allow         bool
	Reason        string
	PolicyID      string
	PolicyVersion string
}

// Engine evaluates Cedar policies locally.
type Engine struct {
	mu            sync.RWMutex
	policySet     *cedar.PolicySet
	policyVersion string
}

// NewEngine creates a Cedar engine with no policies loaded.
func NewEngine() *Engine {
	return &Engine{
		policySet: cedar.NewPolicySet(),
	}
}

// LoadBundle replaces the current policy set with policies parsed from raw
// Cedar source files. Each entry maps filename to content.
func (e *Engine) LoadBundle(policies map[string]string, version string) error {
	newPolicySet := cedar.NewPolicySet()

	for filename, content := range policies {
		parsed, err := cedar.NewPolicySetFromBytes(filename, []byte(content))
		if err != nil {
			return fmt.Errorf("parse %s: %w", filename, err)
		}
		for name, p := range parsed.All() {
			uniqueName := cedar.PolicyID(fmt.Sprintf("%s:%s", filename, name))
			newPolicySet.Add(uniqueName, p)
		}
	}

	e.mu.Lock()
	e.policySet = newPolicySet
	e.policyVersion = version
	e.mu.Unlock()

	return nil
}

// Evaluate runs the dual-subject evaluation. The agent principal is checked
// first; if it is denied the human principal is not consulted so that the
// returned reason names the denied subject.
func (e *Engine) Evaluate(input Input) *Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	agentUID := cedar.NewEntityUID(EntityTypeAgent, cedar.String(input.Agent.ID))
	decision, diag := e.authorize(agentUID, subjectAttributes(input.Agent), input)
	if decision != cedar.Allow {
		return &Decision{
			Allow:         false,
			Reason:        extractReason("agent", decision, diag),
			PolicyID:      extractPolicyID(diag),
			PolicyVersion: e.policyVersion,
		}
	}
	allowedBy := extractPolicyID(diag)

	if input.Human != nil {
		humanUID := cedar.NewEntityUID(EntityTypeHuman, cedar.String(input.Human.ID))
		decision, diag = e.authorize(humanUID, subjectAttributes(*input.Human), input)
		if decision != cedar.Allow {
			return &Decision{
				Allow:         false,
				Reason:        extractReason("human", decision, diag),
				PolicyID:      extractPolicyID(diag),
				PolicyVersion: e.policyVersion,
			}
		}
		allowedBy = extractPolicyID(diag)
	}

	return &Decision{
		Allow:         true,
		Reason:        "allowed for all subjects",
		PolicyID:      allowedBy,
		PolicyVersion: e.policyVersion,
	}
}

// authorize runs a single-principal Cedar authorization for the given
// principal within the shared action/resource/context of the request.
func (e *Engine) authorize(principal cedar.EntityUID, attrs cedar.Record, input Input) (cedar.Decision, cedar.Diagnostic) {
	action := cedar.NewEntityUID(EntityTypeAction, cedar.String(input.Action))
	resource := cedar.NewEntityUID(EntityTypeResource, cedar.String(input.Resource))

	contextMap := cedar.RecordMap{}
	for k, v := range input.Context {
		contextMap[cedar.String(k)] = cedar.String(v)
	}

	req := cedar.Request{
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Context:   cedar.NewRecord(contextMap),
	}

	entities := cedar.EntityMap{}
	entities[principal] = cedar.Entity{
		UID:        principal,
		Attributes: attrs,
	}
	entities[resource] = cedar.Entity{
		UID: resource,
		Attributes: cedar.NewRecord(cedar.RecordMap{
			cedar.String("path"): cedar.String(input.Resource),
		}),
	}

	return cedar.Authorize(e.policySet, entities, req)
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for range e.policySet.All() {
		count++
	}
	return count
}

// HasPolicies returns true if any policies are loaded.
func (e *Engine) HasPolicies() bool {
	return e.PolicyCount() > 0
}

func subjectAttributes(s Subject) cedar.Record {
	return cedar.NewRecord(cedar.RecordMap{
		cedar.String("id"):     cedar.String(s.ID),
		cedar.String("scopes"): toStringSet(s.Scopes),
	})
}

func toStringSet(values []string) cedar.Value {
	if len(values) == 0 {
		return cedar.NewSet()
	}
	items := make([]cedar.Value, len(values))
	for i, v := range values {
		items[i] = cedar.String(v)
	}
	return cedar.NewSet(items...)
}

func extractReason(subject string, decision cedar.Decision, diagnostic cedar.Diagnostic) string {
	if decision == cedar.Allow {
		return "allowed"
	}
	if len(diagnostic.Reasons) > 0 {
		return fmt.Sprintf("%s denied by policy: %s", subject, diagnostic.Reasons[0].PolicyID)
	}
	if len(diagnostic.Errors) > 0 {
		return fmt.Sprintf("%s policy error: %s", subject, diagnostic.Errors[0].String())
	}
	return fmt.Sprintf("%s denied: no matching permit policy", subject)
}

func extractPolicyID(diagnostic cedar.Diagnostic) string {
	if len(diagnostic.Reasons) > 0 {
		return string(diagnostic.Reasons[0].PolicyID)
	}
	return ""
}
