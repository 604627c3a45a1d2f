package agbac

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/agbac-io/agbac-go/internal/token"
)

// Request describes one inbound evaluation: a bearer delegation token plus
// the action and resource the caller wants to perform.
type Request struct {
	// RawToken is the opaque bearer string as received.
	RawToken string
	// Action is the operation being performed (e.g. "read", "write").
	Action string
	// Resource is the target of the action (e.g. "records/55239").
	Resource string
	// Context provides additional key-value pairs forwarded to the PDP.
	Context map[string]string
	// CorrelationID ties the verdict to the audit record. Generated fresh
	// when empty.
	CorrelationID string
}

// Verdict is the result of an evaluation. Callers receive only the decision
// and reason code; token contents and failure detail stay in the audit
// trail to avoid leaking validation oracles.
type Verdict struct {
	Decision      Decision
	ReasonCode    ReasonCode
	CorrelationID string
}

// Allowed reports whether the verdict permits the action.
func (v *Verdict) Allowed() bool { return v.Decision == Allow }

// Evaluate runs the enforcement pipeline: token verification, delegation
// validation, replay checking, and policy evaluation, in that order. The
// first failing stage short-circuits to a deny; no downstream component is
// invoked after a failure. Exactly one audit event is handed to the emitter
// before the verdict is returned, for every terminal state, including when
// ctx is already canceled.
//
// Evaluate returns an error only for malformed calls (empty action or
// resource); every token or policy problem is expressed as a Deny verdict.
func (p *PEP) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	if req.Action == "" {
		return nil, errorf("action is required")
	}
	if req.Resource == "" {
		return nil, errorf("resource is required")
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	now := p.clock()

	ev := AuditEvent{
		Timestamp:     now,
		Action:        req.Action,
		Resource:      req.Resource,
		CorrelationID: correlationID,
		Metadata:      map[string]string{},
	}

	// Received → TokenVerified.
	tok, err := p.codec.Decode(req.RawToken)
	if err != nil {
		return p.deny(ev, codecReason(err), err), nil
	}
	fillSubjects(&ev, tok)

	// TokenVerified → DelegationValidated.
	warnings, err := validateDelegation(tok, req.Action, &p.config, now)
	if err != nil {
		code, _ := reasonOf(err)
		return p.deny(ev, code, err), nil
	}

	// DelegationValidated → ReplayChecked. Atomic: of two concurrent
	// requests bearing the same jti, exactly one passes.
	if !p.replay.CheckAndRecord(tok.TokenID, tok.ExpiresAt) {
		return p.deny(ev, ReasonTokenReplayed, errors.New("token identifier already used")), nil
	}

	// ReplayChecked → PolicyEvaluated. The decision request always carries
	// both subjects when a human actor is present; actions requiring
	// attribution never reach this point without one.
	dreq := p.decisionRequest(tok, req, warnings)

	resp, err := p.pdp.Evaluate(ctx, dreq)
	if err != nil {
		if p.config.failOpen(req.Action) {
			// Explicitly configured fail-open for this action. High
			// severity on both the log and the audit record.
			p.logger.Warn("fail-open exercised: PDP unavailable, action allowed by configuration",
				"action", req.Action,
				"resource", req.Resource,
				"correlation_id", correlationID,
				"error", err,
			)
			ev.Metadata["fail_open"] = "true"
			ev.Metadata["pdp_error"] = err.Error()
			return p.allow(ev, ReasonPdpUnavailable), nil
		}
		return p.deny(ev, ReasonPdpUnavailable, err), nil
	}

	if resp.PolicyID != "" {
		ev.Metadata["policy_id"] = resp.PolicyID
	}
	if resp.ReasonCode != "" {
		ev.Metadata["pdp_reason"] = resp.ReasonCode
	}
	if !resp.Allowed {
		return p.deny(ev, ReasonPdpDenied, errors.New(resp.ReasonCode)), nil
	}

	return p.allow(ev, ReasonOK), nil
}

// decisionRequest packages the two subjects plus the evaluation context for
// the PDP. Validator warnings ride along in the environment so policy can
// factor them in (e.g. confirming a non-explicit delegation).
func (p *PEP) decisionRequest(tok *token.Token, req Request, warnings []string) *DecisionRequest {
	env := make(map[string]string, len(req.Context)+len(warnings)+2)
	for k, v := range req.Context {
		env[k] = v
	}
	env[envDelegationMethod] = string(tok.Delegation.Method)
	env[envTokenVersion] = tok.Version
	for i, w := range warnings {
		key := envDelegationWarning
		if i > 0 {
			key += "." + strconv.Itoa(i)
		}
		env[key] = w
	}

	dreq := &DecisionRequest{
		AgentSubject:        tok.AgentSubject,
		Action:              req.Action,
		Resource:            req.Resource,
		AgentScopes:         tok.Scopes,
		DelegationMethod:    string(tok.Delegation.Method),
		DelegationGrantedAt: tok.Delegation.GrantedAt,
		DelegationExpiry:    tok.Delegation.Expiry,
		Environment:         env,
	}
	if tok.HumanActor != nil {
		dreq.HumanSubject = tok.HumanActor.Subject
		dreq.HumanScopes = tok.HumanScopes
	}
	return dreq
}

func (p *PEP) allow(ev AuditEvent, code ReasonCode) *Verdict {
	ev.Decision = Allow
	ev.ReasonCode = code
	p.emitter.record(ev)
	return &Verdict{Decision: Allow, ReasonCode: code, CorrelationID: ev.CorrelationID}
}

func (p *PEP) deny(ev AuditEvent, code ReasonCode, cause error) *Verdict {
	ev.Decision = Deny
	ev.ReasonCode = code
	if cause != nil {
		ev.Metadata["detail"] = cause.Error()
	}
	p.emitter.record(ev)
	return &Verdict{Decision: Deny, ReasonCode: code, CorrelationID: ev.CorrelationID}
}

// fillSubjects copies identity fields from a verified token onto the audit
// event. The intent summary is carried too; the emitter redacts it unless
// verbose capture is enabled.
func fillSubjects(ev *AuditEvent, tok *token.Token) {
	ev.AgentIdentity = tok.AgentSubject
	if tok.HumanActor != nil {
		ev.HumanIdentity = tok.HumanActor.Subject
	}
	ev.DelegationType = string(tok.Delegation.Method)
	ev.IntentSummary = tok.Delegation.IntentSummary
}

// codecReason maps token codec failures onto the reason taxonomy.
func codecReason(err error) ReasonCode {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ReasonExpired
	case errors.Is(err, token.ErrNotYetValid):
		return ReasonNotYetValid
	case errors.Is(err, token.ErrSignatureInvalid):
		return ReasonSignatureInvalid
	case errors.Is(err, token.ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	default:
		return ReasonMalformedClaims
	}
}
