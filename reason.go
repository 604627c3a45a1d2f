package agbac

import (
	"errors"
	"fmt"
)

// Decision is the terminal outcome of an evaluation. There is no partial
// state: every evaluation ends in exactly one of these.
type Decision string

const (
	Allow Decision = "ALLOW"
	Deny  Decision = "DENY"
)

// ReasonCode identifies why an evaluation reached its terminal state. Each
// code maps to exactly one audit reason; codes are never merged so the audit
// trail can distinguish, say, a tampered token from an expired one even
// though the caller sees only the deny.
type ReasonCode string

const (
	ReasonOK ReasonCode = "OK"

	// Token codec failures.
	ReasonSignatureInvalid   ReasonCode = "SignatureInvalid"
	ReasonExpired            ReasonCode = "Expired"
	ReasonNotYetValid        ReasonCode = "NotYetValid"
	ReasonMalformedClaims    ReasonCode = "MalformedClaims"
	ReasonUnsupportedVersion ReasonCode = "UnsupportedVersion"

	// Delegation validator failures.
	ReasonMissingHumanActor ReasonCode = "MissingHumanActor"
	ReasonDelegationExpired ReasonCode = "DelegationExpired"
	ReasonInsufficientScope ReasonCode = "InsufficientScope"

	// Replay guard failure.
	ReasonTokenReplayed ReasonCode = "TokenReplayed"

	// Policy evaluation outcomes.
	ReasonPdpUnavailable ReasonCode = "PdpUnavailable"
	ReasonPdpDenied      ReasonCode = "PdpDenied"
)

// reasonError pairs a ReasonCode with the underlying failure detail. The
// detail stays in logs and audit metadata; the caller receives the code only.
type reasonError struct {
	code ReasonCode
	err  error
}

func (e *reasonError) Error() string {
	if e.err == nil {
		return string(e.code)
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *reasonError) Unwrap() error { return e.err }

func denyReason(code ReasonCode, err error) error {
	return &reasonError{code: code, err: err}
}

// reasonOf extracts the ReasonCode from an error produced by the pipeline.
func reasonOf(err error) (ReasonCode, bool) {
	var re *reasonError
	if errors.As(err, &re) {
		return re.code, true
	}
	return "", false
}

// errorf returns a formatted error prefixed with "agbac:".
func errorf(format string, args ...any) error {
	return fmt.Errorf("agbac: "+format, args...)
}
