package agbac

import (
	"fmt"
	"time"

	"github.com/agbac-io/agbac-go/internal/token"
)

// delegationWarning keys forwarded to the PDP in the decision request
// environment. Policy can factor them into its decision.
const (
	envDelegationWarning = "agbac.delegation_warning"
	envDelegationMethod  = "agbac.delegation_method"
	envTokenVersion      = "agbac.token_version"
)

// validateDelegation applies the AGBAC semantic rules to a structurally
// valid token. It returns zero or more warnings for the PDP, or a deny
// error carrying the specific reason. Each rule fails closed; only the
// non-explicit-method rule defers to policy via a warning.
func validateDelegation(tok *token.Token, action string, cfg *Config, now time.Time) ([]string, error) {
	// Rule 1: actions classified as requiring human attribution must carry
	// a human actor. No PDP call is made for a token failing this.
	if cfg.requiresAttribution(action) && tok.HumanActor == nil {
		return nil, denyReason(ReasonMissingHumanActor,
			fmt.Errorf("action %q requires human attribution", action))
	}

	// Rule 2: the delegation's own expiry is independent of token exp. An
	// organization can revoke a delegation window shorter than token TTL.
	if !tok.Delegation.Expiry.IsZero() && now.After(tok.Delegation.Expiry) {
		return nil, denyReason(ReasonDelegationExpired,
			fmt.Errorf("delegation expired at %s", tok.Delegation.Expiry.UTC().Format(time.RFC3339)))
	}

	// Rule 4: every scope the action requires must be granted.
	if required := cfg.requiredScopes(action); len(required) > 0 {
		granted := make(map[string]bool, len(tok.Scopes))
		for _, s := range tok.Scopes {
			granted[s] = true
		}
		for _, want := range required {
			if !granted[want] {
				return nil, denyReason(ReasonInsufficientScope,
					fmt.Errorf("action %q requires scope %q", action, want))
			}
		}
	}

	// Rule 3: non-explicit delegation is not rejected locally. The token is
	// marked and the final call is deferred to policy, unless configuration
	// explicitly permits it.
	var warnings []string
	if tok.Delegation.Method != token.MethodExplicit && !cfg.AllowNonExplicit {
		warnings = append(warnings,
			fmt.Sprintf("non-explicit delegation (%s), pending policy confirmation", tok.Delegation.Method))
	}
	return warnings, nil
}
