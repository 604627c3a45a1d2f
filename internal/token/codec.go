package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec verifies raw bearer strings against injected key material and maps
// their claims into Tokens. The accepted signature algorithms are pinned at
// construction; the alg header of an inbound token never selects trust.
type Codec struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
	majors  map[int]bool
}

// CodecConfig configures a Codec.
type CodecConfig struct {
	// Keyfunc resolves the verification key for a token header (kid lookup).
	Keyfunc jwt.Keyfunc
	// Algorithms is the pinned set of accepted signing algorithm names
	// (e.g. "EdDSA", "RS256"). Must be non-empty.
	Algorithms []string
	// Issuer, when set, is required to match the token's iss claim.
	Issuer string
	// Leeway is the clock-skew tolerance applied to exp/nbf/iat.
	Leeway time.Duration
	// SupportedMajors lists the delegation-claim major versions this
	// deployment accepts.
	SupportedMajors []int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewCodec builds a Codec from the given configuration.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.Keyfunc == nil {
		return nil, errors.New("token: keyfunc is required")
	}
	if len(cfg.Algorithms) == 0 {
		return nil, errors.New("token: at least one accepted algorithm is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	majors := make(map[int]bool, len(cfg.SupportedMajors))
	for _, m := range cfg.SupportedMajors {
		majors[m] = true
	}

	return &Codec{
		parser:  jwt.NewParser(opts...),
		keyfunc: cfg.Keyfunc,
		majors:  majors,
	}, nil
}

// wireClaims is the on-the-wire claim shape of a delegation token.
type wireClaims struct {
	jwt.RegisteredClaims
	Act         json.RawMessage `json:"act,omitempty"`
	Delegation  *wireDelegation `json:"delegation,omitempty"`
	Scope       string          `json:"scope,omitempty"`
	Scopes      []string        `json:"scopes,omitempty"`
	HumanScopes []string        `json:"human_scopes,omitempty"`
	Version     string          `json:"agbac_version,omitempty"`
}

type wireDelegation struct {
	Method        string `json:"method"`
	GrantedAt     int64  `json:"granted_at,omitempty"`
	Expiry        int64  `json:"expiry,omitempty"`
	IntentSummary string `json:"intent_summary,omitempty"`
}

// knownClaims are the claim names mapped into the structured Token. Anything
// else is carried opaquely in Token.Extra.
var knownClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "nbf": true,
	"iat": true, "jti": true, "act": true, "delegation": true,
	"scope": true, "scopes": true, "human_scopes": true, "agbac_version": true,
}

// Decode verifies the signature and standard lifetime claims of raw, then
// maps its claims into a Token. The returned error wraps exactly one of the
// kind sentinels in this package.
func (c *Codec) Decode(raw string) (*Token, error) {
	claims := &wireClaims{}
	parsed, err := c.parser.ParseWithClaims(raw, claims, c.keyfunc)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}
	return c.mapClaims(raw, claims)
}

// classifyParseError translates jwt/v5 error wrapping into this package's
// failure kinds, preserving the underlying detail for audit.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		// Unverifiable covers key-resolution failures and rejected
		// algorithms; both are trust failures, not claim failures.
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

func (c *Codec) mapClaims(raw string, claims *wireClaims) (*Token, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing agent subject (sub)", ErrMalformed)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token identifier (jti)", ErrMalformed)
	}
	if claims.Delegation == nil {
		return nil, fmt.Errorf("%w: missing delegation claim", ErrMalformed)
	}
	if claims.Version == "" {
		return nil, fmt.Errorf("%w: missing agbac_version claim", ErrMalformed)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat claim", ErrMalformed)
	}
	if !claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: exp is not after iat", ErrMalformed)
	}

	major, err := majorVersion(claims.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !c.majors[major] {
		return nil, fmt.Errorf("%w: major version %d", ErrUnsupportedVersion, major)
	}

	actor, err := decodeActor(claims.Act)
	if err != nil {
		return nil, err
	}

	method := Method(claims.Delegation.Method)
	switch method {
	case MethodExplicit, MethodImplicit, MethodSystem:
	default:
		return nil, fmt.Errorf("%w: unknown delegation method %q", ErrMalformed, claims.Delegation.Method)
	}

	tok := &Token{
		AgentSubject: claims.Subject,
		HumanActor:   actor,
		Delegation: Delegation{
			Method:        method,
			IntentSummary: claims.Delegation.IntentSummary,
		},
		Scopes:      decodeScopes(claims.Scope, claims.Scopes),
		HumanScopes: claims.HumanScopes,
		Version:     claims.Version,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		Issuer:      claims.Issuer,
		Extra:       extraClaims(raw),
	}
	if claims.Delegation.GrantedAt != 0 {
		tok.Delegation.GrantedAt = time.Unix(claims.Delegation.GrantedAt, 0).UTC()
	}
	if claims.Delegation.Expiry != 0 {
		tok.Delegation.Expiry = time.Unix(claims.Delegation.Expiry, 0).UTC()
	}
	return tok, nil
}

// decodeActor accepts the structured form {"sub": "..."} and, for wire
// compatibility with issuers that emit a bare string, normalizes "user:x"
// to the structured form.
func decodeActor(raw json.RawMessage) (*Actor, error) {
	// Absent and explicit null both mean no human actor.
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var obj struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Subject == "" {
			return nil, fmt.Errorf("%w: act claim missing sub", ErrMalformed)
		}
		return &Actor{Subject: obj.Subject}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &Actor{Subject: s}, nil
	}
	return nil, fmt.Errorf("%w: act claim is neither an object nor a string", ErrMalformed)
}

// decodeScopes merges the OAuth space-separated scope claim and the array
// form. Issuers use one or the other; both are accepted.
func decodeScopes(scope string, scopes []string) []string {
	out := make([]string, 0, len(scopes))
	out = append(out, scopes...)
	for _, s := range strings.Fields(scope) {
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// extraClaims re-decodes the payload segment and strips the claims the codec
// already mapped. Decode errors are impossible here: the segment was already
// parsed by the verifier.
func extraClaims(raw string) map[string]any {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var all map[string]any
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil
	}
	for k := range all {
		if knownClaims[k] {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

func majorVersion(version string) (int, error) {
	head := version
	if i := strings.IndexByte(version, '.'); i >= 0 {
		head = version[:i]
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("unparsable agbac_version %q", version)
	}
	return major, nil
}
