package agbac

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the enforcement configuration.
const (
	DefaultClockSkew          = 60 * time.Second
	DefaultPDPTimeout         = 2 * time.Second
	DefaultKeyFetchTimeout    = 5 * time.Second
	DefaultKeyRefreshInterval = 5 * time.Minute
	DefaultReplaySweep        = time.Minute
	DefaultAuditBuffer        = 256
	DefaultAuditMaxRetries    = 5
)

// Config is the enforcement point's configuration surface. Misconfiguration
// is detected at construction and is fatal at boot, never per-request.
type Config struct {
	// Issuer is the expected iss claim. Empty disables issuer matching.
	Issuer string `yaml:"issuer"`
	// JWKSURL is the issuer's key endpoint, used when no explicit Keyset
	// option is given. HTTPS is required outside of loopback.
	JWKSURL string `yaml:"jwks_url"`
	// PDPURL is the remote decision endpoint, used when no explicit PDP
	// option is given. HTTPS is required outside of loopback.
	PDPURL string `yaml:"pdp_url"`
	// PDPBearerToken authenticates calls to the PDP, if set.
	PDPBearerToken string `yaml:"pdp_bearer_token"`

	// AcceptedAlgorithms pins the signature algorithm names trusted for
	// inbound tokens. The token's own alg header never selects trust.
	AcceptedAlgorithms []string `yaml:"accepted_algorithms"`
	// SupportedVersions lists accepted agbac_version major components.
	SupportedVersions []int `yaml:"supported_versions"`

	// ClockSkew is the tolerance applied to token lifetime claims and to
	// replay-entry retention.
	ClockSkew time.Duration `yaml:"clock_skew"`
	// PDPTimeout bounds a single policy evaluation call.
	PDPTimeout time.Duration `yaml:"pdp_timeout"`
	// KeyFetchTimeout bounds a single JWKS fetch.
	KeyFetchTimeout time.Duration `yaml:"key_fetch_timeout"`
	// KeyRefreshInterval is the background key refresh schedule.
	KeyRefreshInterval time.Duration `yaml:"key_refresh_interval"`
	// ReplaySweepInterval is the background replay-cache sweep schedule.
	ReplaySweepInterval time.Duration `yaml:"replay_sweep_interval"`

	// AttributionActions are the actions that require a human actor on the
	// token. Evaluations of these actions with no human attached are denied
	// without consulting the PDP.
	AttributionActions []string `yaml:"attribution_required_actions"`
	// ActionScopes maps an action to the scopes the token must carry.
	ActionScopes map[string][]string `yaml:"action_scopes"`
	// AllowNonExplicit permits implicit/system delegation without an
	// explicit per-request policy confirmation.
	AllowNonExplicit bool `yaml:"allow_non_explicit_delegation"`
	// FailOpenActions is the bounded allow-list of actions permitted when
	// the PDP is unreachable. Populating it is an explicit, auditable
	// choice; every exercise of it is logged at high severity.
	FailOpenActions []string `yaml:"fail_open_actions"`

	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig configures audit emission.
type AuditConfig struct {
	// Verbose includes free-form fields such as the delegation intent
	// summary in audit records. Off by default: only structured fields
	// are emitted.
	Verbose bool `yaml:"verbose"`
	// Buffer is the emitter's bounded queue size.
	Buffer int `yaml:"buffer"`
	// MaxRetries caps delivery attempts per event before it is counted
	// dropped.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultConfig returns a Config with production defaults applied.
func DefaultConfig() Config {
	return Config{
		AcceptedAlgorithms:  []string{"EdDSA"},
		SupportedVersions:   []int{1},
		ClockSkew:           DefaultClockSkew,
		PDPTimeout:          DefaultPDPTimeout,
		KeyFetchTimeout:     DefaultKeyFetchTimeout,
		KeyRefreshInterval:  DefaultKeyRefreshInterval,
		ReplaySweepInterval: DefaultReplaySweep,
		Audit: AuditConfig{
			Buffer:     DefaultAuditBuffer,
			MaxRetries: DefaultAuditMaxRetries,
		},
	}
}

// fileConfig is the YAML wire form. Durations are strings ("60s", "2m") so
// config files read naturally.
type fileConfig struct {
	Issuer             string              `yaml:"issuer"`
	JWKSURL            string              `yaml:"jwks_url"`
	PDPURL             string              `yaml:"pdp_url"`
	PDPBearerToken     string              `yaml:"pdp_bearer_token"`
	AcceptedAlgorithms []string            `yaml:"accepted_algorithms"`
	SupportedVersions  []int               `yaml:"supported_versions"`
	ClockSkew          string              `yaml:"clock_skew"`
	PDPTimeout         string              `yaml:"pdp_timeout"`
	KeyFetchTimeout    string              `yaml:"key_fetch_timeout"`
	KeyRefreshInterval string              `yaml:"key_refresh_interval"`
	ReplaySweep        string              `yaml:"replay_sweep_interval"`
	AttributionActions []string            `yaml:"attribution_required_actions"`
	ActionScopes       map[string][]string `yaml:"action_scopes"`
	AllowNonExplicit   bool                `yaml:"allow_non_explicit_delegation"`
	FailOpenActions    []string            `yaml:"fail_open_actions"`
	Audit              struct {
		Verbose    bool `yaml:"verbose"`
		Buffer     int  `yaml:"buffer"`
		MaxRetries int  `yaml:"max_retries"`
	} `yaml:"audit"`
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Issuer = fc.Issuer
	cfg.JWKSURL = fc.JWKSURL
	cfg.PDPURL = fc.PDPURL
	cfg.PDPBearerToken = fc.PDPBearerToken
	if len(fc.AcceptedAlgorithms) > 0 {
		cfg.AcceptedAlgorithms = fc.AcceptedAlgorithms
	}
	if len(fc.SupportedVersions) > 0 {
		cfg.SupportedVersions = fc.SupportedVersions
	}
	cfg.AttributionActions = fc.AttributionActions
	cfg.ActionScopes = fc.ActionScopes
	cfg.AllowNonExplicit = fc.AllowNonExplicit
	cfg.FailOpenActions = fc.FailOpenActions
	cfg.Audit.Verbose = fc.Audit.Verbose
	if fc.Audit.Buffer > 0 {
		cfg.Audit.Buffer = fc.Audit.Buffer
	}
	if fc.Audit.MaxRetries > 0 {
		cfg.Audit.MaxRetries = fc.Audit.MaxRetries
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.ClockSkew, "clock_skew", &cfg.ClockSkew},
		{fc.PDPTimeout, "pdp_timeout", &cfg.PDPTimeout},
		{fc.KeyFetchTimeout, "key_fetch_timeout", &cfg.KeyFetchTimeout},
		{fc.KeyRefreshInterval, "key_refresh_interval", &cfg.KeyRefreshInterval},
		{fc.ReplaySweep, "replay_sweep_interval", &cfg.ReplaySweepInterval},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, errorf("parse config %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for coherence. It is called by New;
// failures here are boot failures.
func (c *Config) Validate() error {
	if len(c.AcceptedAlgorithms) == 0 {
		return errorf("config: accepted_algorithms must not be empty")
	}
	if len(c.SupportedVersions) == 0 {
		return errorf("config: supported_versions must not be empty")
	}
	if c.ClockSkew < 0 {
		return errorf("config: clock_skew must not be negative")
	}
	if c.PDPTimeout <= 0 {
		return errorf("config: pdp_timeout must be positive")
	}
	if c.KeyFetchTimeout <= 0 {
		return errorf("config: key_fetch_timeout must be positive")
	}
	if c.KeyRefreshInterval <= 0 {
		return errorf("config: key_refresh_interval must be positive")
	}
	if c.ReplaySweepInterval <= 0 {
		return errorf("config: replay_sweep_interval must be positive")
	}
	if c.JWKSURL != "" {
		if err := validateEndpointURL(c.JWKSURL, "jwks_url"); err != nil {
			return err
		}
	}
	if c.PDPURL != "" {
		if err := validateEndpointURL(c.PDPURL, "pdp_url"); err != nil {
			return err
		}
	}
	if c.Audit.Buffer <= 0 {
		return errorf("config: audit.buffer must be positive")
	}
	if c.Audit.MaxRetries <= 0 {
		return errorf("config: audit.max_retries must be positive")
	}
	return nil
}

// validateEndpointURL requires HTTPS for non-loopback endpoints. Tokens and
// decisions never travel in cleartext off the host.
func validateEndpointURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errorf("config: %s: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return errorf("config: %s must be an absolute URL, got %q", field, raw)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && isLoopback(u.Hostname()) {
		return nil
	}
	return fmt.Errorf("agbac: config: %s must use https (got %s)", field, u.Scheme)
}

func isLoopback(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}

// requiresAttribution reports whether action is classified as requiring a
// human actor on the token.
func (c *Config) requiresAttribution(action string) bool {
	for _, a := range c.AttributionActions {
		if a == action {
			return true
		}
	}
	return false
}

// requiredScopes returns the scopes the token must carry for action.
func (c *Config) requiredScopes(action string) []string {
	return c.ActionScopes[action]
}

// failOpen reports whether action is on the explicit fail-open allow-list.
func (c *Config) failOpen(action string) bool {
	for _, a := range c.FailOpenActions {
		if a == action {
			return true
		}
	}
	return false
}
