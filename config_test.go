package agbac

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agbac.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
issuer: https://idp.example.com
jwks_url: https://idp.example.com/.well-known/jwks.json
pdp_url: https://pdp.internal.example.com
accepted_algorithms: [EdDSA, RS256]
supported_versions: [1, 2]
clock_skew: 30s
pdp_timeout: 500ms
attribution_required_actions: [delete, export]
action_scopes:
  export: [export:records]
allow_non_explicit_delegation: true
fail_open_actions: [read]
audit:
  verbose: true
  buffer: 512
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example.com", cfg.Issuer)
	assert.Equal(t, []string{"EdDSA", "RS256"}, cfg.AcceptedAlgorithms)
	assert.Equal(t, []int{1, 2}, cfg.SupportedVersions)
	assert.Equal(t, 30*time.Second, cfg.ClockSkew)
	assert.Equal(t, 500*time.Millisecond, cfg.PDPTimeout)
	assert.Equal(t, []string{"delete", "export"}, cfg.AttributionActions)
	assert.Equal(t, []string{"export:records"}, cfg.ActionScopes["export"])
	assert.True(t, cfg.AllowNonExplicit)
	assert.Equal(t, []string{"read"}, cfg.FailOpenActions)
	assert.True(t, cfg.Audit.Verbose)
	assert.Equal(t, 512, cfg.Audit.Buffer)

	// Unset fields keep their defaults.
	assert.Equal(t, DefaultKeyRefreshInterval, cfg.KeyRefreshInterval)
	assert.Equal(t, DefaultAuditMaxRetries, cfg.Audit.MaxRetries)
}

func TestLoadConfig_MinimalFileGetsDefaults(t *testing.T) {
	path := writeConfigFile(t, `jwks_url: https://idp.example.com/jwks`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"EdDSA"}, cfg.AcceptedAlgorithms)
	assert.Equal(t, []int{1}, cfg.SupportedVersions)
	assert.Equal(t, DefaultClockSkew, cfg.ClockSkew)
	assert.Equal(t, DefaultAuditBuffer, cfg.Audit.Buffer)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfigFile(t, `clock_skew: sixty seconds`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfigFile(t, "issuer: [unterminated")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"no algorithms", func(c *Config) { c.AcceptedAlgorithms = nil }, false},
		{"no versions", func(c *Config) { c.SupportedVersions = nil }, false},
		{"negative skew", func(c *Config) { c.ClockSkew = -time.Second }, false},
		{"zero pdp timeout", func(c *Config) { c.PDPTimeout = 0 }, false},
		{"zero key refresh interval", func(c *Config) { c.KeyRefreshInterval = 0 }, false},
		{"zero replay sweep interval", func(c *Config) { c.ReplaySweepInterval = 0 }, false},
		{"zero audit buffer", func(c *Config) { c.Audit.Buffer = 0 }, false},
		{"zero audit retries", func(c *Config) { c.Audit.MaxRetries = 0 }, false},
		{"https jwks", func(c *Config) { c.JWKSURL = "https://idp.example.com/jwks" }, true},
		{"http jwks", func(c *Config) { c.JWKSURL = "http://idp.example.com/jwks" }, false},
		{"loopback http jwks", func(c *Config) { c.JWKSURL = "http://127.0.0.1:8080/jwks" }, true},
		{"localhost http pdp", func(c *Config) { c.PDPURL = "http://localhost:8181" }, true},
		{"http pdp", func(c *Config) { c.PDPURL = "http://pdp.example.com" }, false},
		{"relative pdp url", func(c *Config) { c.PDPURL = "/v1/data" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNew_RejectsHandAssembledConfigWithoutIntervals(t *testing.T) {
	// A Config built field by field rather than from DefaultConfig leaves
	// the background intervals zero. That must be a boot error, not a
	// later ticker panic in the maintenance goroutine.
	cfg := Config{
		AcceptedAlgorithms: []string{"EdDSA"},
		SupportedVersions:  []int{1},
		PDPTimeout:         time.Second,
		KeyFetchTimeout:    time.Second,
		Audit:              AuditConfig{Buffer: 8, MaxRetries: 1},
	}

	signer := newEvalSigner(t)
	pep, err := New(WithConfig(cfg), WithKeyset(signer.keyset), WithPDP(allowAllPDP()))
	require.Error(t, err)
	assert.Nil(t, pep)
}

func TestNew_ConfigErrorsAreBootErrors(t *testing.T) {
	// No key material and no JWKS endpoint.
	_, err := New(WithConfig(DefaultConfig()), WithoutBackgroundTasks())
	assert.Error(t, err)

	// Key material present but no decision point.
	signer := newEvalSigner(t)
	_, err = New(
		WithConfig(DefaultConfig()),
		WithKeyset(signer.keyset),
		WithoutBackgroundTasks(),
	)
	assert.Error(t, err)

	// Invalid configuration fails before anything is wired.
	bad := DefaultConfig()
	bad.AcceptedAlgorithms = nil
	_, err = New(WithConfig(bad), WithKeyset(signer.keyset), WithPDP(allowAllPDP()), WithoutBackgroundTasks())
	assert.Error(t, err)
}
