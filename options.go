package agbac

import (
	"log/slog"
	"time"
)

// settings holds resolved construction-time choices for a PEP.
type settings struct {
	config     Config
	configPath string
	keyset     Keyset
	pdp        PDP
	sink       Sink
	logger     *slog.Logger
	clock      func() time.Time

	disableBackground bool
}

// Option configures a PEP.
type Option func(*settings)

// WithConfig sets the full enforcement configuration.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.config = cfg
	}
}

// WithConfigFile loads the enforcement configuration from a YAML file.
// Load errors surface from New.
func WithConfigFile(path string) Option {
	return func(s *settings) {
		s.configPath = path
	}
}

// WithKeyset injects the verification key material, overriding the
// JWKS endpoint from configuration.
func WithKeyset(ks Keyset) Option {
	return func(s *settings) {
		s.keyset = ks
	}
}

// WithPDP injects the Policy Decision Point, overriding the PDP endpoint
// from configuration. Use NewCedarPDP for in-process evaluation.
func WithPDP(p PDP) Option {
	return func(s *settings) {
		s.pdp = p
	}
}

// WithAuditSink injects the audit sink. By default events are written as
// JSON lines to stdout.
func WithAuditSink(sink Sink) Option {
	return func(s *settings) {
		s.sink = sink
	}
}

// WithLogger sets a custom slog logger. By default the PEP uses
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithoutBackgroundTasks disables the replay-sweep and key-refresh
// goroutines. Expired replay entries are then evicted on access only.
func WithoutBackgroundTasks() Option {
	return func(s *settings) {
		s.disableBackground = true
	}
}

func defaultSettings() settings {
	return settings{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
}
