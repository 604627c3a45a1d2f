package agbac

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/agbac-io/agbac-go/internal/replay"
	"github.com/agbac-io/agbac-go/internal/token"
)

// PEP is the Policy Enforcement Point. It is stateless per request and safe
// for concurrent use; the only shared mutable state is the replay guard's
// identifier cache and the audit emitter's delivery queue. Use New to create
// one, or the global Init/Evaluate/Shutdown functions.
type PEP struct {
	config  Config
	codec   *token.Codec
	keyset  Keyset
	replay  *replay.Guard
	pdp     PDP
	emitter *emitter
	logger  *slog.Logger
	clock   func() time.Time

	cancel  func()
	stopped chan struct{}
}

// closeDrainTimeout bounds how long Close waits for the audit queue.
const closeDrainTimeout = 5 * time.Second

// New creates a PEP from the given options. Endpoint fields left empty by
// options and config file fall back to the AGBAC_ISSUER, AGBAC_JWKS_URL,
// AGBAC_PDP_URL, and AGBAC_PDP_TOKEN environment variables. Configuration
// problems are reported here, at boot; Evaluate never fails on configuration.
func New(opts ...Option) (*PEP, error) {
	s := defaultSettings()
	for _, o := range opts {
		o(&s)
	}

	if s.configPath != "" {
		loaded, err := LoadConfig(s.configPath)
		if err != nil {
			return nil, err
		}
		s.config = *loaded
	}

	if s.config.Issuer == "" {
		s.config.Issuer = os.Getenv("AGBAC_ISSUER")
	}
	if s.config.JWKSURL == "" {
		s.config.JWKSURL = os.Getenv("AGBAC_JWKS_URL")
	}
	if s.config.PDPURL == "" {
		s.config.PDPURL = os.Getenv("AGBAC_PDP_URL")
	}
	if s.config.PDPBearerToken == "" {
		s.config.PDPBearerToken = os.Getenv("AGBAC_PDP_TOKEN")
	}

	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	cfg := s.config

	keyset := s.keyset
	if keyset == nil {
		if cfg.JWKSURL == "" {
			return nil, errorf("key material required (set jwks_url or use WithKeyset)")
		}
		keyset = JWKSKeyset(JWKSKeysetConfig{
			URL:          cfg.JWKSURL,
			FetchTimeout: cfg.KeyFetchTimeout,
		})
	}

	pdpClient := s.pdp
	if pdpClient == nil {
		if cfg.PDPURL == "" {
			return nil, errorf("policy decision point required (set pdp_url or use WithPDP)")
		}
		pdpClient = NewHTTPPDP(HTTPPDPConfig{
			URL:         cfg.PDPURL,
			Timeout:     cfg.PDPTimeout,
			BearerToken: cfg.PDPBearerToken,
		})
	}

	codec, err := token.NewCodec(token.CodecConfig{
		Keyfunc:         keyset.Keyfunc(),
		Algorithms:      cfg.AcceptedAlgorithms,
		Issuer:          cfg.Issuer,
		Leeway:          cfg.ClockSkew,
		SupportedMajors: cfg.SupportedVersions,
		Clock:           s.clock,
	})
	if err != nil {
		return nil, errorf("build token codec: %w", err)
	}

	sink := s.sink
	if sink == nil {
		sink = NewWriterSink(nil)
	}

	logger := s.logger
	if len(cfg.FailOpenActions) > 0 {
		// Fail-open is an explicit operator choice. Log it loudly at boot
		// so it never passes unnoticed.
		logger.Warn("fail-open allow-list configured; these actions bypass a PDP outage",
			"actions", cfg.FailOpenActions)
	}

	p := &PEP{
		config:  cfg,
		codec:   codec,
		keyset:  keyset,
		replay:  replay.NewGuard(cfg.ClockSkew, s.clock),
		pdp:     pdpClient,
		emitter: newEmitter(sink, cfg.Audit, s.logger),
		logger:  logger,
		clock:   s.clock,
	}

	if !s.disableBackground {
		p.startBackground()
	}
	return p, nil
}

// Close stops the background goroutines and drains the audit queue. It is
// safe to call Close multiple times.
func (p *PEP) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.stopped
		p.cancel = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeDrainTimeout)
	defer cancel()
	return p.emitter.close(ctx)
}
