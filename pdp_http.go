package agbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPDPTimeout = 2 * time.Second
	defaultPDPPath    = "/v1/data/agbac/authz"

	// maxPDPBody bounds the decision response size.
	maxPDPBody = 1 << 20
)

// HTTPPDPConfig configures an HTTP-backed PDP client.
type HTTPPDPConfig struct {
	// URL is the base URL of the PDP server.
	URL string
	// DecisionPath overrides the default decision endpoint path.
	DecisionPath string
	// Timeout bounds a single Evaluate call. Default: 2s.
	Timeout time.Duration
	// BearerToken, when set, is injected on every request.
	BearerToken string
	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client
}

// HTTPPDP calls a remote Policy Decision Point over JSON/HTTP using the
// OPA-style input/result envelope. Strict fail-closed semantics: any
// transport error, timeout, or unexpected response maps to
// ErrPDPUnavailable, which the orchestrator turns into a deny.
type HTTPPDP struct {
	config HTTPPDPConfig
	client *http.Client
}

// NewHTTPPDP creates an HTTP-backed PDP client.
func NewHTTPPDP(cfg HTTPPDPConfig) *HTTPPDP {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPDPTimeout
	}
	if cfg.DecisionPath == "" {
		cfg.DecisionPath = defaultPDPPath
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if cfg.BearerToken != "" {
		client = &http.Client{
			Transport: &bearerTransport{base: transportOf(client), token: cfg.BearerToken},
			Timeout:   client.Timeout,
		}
	}
	return &HTTPPDP{config: cfg, client: client}
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

// pdpEnvelope is the request envelope sent to the decision endpoint.
type pdpEnvelope struct {
	Input *DecisionRequest `json:"input"`
}

// pdpResult is the response envelope.
type pdpResult struct {
	Result *struct {
		Allow      bool   `json:"allow"`
		ReasonCode string `json:"reason_code,omitempty"`
		PolicyID   string `json:"policy_id,omitempty"`
	} `json:"result"`
}

// Evaluate implements PDP.
func (p *HTTPPDP) Evaluate(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(pdpEnvelope{Input: req})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrPDPUnavailable, err)
	}

	url := strings.TrimRight(p.config.URL, "/") + p.config.DecisionPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrPDPUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDPUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrPDPUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPDPBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrPDPUnavailable, err)
	}

	var result pdpResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPDPUnavailable, err)
	}
	if result.Result == nil {
		// An empty result means the decision document is undefined for
		// this input. Fail closed rather than guessing.
		return &DecisionResponse{Allowed: false, ReasonCode: "undefined_decision"}, nil
	}

	return &DecisionResponse{
		Allowed:    result.Result.Allow,
		ReasonCode: result.Result.ReasonCode,
		PolicyID:   result.Result.PolicyID,
	}, nil
}

// bearerTransport injects a static Bearer token into every outgoing request.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
