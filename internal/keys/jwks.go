package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// maxJWKSBody bounds the JWKS response size.
	maxJWKSBody = 1 << 20

	defaultFetchTimeout = 5 * time.Second
	defaultKeyTTL       = 15 * time.Minute
)

// JWKSConfig configures a JWKS keyset.
type JWKSConfig struct {
	// URL is the issuer's JWKS document endpoint.
	URL string
	// HTTPClient overrides the client used for fetches.
	HTTPClient *http.Client
	// FetchTimeout bounds a single document fetch. Default: 5s.
	FetchTimeout time.Duration
	// TTL is how long fetched keys stay usable without a refresh.
	// Default: 15m.
	TTL time.Duration
}

// JWKS fetches verification keys from an issuer's JWKS endpoint, caching
// them with a TTL. A cache miss during key resolution triggers a single
// bounded refetch; periodic refresh is driven externally via Refresh.
type JWKS struct {
	url     string
	client  *http.Client
	timeout time.Duration
	cache   *gocache.Cache

	mu   sync.Mutex
	etag string
}

// NewJWKS creates a JWKS keyset. It performs no network I/O until the first
// key resolution or Refresh call.
func NewJWKS(cfg JWKSConfig) *JWKS {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.FetchTimeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultKeyTTL
	}
	return &JWKS{
		url:     cfg.URL,
		client:  client,
		timeout: timeout,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

// Keyfunc resolves keys by kid, refetching the document once on a miss.
func (j *JWKS) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}

		if key, found := j.cache.Get(kid); found {
			return key, nil
		}

		// Unknown kid: the issuer may have rotated. One bounded refetch.
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if err := j.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("refresh keys: %w", err)
		}

		if key, found := j.cache.Get(kid); found {
			return key, nil
		}
		return nil, fmt.Errorf("key not found: %s", kid)
	}
}

// jwksDocument is the wire form of a JWKS endpoint response.
type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Crv string `json:"crv,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// Refresh fetches the JWKS document and replaces the cached keys. It uses
// ETag-based conditional requests; a 304 leaves the cache untouched but
// renews the TTL of every cached key.
func (j *JWKS) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	j.mu.Lock()
	if j.etag != "" {
		req.Header.Set("If-None-Match", j.etag)
	}
	j.mu.Unlock()

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		for kid, item := range j.cache.Items() {
			j.cache.SetDefault(kid, item.Object)
		}
		return nil

	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
		if err != nil {
			return fmt.Errorf("read jwks body: %w", err)
		}

		var doc jwksDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("decode jwks: %w", err)
		}

		loaded := 0
		for _, k := range doc.Keys {
			if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
				continue
			}
			pub, err := parseJWK(k)
			if err != nil {
				// Skip keys of types we do not verify with.
				continue
			}
			j.cache.SetDefault(k.Kid, pub)
			loaded++
		}
		if loaded == 0 {
			return fmt.Errorf("jwks document at %s contained no usable keys", j.url)
		}

		if etag := resp.Header.Get("ETag"); etag != "" {
			j.mu.Lock()
			j.etag = etag
			j.mu.Unlock()
		}
		return nil

	default:
		return fmt.Errorf("unexpected status %d from jwks endpoint", resp.StatusCode)
	}
}

// parseJWK converts a single JWK into a crypto.PublicKey. RSA, the NIST
// P-curves, and Ed25519 cover the algorithm families a deployment can pin.
func parseJWK(k jwk) (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: n: %w", k.Kid, err)
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: e: %w", k.Kid, err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("jwk %s: unsupported curve %q", k.Kid, k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: x: %w", k.Kid, err)
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: y: %w", k.Kid, err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	case "OKP":
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("jwk %s: unsupported curve %q", k.Kid, k.Crv)
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: x: %w", k.Kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("jwk %s: bad ed25519 key length %d", k.Kid, len(raw))
		}
		return ed25519.PublicKey(raw), nil

	default:
		return nil, fmt.Errorf("jwk %s: unsupported key type %q", k.Kid, k.Kty)
	}
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
