package agbac

import (
	"context"
	"crypto"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agbac-io/agbac-go/internal/keys"
)

// Keyset supplies the verification key material for token validation. The
// PEP treats key material as an injected dependency fetched and cached out
// of band; the token codec sees only the Keyfunc.
type Keyset interface {
	Keyfunc() jwt.Keyfunc
}

// refreshableKeyset is implemented by keysets that refresh key material from
// a remote source. The PEP drives refresh on a background schedule.
type refreshableKeyset interface {
	Keyset
	Refresh(ctx context.Context) error
}

// StaticKeyset builds a Keyset from an in-memory kid→public-key map. Meant
// for tests and deployments where issuer keys are provisioned directly.
func StaticKeyset(pubs map[string]crypto.PublicKey) Keyset {
	return keys.NewStatic(pubs)
}

// JWKSKeysetConfig configures a JWKS-backed Keyset.
type JWKSKeysetConfig struct {
	// URL is the issuer's JWKS endpoint.
	URL string
	// FetchTimeout bounds a single document fetch. Default: 5s.
	FetchTimeout time.Duration
	// TTL is how long fetched keys stay usable without a refresh.
	TTL time.Duration
	// BearerToken, when set, authenticates fetches.
	BearerToken string
	// HTTPClient overrides the fetch client.
	HTTPClient *http.Client
}

// JWKSKeyset builds a Keyset that fetches keys from the issuer's JWKS
// endpoint, caches them with a TTL, and refetches once on an unknown kid.
// When used inside a PEP, the key material is additionally refreshed on a
// background schedule independent of request handling.
func JWKSKeyset(cfg JWKSKeysetConfig) Keyset {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.BearerToken != "" {
		client = &http.Client{
			Transport: &bearerTransport{base: transportOf(client), token: cfg.BearerToken},
			Timeout:   client.Timeout,
		}
	}
	return keys.NewJWKS(keys.JWKSConfig{
		URL:          cfg.URL,
		HTTPClient:   client,
		FetchTimeout: cfg.FetchTimeout,
		TTL:          cfg.TTL,
	})
}
