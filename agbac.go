// Package agbac provides an embeddable Policy Enforcement Point (PEP) for
// dual-subject delegation tokens: credentials that bind an AI agent and the
// human principal on whose behalf it acts into a single bounded grant.
//
// Each evaluation verifies the token's signature and lifetime, applies the
// delegation semantics (human attribution, delegation expiry, scope
// requirements), rejects replayed token identifiers, consults a Policy
// Decision Point for both subjects, and emits exactly one structured audit
// record before returning an Allow/Deny verdict.
//
// Quick start using the global client:
//
//	agbac.Init(
//	    agbac.WithConfigFile("/etc/agbac/pep.yaml"),
//	)
//	defer agbac.Shutdown(context.Background())
//
//	verdict, err := agbac.Evaluate(ctx, agbac.Request{
//	    RawToken: bearer,
//	    Action:   "read",
//	    Resource: "records/55239",
//	})
//
// For explicit client management:
//
//	pep, err := agbac.New(
//	    agbac.WithKeyset(agbac.JWKSKeyset(agbac.JWKSKeysetConfig{URL: jwksURL})),
//	    agbac.WithPDP(agbac.NewHTTPPDP(agbac.HTTPPDPConfig{URL: pdpURL})),
//	)
//	defer pep.Close()
package agbac

import (
	"context"
	"net/http"
	"sync"
)

var (
	globalMu  sync.Mutex
	globalPEP *PEP
)

// Init initializes the global enforcement point. Call this once at startup.
// Options configure key material, the PDP, audit, and logging.
func Init(opts ...Option) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPEP != nil {
		_ = globalPEP.Close()
		globalPEP = nil
	}

	p, err := New(opts...)
	if err != nil {
		return err
	}
	globalPEP = p
	return nil
}

// Evaluate runs an evaluation on the global enforcement point.
// Init must be called before Evaluate.
func Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	p, err := getGlobalPEP()
	if err != nil {
		return nil, err
	}
	return p.Evaluate(ctx, req)
}

// Middleware wraps an http.Handler with enforcement using the global PEP.
// Requests without a valid, authorized delegation token are rejected.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := getGlobalPEP()
		if err != nil {
			// Fail closed: an uninitialized enforcement point never
			// passes traffic through.
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		p.Middleware(next).ServeHTTP(w, r)
	})
}

// Shutdown stops the global enforcement point, draining the audit queue.
// It is safe to call Shutdown multiple times.
func Shutdown(_ context.Context) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPEP != nil {
		err := globalPEP.Close()
		globalPEP = nil
		return err
	}
	return nil
}

func getGlobalPEP() (*PEP, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalPEP == nil {
		return nil, errorf("enforcement point not initialized (call agbac.Init first)")
	}
	return globalPEP, nil
}
