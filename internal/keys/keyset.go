// Package keys supplies verification key material for delegation-token
// validation. Key material is fetched and cached out of band from request
// handling; the token codec only ever sees a jwt.Keyfunc.
package keys

import (
	"crypto"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Static is an in-memory keyset keyed by kid. Useful for tests and
// air-gapped deployments where the issuer's keys are provisioned directly.
type Static struct {
	mu   sync.RWMutex
	keys map[string]crypto.PublicKey
}

// NewStatic creates a Static keyset from the given kid→key map.
func NewStatic(keys map[string]crypto.PublicKey) *Static {
	copied := make(map[string]crypto.PublicKey, len(keys))
	for kid, k := range keys {
		copied[kid] = k
	}
	return &Static{keys: copied}
}

// Add registers a verification key under kid, replacing any previous key.
func (s *Static) Add(kid string, key crypto.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = key
}

// Keyfunc resolves keys by the token's kid header.
func (s *Static) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}

		s.mu.RLock()
		defer s.mu.RUnlock()
		key, exists := s.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key, nil
	}
}
