package token

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Key is one signing/verification key, identified by kid.
type Key struct {
	KeyID     string
	Algorithm string // RS256 | ES256 | HS256 | EdDSA
	SignKey   any    // private key (or the shared secret for HS256)
	VerifyKey any    // public key (or the shared secret for HS256)
}

// KeyStore holds the keys a Generator signs with and a Validator trusts,
// keyed by kid. Safe for concurrent use; keys are added or replaced one
// kid at a time through Add, which is also how the Validator's JWKS
// refresh installs fetched keys.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewKeyStore constructs a KeyStore seeded with keys.
func NewKeyStore(keys ...Key) *KeyStore {
	ks := &KeyStore{keys: make(map[string]Key, len(keys))}
	for _, k := range keys {
		ks.keys[k.KeyID] = k
	}
	return ks
}

// Add registers or replaces a key.
func (ks *KeyStore) Add(k Key) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[k.KeyID] = k
}

// Get looks up a key by id.
func (ks *KeyStore) Get(kid string) (Key, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[kid]
	return k, ok
}

// SigningMethod returns the jwt.SigningMethod for an algorithm name.
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "ES256":
		return jwt.SigningMethodES256, nil
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "EdDSA":
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", alg)
	}
}
