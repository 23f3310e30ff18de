// Package signature implements the Signature Verifier: Ed25519,
// RSA-SHA256 (PKCS#1 v1.5), and ECDSA-P256 verification over a canonical
// signing message, backed by a trusted key registry keyed by key id.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Algorithm identifies a supported signature scheme.
type Algorithm string

const (
	AlgEd25519   Algorithm = "Ed25519"
	AlgRSASHA256 Algorithm = "RSA-SHA256"
	AlgECDSAP256 Algorithm = "ECDSA-P256"
)

// TrustedKey is one entry in the registry.
type TrustedKey struct {
	KeyID     string
	Algorithm Algorithm
	PublicKey crypto.PublicKey
}

// Registry is the trusted key set: keyId → {algorithm, publicKey}.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]TrustedKey
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]TrustedKey)}
}

// Add registers or replaces a trusted key.
func (r *Registry) Add(key TrustedKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.KeyID] = key
}

// Get looks up a trusted key by id.
func (r *Registry) Get(keyID string) (TrustedKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[keyID]
	return k, ok
}

// SoleKeyForAlgorithm returns the single trusted key of the given
// algorithm, if and only if there is exactly one — used to resolve the
// two-part signature envelope (no explicit keyId) unambiguously.
func (r *Registry) SoleKeyForAlgorithm(alg Algorithm) (TrustedKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found TrustedKey
	count := 0
	for _, k := range r.keys {
		if k.Algorithm == alg {
			found = k
			count++
		}
	}
	return found, count == 1
}

// Verifier verifies signed messages against a Registry.
type Verifier struct {
	registry *Registry
	logger   *slog.Logger
}

// NewVerifier constructs a Verifier over registry.
func NewVerifier(registry *Registry, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{registry: registry, logger: logger.With("component", "signature.Verifier")}
}

// Verify checks envelope (formatted "<alg>:<keyId>:<base64url>" or, when
// exactly one trusted key exists for that algorithm, "<alg>:<base64url>")
// against the sha256 digest of message. It returns nil on success and a
// descriptive error otherwise; it never panics on malformed input.
func (v *Verifier) Verify(message []byte, envelope string) error {
	alg, keyID, sigBytes, err := parseEnvelope(envelope)
	if err != nil {
		return err
	}

	var key TrustedKey
	var ok bool
	if keyID != "" {
		key, ok = v.registry.Get(keyID)
		if ok && key.Algorithm != alg {
			return fmt.Errorf("signature: key %q is registered for %s, not %s", keyID, key.Algorithm, alg)
		}
	} else {
		key, ok = v.registry.SoleKeyForAlgorithm(alg)
	}
	if !ok {
		return fmt.Errorf("signature: no trusted key found for algorithm %s (keyId=%q)", alg, keyID)
	}

	digest := sha256.Sum256(message)
	if err := verifyDigest(key.PublicKey, digest[:], sigBytes, alg); err != nil {
		v.logger.Warn("signature verification failed", "key_id", key.KeyID, "algorithm", alg, "error", err)
		return err
	}
	return nil
}

// parseEnvelope splits "<alg>:<keyId>:<base64url>" or "<alg>:<base64url>".
func parseEnvelope(envelope string) (Algorithm, string, []byte, error) {
	parts := strings.Split(envelope, ":")
	switch len(parts) {
	case 3:
		sig, err := decodeBase64(parts[2])
		if err != nil {
			return "", "", nil, fmt.Errorf("signature: invalid base64 payload: %w", err)
		}
		return Algorithm(parts[0]), parts[1], sig, nil
	case 2:
		sig, err := decodeBase64(parts[1])
		if err != nil {
			return "", "", nil, fmt.Errorf("signature: invalid base64 payload: %w", err)
		}
		return Algorithm(parts[0]), "", sig, nil
	default:
		return "", "", nil, fmt.Errorf("signature: malformed envelope %q", envelope)
	}
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func verifyDigest(pub crypto.PublicKey, digest, sig []byte, alg Algorithm) error {
	switch key := pub.(type) {
	case ed25519.PublicKey:
		if alg != AlgEd25519 {
			return fmt.Errorf("signature: algorithm mismatch for ed25519 key: %s", alg)
		}
		if !ed25519.Verify(key, digest, sig) {
			return fmt.Errorf("signature: ed25519 verification failed")
		}
		return nil

	case *rsa.PublicKey:
		if alg != AlgRSASHA256 {
			return fmt.Errorf("signature: algorithm mismatch for rsa key: %s", alg)
		}
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig)

	case *ecdsa.PublicKey:
		if alg != AlgECDSAP256 {
			return fmt.Errorf("signature: algorithm mismatch for ecdsa key: %s", alg)
		}
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return fmt.Errorf("signature: ecdsa verification failed")
		}
		return nil

	default:
		return fmt.Errorf("signature: unsupported public key type %T", pub)
	}
}

// Sign produces a signature envelope for message under priv, tagging it
// with keyID and alg. Used by tests and by operator tooling that issues
// kill-switch commands; production verification never needs this.
func Sign(priv crypto.Signer, alg Algorithm, keyID string, message []byte) (string, error) {
	digest := sha256.Sum256(message)

	var sig []byte
	var err error
	switch alg {
	case AlgEd25519:
		edKey, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return "", fmt.Errorf("signature: signer is not an ed25519 key")
		}
		sig = ed25519.Sign(edKey, digest[:])
	case AlgRSASHA256:
		sig, err = priv.Sign(nil, digest[:], crypto.SHA256)
	case AlgECDSAP256:
		sig, err = priv.Sign(nil, digest[:], crypto.SHA256)
	default:
		return "", fmt.Errorf("signature: unsupported algorithm %s", alg)
	}
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(sig)
	if keyID == "" {
		return fmt.Sprintf("%s:%s", alg, encoded), nil
	}
	return fmt.Sprintf("%s:%s:%s", alg, keyID, encoded), nil
}
