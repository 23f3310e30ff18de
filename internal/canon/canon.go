// Package canon implements the one non-trivial serialisation contract the
// rest of the core agrees on: stable, field-ordered JSON plus its SHA-256
// digest. Every hash in this module — golden-thread hashes, governance
// event hashes, Merkle leaves, signed command messages — goes through
// Canonicalize first.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Canonicalize serialises v as UTF-8 JSON with object keys sorted
// lexicographically at every depth and no insignificant whitespace. v is
// first round-tripped through encoding/json so struct field tags and
// map[string]any values are normalised identically.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Hash returns the "sha256:<hex>" digest of v's canonical serialisation.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the "sha256:<hex>" digest of raw bytes already in
// canonical form; Hash uses it for its final step. The Merkle builder
// computes its node digests with crypto/sha256 directly.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ExcludeFields returns a shallow copy of a map-shaped canonical value with
// the named top-level fields removed — used to hash a struct "except these
// fields" (e.g. a Governance Event's hash excludes hash/receivedAt/signature,
// a Kill-Switch command's signing message excludes signature).
func ExcludeFields(v any, fields ...string) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, f := range fields {
		delete(m, f)
	}
	return m, nil
}
