// Package merkle implements the Merkle Builder: a deterministic binary
// tree over event hash leaves used by the daily Integrity Checkpoint.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EmptyMerkleRoot is the published sentinel root for a day with zero
// events. Its shape matches every other root: "sha256:" + 64 hex chars —
// the hex encoding of 32 zero bytes.
var EmptyMerkleRoot = "sha256:" + hex.EncodeToString(make([]byte, 32))

// BuildTree computes the deterministic Merkle root over leaves, which must
// already be "sha256:<hex>" strings (the event hashes themselves — this
// builder does not hash raw event bodies, only combines existing leaf
// hashes). An odd count at any level duplicates the last hash. Internal
// nodes are sha256("sha256:" || hex(left) || hex(right)) with the
// "sha256:" prefix preserved on the result.
func BuildTree(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyMerkleRoot
	}

	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		level = combineLevel(level)
	}
	return level[0]
}

func combineLevel(level []string) []string {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}

	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, combine(level[i], level[i+1]))
	}
	return next
}

func combine(left, right string) string {
	h := sha256.New()
	h.Write([]byte("sha256:"))
	h.Write([]byte(stripPrefix(left)))
	h.Write([]byte(stripPrefix(right)))
	sum := h.Sum(nil)
	return "sha256:" + hex.EncodeToString(sum)
}

func stripPrefix(s string) string {
	return strings.TrimPrefix(s, "sha256:")
}
