package convcache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
)

// fingerprintHashLen is the number of hex characters of the SHA-256 digest
// kept in a fingerprint. 16 hex chars (64 bits) keeps records compact while
// making accidental collisions between unrelated turns vanishingly unlikely.
const fingerprintHashLen = 16

// Fingerprint derives a compact, content-addressed identifier for a single
// conversation turn. Identical (role, text) pairs always produce the same
// fingerprint, so message histories can be compared without retaining the
// raw text.
func Fingerprint(role, text string) string {
	sum := sha256.Sum256([]byte(text))
	return role + ":" + hex.EncodeToString(sum[:])[:fingerprintHashLen]
}

// SystemSignature hashes the concatenated system-prompt text of a request.
// It is a coarse pre-filter applied before fingerprint comparison; stability
// is only guaranteed within one process lifetime.
func SystemSignature(systemText string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(systemText))
	return h.Sum64()
}
