package analytics

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Anonymizer replaces raw player identifiers with deterministic,
// one-way tokens. The same raw id always maps to the same 16-character
// lowercase hex token for a given salt; there is no reverse operation.
type Anonymizer struct {
	salt string
}

// NewAnonymizer creates an anonymizer with the given salt. The salt is
// process-wide: changing it between runs changes every token, which
// breaks cross-run identity joins, so deployments that care about
// longitudinal analytics must configure a stable salt.
func NewAnonymizer(salt string) *Anonymizer {
	if salt == "" {
		salt = randomSalt()
	}
	return &Anonymizer{salt: salt}
}

// Anonymize returns the 16-character lowercase hex token for rawID.
// Total over any input, including the empty string.
func (a *Anonymizer) Anonymize(rawID string) string {
	sum := sha256.Sum256([]byte(rawID + a.salt))
	return hex.EncodeToString(sum[:8])
}

// randomSalt produces a throwaway per-process salt for deployments that
// did not configure one.
func randomSalt() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken well beyond
		// telemetry; fall back to a fixed marker rather than panic.
		return "shellquest-ephemeral"
	}
	return hex.EncodeToString(b[:])
}
