// Package auth implements parent authentication: passphrase verification,
// session token issuance/validation, and login rate limiting (component H).
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Parent passphrase storage and verification
 * INPUT:     A plaintext passphrase set at provisioning time, and one
 *            presented at authenticate_parent time
 * OUTPUT:    A PHC-style encoded hash for storage, and a constant-time
 *            pass/fail verdict
 * BUSINESS:  The passphrase is the root of trust for the whole daemon: a
 *            timing leak here defeats the envelope encryption on
 *            internal/store too
 * CHANGE:    New package - the teacher has no authentication layer;
 *            enriched from canonical-snapd's golang.org/x/crypto/argon2
 *            dependency
 * RISK:      High
 */

const (
	phcTime    = 3
	phcMemory  = 64 * 1024
	phcThreads = 2
	phcKeyLen  = 32
	phcSaltLen = 16
)

// HashPassphrase derives and encodes an Argon2id hash in a PHC-like
// string: argon2id$v=19$m=<kb>,t=<iters>,p=<threads>$<salt-hex>$<hash-hex>.
func HashPassphrase(passphrase string) (string, error) {
	salt := make([]byte, phcSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", domain.NewInternalError("generating passphrase salt", err)
	}
	hash := argon2.IDKey([]byte(passphrase), salt, phcTime, phcMemory, phcThreads, phcKeyLen)
	return encodePHC(salt, hash), nil
}

func encodePHC(salt, hash []byte) string {
	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		phcMemory, phcTime, phcThreads, hex.EncodeToString(salt), hex.EncodeToString(hash))
}

// VerifyPassphrase reports whether candidate matches the stored PHC
// encoding, in constant time with respect to the comparison itself.
func VerifyPassphrase(encoded, candidate string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, domain.NewInternalError("malformed stored passphrase hash", nil)
	}
	salt, err := hex.DecodeString(parts[3])
	if err != nil {
		return false, domain.NewInternalError("decoding stored passphrase salt", err)
	}
	want, err := hex.DecodeString(parts[4])
	if err != nil {
		return false, domain.NewInternalError("decoding stored passphrase hash", err)
	}

	got := argon2.IDKey([]byte(candidate), salt, phcTime, phcMemory, phcThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// HashToken returns the SHA-256 hex digest of a bearer token, the form
// persisted by internal/store (P7: never store the raw token).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
