// Package vault implements the Vault (C7): at-rest AES-256-GCM sealing of
// upstream-key plaintexts, keyed by fingerprint, resolved only from the
// proxy engine's outbound-request assembly step. This component has no
// direct teacher analog — it resolves an explicit open question the
// reference system left as a placeholder — but follows the teacher's
// general constructor-plus-small-interface shape.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/openrouter-proxy/gateway/internal/store"

	"go.uber.org/zap"
)

const nsVaultKey = "vault-key"

// Vault seals and resolves upstream secrets under a process-held
// AES-256-GCM master key.
type Vault struct {
	store  *store.Store
	aead   cipher.AEAD
	logger *zap.Logger
}

// Config controls how the master key is sourced.
type Config struct {
	// MasterKeyHex is a 32-byte AES-256 key, hex encoded. When empty, a
	// random key is generated for the process lifetime — sealed entries
	// become unrecoverable across restarts, which is acceptable for an
	// ephemeral deployment and explicitly documented, not silently masked.
	MasterKeyHex string
}

// New constructs a Vault, generating an ephemeral master key when none is
// configured.
func New(cfg Config, s *store.Store, logger *zap.Logger) (*Vault, error) {
	var key []byte
	if cfg.MasterKeyHex != "" {
		k, err := hex.DecodeString(cfg.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode vault master key: %w", err)
		}
		key = k
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate vault master key: %w", err)
		}
		logger.Warn("no vault master key configured; generated an ephemeral one for this process lifetime")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault master key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Vault{store: s, aead: aead, logger: logger.With(zap.String("component", "vault"))}, nil
}

// Seal encrypts plaintext under fingerprint and persists the sealed entry.
func (v *Vault) Seal(ctx context.Context, fingerprint, plaintext string) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := v.aead.Seal(nil, nonce, []byte(plaintext), []byte(fingerprint))

	return v.store.PutRecord(ctx, recordKey(fingerprint), map[string]string{
		"nonce":      base64.StdEncoding.EncodeToString(nonce),
		"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// Resolve decrypts and returns the plaintext sealed under fingerprint.
// Callers outside the proxy engine's outbound path must never invoke this.
func (v *Vault) Resolve(ctx context.Context, fingerprint string) (string, error) {
	fields, err := v.store.GetRecord(ctx, recordKey(fingerprint))
	if err != nil {
		return "", fmt.Errorf("load vault entry: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(fields["nonce"])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(fields["ciphertext"])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(fingerprint))
	if err != nil {
		return "", fmt.Errorf("decrypt vault entry: %w", err)
	}
	return string(plaintext), nil
}

// Delete removes the sealed entry for fingerprint.
func (v *Vault) Delete(ctx context.Context, fingerprint string) error {
	return v.store.DeleteRecord(ctx, recordKey(fingerprint))
}

func recordKey(fingerprint string) string {
	return nsVaultKey + ":" + fingerprint
}
