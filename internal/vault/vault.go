// Package vault provides best-effort at-rest obfuscation of persisted secrets.
//
// The AES-256-GCM key is generated once and stored next to the ciphertext, so
// this is an availability-over-confidentiality tradeoff, not a security
// boundary: Encrypt and Decrypt always return some string, degrading to the
// input unchanged whenever the crypto path fails.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
)

const keySlot = "copy_trading.key.v1"

// KeyStore persists the vault key between sessions.
type KeyStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Vault encrypts and decrypts persisted values with a lazily created key.
type Vault struct {
	store  KeyStore
	logger *slog.Logger

	mu  sync.Mutex
	key []byte // 32-byte AES-256 key, loaded or generated on first use
}

// New creates a Vault backed by the given key store.
func New(store KeyStore, logger *slog.Logger) *Vault {
	return &Vault{
		store:  store,
		logger: logger,
	}
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce‖ciphertext).
// On any failure the plaintext is returned unchanged; callers must treat the
// result as opaque and recover it through Decrypt either way.
func (v *Vault) Encrypt(plaintext string) string {
	sealed, err := v.encrypt(plaintext)
	if err != nil {
		v.logger.Warn("vault encrypt failed, storing plaintext", slog.Any("error", err))
		return plaintext
	}

	return sealed
}

// Decrypt reverses Encrypt. Values that were never encrypted, or that fail the
// integrity check, are returned unchanged so a plaintext fallback round-trips.
func (v *Vault) Decrypt(envelope string) string {
	plain, err := v.decrypt(envelope)
	if err != nil {
		return envelope
	}

	return plain
}

func (v *Vault) encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal appends the ciphertext to nonce, producing nonce || ciphertext || tag.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) decrypt(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", err
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	key, err := v.loadOrCreateKey()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

func (v *Vault) loadOrCreateKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key, nil
	}

	stored, err := v.store.Get(keySlot)
	if err != nil {
		return nil, err
	}

	if stored != "" {
		key, err := base64.StdEncoding.DecodeString(stored)
		if err != nil || len(key) != 32 {
			return nil, errors.New("stored vault key is malformed")
		}

		v.key = key

		return v.key, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}

	if err := v.store.Set(keySlot, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, err
	}

	v.key = key

	return v.key, nil
}
