package crypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"go.uber.org/zap"
)

// Cipher provides transparent field-level encryption of request and
// response bodies, keyed per session. Disabled in development, in which
// case every call is a passthrough.
type Cipher struct {
	keys    *Keystore
	enabled bool
	logger  *zap.Logger
}

func New(keys *Keystore, enabled bool, logger *zap.Logger) *Cipher {
	return &Cipher{keys: keys, enabled: enabled, logger: logger}
}

func (c *Cipher) Enabled() bool { return c.enabled }

// DecryptBody reverses EncryptBody for an inbound request. Bodies from
// sessions without a minted key pass through unchanged.
func (c *Cipher) DecryptBody(ctx context.Context, tok string, body []byte) ([]byte, error) {
	if !c.enabled || len(body) == 0 {
		return body, nil
	}
	key, err := c.keys.Lookup(ctx, tok)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		// Not ciphertext; the client sent plain JSON.
		return body, nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		c.logger.Warn("request decryption failed", zap.Error(err))
		return nil, err
	}
	return plain, nil
}

// EncryptBody seals an outbound response body under the session key,
// emitting base64(nonce || ciphertext). Without a key the body is returned
// as is.
func (c *Cipher) EncryptBody(ctx context.Context, tok string, body []byte) ([]byte, error) {
	if !c.enabled || len(body) == 0 {
		return body, nil
	}
	key, err := c.keys.Lookup(ctx, tok)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return body, nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nonce, nonce, body, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

// newGCM derives a fixed-size AES key from the stored session key.
func newGCM(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
