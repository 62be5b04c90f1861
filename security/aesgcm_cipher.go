package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-integration-broker/core"
)

// Cipher seals values with an authenticated cipher. Associated data binds a
// ciphertext to its owning row; opening with different data fails.
type Cipher interface {
	Seal(ctx context.Context, plaintext []byte, associatedData []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext []byte, associatedData []byte) ([]byte, error)
}

type Option func(*AESGCMCipher)

// AESGCMCipher encrypts with AES-GCM under a key held in memory for the
// lifetime of the process.
type AESGCMCipher struct {
	aead    cipher.AEAD
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(c *AESGCMCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AESGCMCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAESGCMCipher(keyMaterial []byte, opts ...Option) (*AESGCMCipher, error) {
	if len(keyMaterial) == 0 {
		return nil, core.NewEncryptionError(nil, "security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(keyMaterial))
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: create gcm")
	}
	c := &AESGCMCipher{
		aead:    aead,
		keyID:   "broker",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// NewAESGCMCipherFromConfig decodes a configured key string.
func NewAESGCMCipherFromConfig(key string, opts ...Option) (*AESGCMCipher, error) {
	material, err := core.DecodeEncryptionKey(key)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: invalid encryption key")
	}
	return NewAESGCMCipher(material, opts...)
}

func (c *AESGCMCipher) Seal(_ context.Context, plaintext []byte, associatedData []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, core.NewEncryptionError(nil, "security: cipher is not configured")
	}
	if len(plaintext) == 0 {
		return nil, core.NewEncryptionError(nil, "security: plaintext is required")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, core.NewEncryptionError(err, "security: nonce generation failed")
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, associatedData)
	out, err := encodeEnvelope(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodePayload(nonce),
		Ciphertext: encodePayload(sealed),
	})
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: seal failed")
	}
	return out, nil
}

func (c *AESGCMCipher) Open(_ context.Context, ciphertext []byte, associatedData []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, core.NewEncryptionError(nil, "security: cipher is not configured")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: open failed")
	}
	if env.KeyID != c.keyID || env.Version != c.version {
		return nil, core.NewEncryptionError(nil, fmt.Sprintf(
			"security: key mismatch: got %s/%d want %s/%d", env.KeyID, env.Version, c.keyID, c.version,
		))
	}
	nonce, err := decodePayload("nonce", env.Nonce)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: open failed")
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, core.NewEncryptionError(nil, "security: invalid nonce size")
	}
	payload, err := decodePayload("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: open failed")
	}
	plaintext, err := c.aead.Open(nil, nonce, payload, associatedData)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: ciphertext authentication failed")
	}
	return plaintext, nil
}

func (c *AESGCMCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return c.Seal(ctx, plaintext, nil)
}

func (c *AESGCMCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return c.Open(ctx, ciphertext, nil)
}

func (c *AESGCMCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AESGCMCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var (
	_ Cipher              = (*AESGCMCipher)(nil)
	_ core.SecretProvider = (*AESGCMCipher)(nil)
)
