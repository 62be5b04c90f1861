package security

import (
	"context"
	"fmt"

	"github.com/goliatone/go-integration-broker/core"
)

// Keyring seals with the primary key and opens envelopes written under any
// registered key, so an operator can rotate the encryption key without
// rewriting stored rows first.
type Keyring struct {
	primary  *AESGCMCipher
	previous []*AESGCMCipher
}

func NewKeyring(primary *AESGCMCipher, previous ...*AESGCMCipher) (*Keyring, error) {
	if primary == nil {
		return nil, core.NewEncryptionError(nil, "security: primary cipher is required")
	}
	ring := &Keyring{primary: primary}
	for _, candidate := range previous {
		if candidate == nil {
			continue
		}
		if candidate.KeyID() == primary.KeyID() && candidate.Version() == primary.Version() {
			return nil, core.NewEncryptionError(nil, fmt.Sprintf(
				"security: previous key %s/%d collides with the primary key", candidate.KeyID(), candidate.Version(),
			))
		}
		ring.previous = append(ring.previous, candidate)
	}
	return ring, nil
}

// NewKeyringFromConfig builds the keyring from the security configuration.
func NewKeyringFromConfig(cfg core.SecurityConfig) (*Keyring, error) {
	primary, err := NewAESGCMCipherFromConfig(cfg.EncryptionKey, WithKeyID(cfg.KeyID))
	if err != nil {
		return nil, err
	}
	if cfg.PreviousEncryptionKey == "" {
		return NewKeyring(primary)
	}
	previous, err := NewAESGCMCipherFromConfig(cfg.PreviousEncryptionKey, WithKeyID(cfg.PreviousKeyID))
	if err != nil {
		return nil, err
	}
	return NewKeyring(primary, previous)
}

func (k *Keyring) Seal(ctx context.Context, plaintext []byte, associatedData []byte) ([]byte, error) {
	if k == nil || k.primary == nil {
		return nil, core.NewEncryptionError(nil, "security: keyring is not configured")
	}
	return k.primary.Seal(ctx, plaintext, associatedData)
}

func (k *Keyring) Open(ctx context.Context, ciphertext []byte, associatedData []byte) ([]byte, error) {
	if k == nil || k.primary == nil {
		return nil, core.NewEncryptionError(nil, "security: keyring is not configured")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, core.NewEncryptionError(err, "security: open failed")
	}
	for _, candidate := range k.ciphers() {
		if candidate.KeyID() == meta.KeyID && candidate.Version() == meta.Version {
			return candidate.Open(ctx, ciphertext, associatedData)
		}
	}
	return nil, core.NewEncryptionError(nil, fmt.Sprintf("security: no key registered for %s/%d", meta.KeyID, meta.Version))
}

// NeedsReseal reports whether ciphertext was written under a non-primary key.
func (k *Keyring) NeedsReseal(ciphertext []byte) bool {
	if k == nil || k.primary == nil {
		return false
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false
	}
	return meta.KeyID != k.primary.KeyID() || meta.Version != k.primary.Version()
}

func (k *Keyring) ciphers() []*AESGCMCipher {
	return append([]*AESGCMCipher{k.primary}, k.previous...)
}

var _ Cipher = (*Keyring)(nil)
