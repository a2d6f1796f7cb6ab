// Package credentials stores source credentials encrypted at rest. Plaintext
// exists only in the return value of Resolve and must not outlive the job
// that requested it.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeySize is returned when the encryption key is not 32 bytes.
var ErrKeySize = errors.New("credentials: encryption key must be 32 bytes")

// ErrNotFound is returned when no credential exists for the id.
var ErrNotFound = errors.New("credentials: not found")

// Credential is a stored credential. Payload is the decrypted secret and is
// never persisted or serialized.
type Credential struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	SourceKind     string    `json:"source_kind"`
	Payload        []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists encrypted credentials.
type Store interface {
	// Save encrypts and stores the credential payload.
	Save(ctx context.Context, cred *Credential) error
	// Resolve loads and decrypts the credential. Callers must discard the
	// plaintext when the job finishes.
	Resolve(ctx context.Context, orgID, id uuid.UUID) (*Credential, error)
	// Delete removes the credential.
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// Cipher seals and opens credential payloads with XChaCha20-Poly1305.
type Cipher struct {
	key []byte
}

// NewCipher creates a cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext and returns a base64 blob with the nonce prefixed.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("credentials: failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credentials: failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (c *Cipher) Open(blob string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("credentials: failed to decode blob: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("credentials: failed to create cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("credentials: blob too short")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: failed to decrypt: %w", err)
	}
	return plaintext, nil
}
