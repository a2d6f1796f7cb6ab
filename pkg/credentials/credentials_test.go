package credentials

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return c
}

func TestCipherKeySize(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestCipherSealOpen(t *testing.T) {
	c := testCipher(t)

	secret := []byte(`{"token":"oauth-secret-value"}`)
	blob, err := c.Seal(secret)
	require.NoError(t, err)
	assert.NotContains(t, blob, "oauth-secret-value", "sealed blob must not expose plaintext")

	opened, err := c.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestCipherOpenRejectsTampered(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Seal([]byte("secret"))
	require.NoError(t, err)

	tampered := strings.Replace(blob, blob[4:5], "A", 1)
	if tampered == blob {
		tampered = strings.Replace(blob, blob[4:5], "B", 1)
	}
	_, err = c.Open(tampered)
	assert.Error(t, err)
}

func TestCipherWrongKey(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Seal([]byte("secret"))
	require.NoError(t, err)

	other, err := NewCipher(bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)
	_, err = other.Open(blob)
	assert.Error(t, err)
}

func TestMemoryStoreResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testCipher(t))
	orgID := uuid.New()

	cred := &Credential{OrganizationID: orgID, SourceKind: "notion", Payload: []byte("api-token")}
	require.NoError(t, store.Save(ctx, cred))
	require.NotEqual(t, uuid.Nil, cred.ID)

	got, err := store.Resolve(ctx, orgID, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("api-token"), got.Payload)
	assert.Equal(t, "notion", got.SourceKind)

	// Foreign org scope never resolves.
	_, err = store.Resolve(ctx, uuid.New(), cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, orgID, cred.ID))
	_, err = store.Resolve(ctx, orgID, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRotatePayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testCipher(t))
	orgID := uuid.New()

	cred := &Credential{OrganizationID: orgID, SourceKind: "github", Payload: []byte("old-token")}
	require.NoError(t, store.Save(ctx, cred))

	cred.Payload = []byte("new-token")
	require.NoError(t, store.Save(ctx, cred))

	got, err := store.Resolve(ctx, orgID, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-token"), got.Payload)
}
