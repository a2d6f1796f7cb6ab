package source

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	interior := []byte(`{"page_token":"abc","since":"2026-08-01T00:00:00Z"}`)

	boundary, err := EncodeCursor(interior)
	require.NoError(t, err)
	assert.NotContains(t, boundary, "page_token", "boundary form is opaque")

	back, err := DecodeCursor(boundary)
	require.NoError(t, err)
	assert.Equal(t, interior, back)
}

func TestCursorEmpty(t *testing.T) {
	boundary, err := EncodeCursor(nil)
	require.NoError(t, err)
	assert.Empty(t, boundary)

	back, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, back)
	assert.True(t, IsFullSync(back))
}

func TestCursorRejectsNonJSON(t *testing.T) {
	_, err := EncodeCursor([]byte("not-json"))
	assert.Error(t, err)

	_, err = DecodeCursor("!!!not-base64!!!")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(context.Context, Config) (Source, error) { return nil, nil }

	require.NoError(t, r.Register("github", "1.4.0", ">= 1.0, < 2.0", factory))
	assert.Error(t, r.Register("github", "1.5.0", "", factory), "duplicate kind")
	assert.Error(t, r.Register("gitlab", "banana", "", factory), "invalid version")

	runtime := semver.MustParse("1.7.3")
	reg, err := r.Lookup("github", runtime)
	require.NoError(t, err)
	assert.Equal(t, "github", reg.Kind)

	_, err = r.Lookup("github", semver.MustParse("2.1.0"))
	assert.Error(t, err, "out of compat range")

	_, err = r.Lookup("notion", runtime)
	assert.Error(t, err, "unknown kind")
}
