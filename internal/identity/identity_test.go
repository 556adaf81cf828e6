package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymous(t *testing.T) {
	id, err := Anonymous{}.Identity(context.Background())
	require.NoError(t, err)
	assert.True(t, id.IsAnonymous)
}

func TestRemote_CachesFirstSuccess(t *testing.T) {
	calls := 0
	fail := true
	r := NewRemote(func(context.Context) (string, string, error) {
		calls++
		if fail {
			return "", "", errors.New("offline")
		}
		return "Ada", "ada@example.com", nil
	})

	_, err := r.Identity(context.Background())
	require.Error(t, err)

	fail = false
	id, err := r.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.EmailAddress)
	assert.False(t, id.IsAnonymous)

	_, err = r.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLoadTokenSource(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := LoadTokenSource(ctx, "", "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = LoadTokenSource(ctx, filepath.Join(dir, "missing.json"), "")
	assert.ErrorIs(t, err, ErrNoToken)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = LoadTokenSource(ctx, bad, "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)

	good := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"access_token":"abc","token_type":"Bearer"}`), 0o600))
	ts, err := LoadTokenSource(ctx, good, "")
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
}
