package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/storage/filestore"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	fs, err := filestore.Open(path)
	require.NoError(t, err)

	require.NoError(t, fs.SetMany(ctx, map[string][]byte{
		"elearn.access_token":  []byte("access"),
		"elearn.refresh_token": []byte("refresh"),
	}))
	require.NoError(t, fs.Set(ctx, "elearn.catalogue", []byte(`{"ownerId":"u1"}`)))

	reopened, err := filestore.Open(path)
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "elearn.refresh_token")
	require.NoError(t, err)
	require.Equal(t, "refresh", string(v))

	require.NoError(t, reopened.Delete(ctx, "elearn.access_token", "elearn.refresh_token"))
	_, err = reopened.Get(ctx, "elearn.access_token")
	require.ErrorIs(t, err, errors.ErrSlotNotFound)

	third, err := filestore.Open(path)
	require.NoError(t, err)
	_, err = third.Get(ctx, "elearn.refresh_token")
	require.ErrorIs(t, err, errors.ErrSlotNotFound)
	v, err = third.Get(ctx, "elearn.catalogue")
	require.NoError(t, err)
	require.JSONEq(t, `{"ownerId":"u1"}`, string(v))
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := filestore.Open(path)
	require.Error(t, err)
}
