package sessionstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	return &State{
		Cookies: []Cookie{
			{
				Name:     "SSESSabc",
				Value:    "token-1",
				Domain:   "cms.example.edu",
				Path:     "/",
				Expires:  1893456000,
				HTTPOnly: true,
				Secure:   true,
				SameSite: "Lax",
			},
		},
		Origins: []Origin{
			{
				Origin:       "https://cms.example.edu",
				LocalStorage: []NameValue{{Name: "Drupal.toolbar.activeTab", Value: "toolbar-item-administration"}},
			},
		},
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	assert.False(t, store.Exists())
	require.NoError(t, store.Save(sampleState()))
	assert.True(t, store.Exists())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleState(), loaded)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	state, err := store.Load()
	assert.Nil(t, state)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	state, err := NewFileStore(path).Load()
	assert.Nil(t, state)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "failed to decode session file")
}

func TestFileStore_SaveNil(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	assert.Error(t, store.Save(nil))
}

func TestFileStore_EmptyStateKeepsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(&State{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cookies": []`)
	assert.Contains(t, string(raw), `"origins": []`)
}

func TestFileStore_Named(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "session.json"))

	same, err := store.Named("")
	require.NoError(t, err)
	assert.Same(t, store, same)

	editor, err := store.Named("editor-2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "editor-2.json"), editor.Path())

	_, err = store.Named("../escape")
	assert.Error(t, err)
}
