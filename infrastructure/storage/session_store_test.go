package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shop_automation/domain/entities"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*fileSessionStore, string) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := filepath.Join(t.TempDir(), "sessions")
	store := NewFileSessionStore(dir, logger).(*fileSessionStore)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return store, dir
}

func TestSaveAndLoad(t *testing.T) {
	store, dir := newStore(t)
	state := entities.NewSessionState("alice@demoblaze", []entities.Cookie{
		{Name: "tokenp_", Value: "YWxpY2U=", Domain: ".demoblaze.com", Path: "/", Expires: 1.9e9},
		{Name: "user", Value: "a1b2", Domain: "www.demoblaze.com", Path: "/", Secure: true},
	})

	require.NoError(t, store.Save(state))

	loaded, ok := store.Load("alice@demoblaze")
	require.True(t, ok)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, state.List(), loaded.List())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "alice_demoblaze-"+digest("alice@demoblaze")+".json", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"saved_at": "2026-03-01T12:00:00Z"`)
}

func TestSaveOverwrites(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Save(entities.NewSessionState("s", []entities.Cookie{{Name: "a", Value: "1", Domain: "x"}})))
	require.NoError(t, store.Save(entities.NewSessionState("s", []entities.Cookie{{Name: "b", Value: "2", Domain: "x"}})))

	loaded, ok := store.Load("s")
	require.True(t, ok)
	cookies := loaded.List()
	require.Len(t, cookies, 1)
	assert.Equal(t, "b", cookies[0].Name)
}

func TestLoadMissingIsAbsent(t *testing.T) {
	store, _ := newStore(t)
	_, ok := store.Load("nobody")
	assert.False(t, ok)
}

func TestLoadCorruptIsAbsent(t *testing.T) {
	store, dir := newStore(t)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600))

	_, ok := store.Load("broken")
	assert.False(t, ok)
}

func digest(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

func TestPathIsSanitized(t *testing.T) {
	store, dir := newStore(t)
	assert.Equal(t, filepath.Join(dir, "_etc_passwd-"+digest("../etc/passwd")+".json"), store.path("../etc/passwd"))
	assert.Equal(t, filepath.Join(dir, "default-"+digest("")+".json"), store.path(""))
	assert.Equal(t, filepath.Join(dir, "testuser.json"), store.path("testuser"))
}

func TestDistinctIDsNeverShareAFile(t *testing.T) {
	store, _ := newStore(t)
	ids := []string{"a@b", "a_b", "a b", "a/b", ".a_b", "a_b-" + digest("a@b"), "default", ""}
	seen := map[string]string{}
	for _, id := range ids {
		p := store.path(id)
		if other, ok := seen[p]; ok {
			t.Fatalf("%q and %q both map to %s", other, id, p)
		}
		seen[p] = id
	}

	require.NoError(t, store.Save(entities.NewSessionState("a@b", []entities.Cookie{{Name: "tokenp_", Value: "alice", Domain: ".demoblaze.com", Path: "/"}})))
	_, ok := store.Load("a_b")
	assert.False(t, ok, "another user's cookies must not be restored")
}

func TestSaveNil(t *testing.T) {
	store, _ := newStore(t)
	assert.Error(t, store.Save(nil))
}
