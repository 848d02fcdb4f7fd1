package tags

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/frpfleet/api"
	"github.com/agentic-research/frpfleet/internal/index"
)

func newFixture(t *testing.T) (*index.Store, *Store, string) {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), dir, osfs.New("/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, New(idx.DB()), dir
}

func writeConfig(t *testing.T, dir, name string, port int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := fmt.Sprintf("serverAddr = \"10.0.0.1\"\nserverPort = %d\n", port)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAdd_RequiresIndexedConfig(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	path := writeConfig(t, dir, "edge.toml", 7000)

	// Not indexed yet: tagging is not a back-door registration.
	err := tagStore.Add(path, "env", "prod")
	assert.ErrorIs(t, err, api.ErrNotIndexed)

	// Index first, then tagging succeeds and is visible.
	require.NoError(t, idx.Rebuild())
	require.NoError(t, tagStore.Add(path, "env", "prod"))

	tags, err := tagStore.List(path)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, api.Tag{Key: "env", Value: "prod"}, tags[0])
}

func TestAdd_LastWriteWins(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	path := writeConfig(t, dir, "edge.toml", 7000)
	require.NoError(t, idx.Rebuild())

	require.NoError(t, tagStore.Add(path, "env", "staging"))
	require.NoError(t, tagStore.Add(path, "env", "prod"))

	tags, err := tagStore.List(path)
	require.NoError(t, err)
	require.Len(t, tags, 1, "same key twice must upsert, never duplicate")
	assert.Equal(t, "prod", tags[0].Value)
}

func TestRemove(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	path := writeConfig(t, dir, "edge.toml", 7000)
	require.NoError(t, idx.Rebuild())
	require.NoError(t, tagStore.Add(path, "env", "prod"))

	require.NoError(t, tagStore.Remove(path, "env"))
	tags, err := tagStore.List(path)
	require.NoError(t, err)
	assert.Empty(t, tags)

	// Removing again is a no-op, not an error.
	assert.NoError(t, tagStore.Remove(path, "env"))
}

func TestQuery_KeyAndKeyValue(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	a := writeConfig(t, dir, "a.toml", 7000)
	b := writeConfig(t, dir, "b.toml", 7001)
	c := writeConfig(t, dir, "c.toml", 7002)
	require.NoError(t, idx.Rebuild())

	require.NoError(t, tagStore.Add(a, "env", "prod"))
	require.NoError(t, tagStore.Add(b, "env", "staging"))
	require.NoError(t, tagStore.Add(c, "region", "eu"))

	byKey, err := tagStore.Query("env")
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, byKey)

	exact, err := tagStore.Query("env:prod")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, exact)

	none, err := tagStore.Query("env:qa")
	require.NoError(t, err)
	assert.Empty(t, none, "no match is an empty set, not an error")
}

func TestQuery_SeesWritesAfterIndexBuilt(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	a := writeConfig(t, dir, "a.toml", 7000)
	b := writeConfig(t, dir, "b.toml", 7001)
	require.NoError(t, idx.Rebuild())

	require.NoError(t, tagStore.Add(a, "env", "prod"))
	got, err := tagStore.Query("env")
	require.NoError(t, err)
	require.Len(t, got, 1)

	// A write after the bitmap index was built must invalidate it.
	require.NoError(t, tagStore.Add(b, "env", "prod"))
	got, err = tagStore.Query("env")
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, got)
}

func TestTags_CascadeWithEntry(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	path := writeConfig(t, dir, "doomed.toml", 7000)
	require.NoError(t, idx.Rebuild())
	require.NoError(t, tagStore.Add(path, "env", "prod"))

	require.NoError(t, os.Remove(path))
	require.NoError(t, idx.Rebuild())

	// The entry is gone and its tag rows went with it.
	_, err := tagStore.List(path)
	assert.ErrorIs(t, err, api.ErrNotIndexed)

	var count int
	require.NoError(t, idx.DB().QueryRow("SELECT COUNT(*) FROM tags").Scan(&count))
	assert.Zero(t, count, "tag rows must cascade-delete with their config")
}

func TestTags_CascadeHoldsOnFreshConnection(t *testing.T) {
	idx, tagStore, dir := newFixture(t)
	path := writeConfig(t, dir, "doomed.toml", 7000)
	require.NoError(t, idx.Rebuild())
	require.NoError(t, tagStore.Add(path, "env", "prod"))

	// Zero idle connections force every statement onto a brand-new pool
	// connection. The cascade must not depend on session state set up on
	// some earlier connection.
	idx.DB().SetMaxIdleConns(0)

	require.NoError(t, os.Remove(path))
	require.NoError(t, idx.Rebuild())

	var count int
	require.NoError(t, idx.DB().QueryRow("SELECT COUNT(*) FROM tags").Scan(&count))
	assert.Zero(t, count, "cascade must hold on whichever connection runs the delete")
}
