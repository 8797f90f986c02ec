package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "userbot/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "repost", "enabled")
	require.NoError(t, err)
	assert.False(t, ok, "missing key must report ok=false")

	require.NoError(t, st.Set(ctx, "repost", "enabled", []byte("true")))
	require.NoError(t, st.Set(ctx, "activity", "enabled", []byte("false")))

	v, ok, err := st.Get(ctx, "repost", "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", string(v))

	v, ok, err = st.Get(ctx, "activity", "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", string(v), "namespaces must not collide")

	require.NoError(t, st.Delete(ctx, "repost", "enabled"))
	_, ok, err = st.Get(ctx, "repost", "enabled")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Delete(ctx, "repost", "never-set"))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: 2, Plugin: "repost", Action: "vores"}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestOpenDefaultsToMemory(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, isMem := st.(*memoryStore)
	assert.True(t, isMem)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)

	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "repost", "enabled", []byte("true")))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.Get(ctx, "repost", "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", string(v))

	v, ok, err = st.Get(ctx, "activity", "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", string(v))
}

func TestFileStoreReplaysJournalWithoutCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "a", "k", []byte(`"v1"`)))
	require.NoError(t, st.Set(ctx, "a", "k", []byte(`"v2"`)))

	// simulate a crash: drop the handle without the compacting Close
	fs := st.(*fileStore)
	require.NoError(t, fs.journalFile.Close())
	require.NoError(t, fs.auditFile.Close())

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	v, ok, err := st2.Get(ctx, "a", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v2"`, string(v))
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Set(context.Background(), "repost", "enabled", []byte("true")))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	v, ok, err := st.Get(context.Background(), "repost", "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", string(v))
}

func TestPebbleStore(t *testing.T) {
	st, err := openPebble(Config{Path: "userbot"}, logx.Nop(), &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	defer st.Close()
	exerciseStore(t, st)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	s := NewSettings(st, "repost")

	v, err := s.Bool(ctx, "enabled", true)
	require.NoError(t, err)
	assert.True(t, v, "default when unset")
	require.NoError(t, s.Set(ctx, "enabled", false))
	v, err = s.Bool(ctx, "enabled", true)
	require.NoError(t, err)
	assert.False(t, v)

	str, err := s.String(ctx, "target", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", str)
	require.NoError(t, s.Set(ctx, "target", "@news"))
	str, err = s.String(ctx, "target", "x")
	require.NoError(t, err)
	assert.Equal(t, "@news", str)

	// garbage yields the default plus the decode error
	require.NoError(t, st.Set(ctx, "repost", "broken", []byte("{")))
	v, err = s.Bool(ctx, "broken", true)
	assert.Error(t, err)
	assert.True(t, v)

	other := NewSettings(st, "activity")
	v, err = other.Bool(ctx, "enabled", true)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, s.Delete(ctx, "enabled"))
	v, err = s.Bool(ctx, "enabled", true)
	require.NoError(t, err)
	assert.True(t, v)

	_, err = NewSettings(nil, "repost").String(ctx, "target", "")
	assert.ErrorIs(t, err, ErrDisabled)
}
