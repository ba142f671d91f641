package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func alwaysReady() bool { return true }

func newTestManager(t *testing.T, ready func() bool) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sessions"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "temp"), 0750))
	return NewManager(root, ready, zap.NewNop()), root
}

func TestCreate_BuildsDirectories(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)

	s, err := m.Create("widget", "line-3")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "widget", s.Product)

	info, err := os.Stat(s.CapturesDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	info, err = os.Stat(s.OutputDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreate_CameraGate(t *testing.T) {
	m, _ := newTestManager(t, func() bool { return false })

	_, err := m.Create("widget", "")
	assert.ErrorIs(t, err, ErrCameraNotReady)
	assert.Zero(t, m.Active())
}

func TestCreate_UniqueIDs(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := m.Create("widget", "")
		require.NoError(t, err)
		assert.False(t, seen[s.ID], "duplicate session id %s", s.ID)
		seen[s.ID] = true
	}
}

func TestGet(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)

	s, err := m.Create("widget", "")
	require.NoError(t, err)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheBarcodes_MergesNonEmpty(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)
	s, err := m.Create("widget", "")
	require.NoError(t, err)

	assert.Empty(t, s.CachedBarcodes())

	s.CacheBarcodes(map[int]string{1: "SN-001", 2: ""})
	assert.Equal(t, map[int]string{1: "SN-001"}, s.CachedBarcodes())

	// An empty value never evicts a cached entry; new devices merge in.
	s.CacheBarcodes(map[int]string{1: "", 3: "SN-003"})
	assert.Equal(t, map[int]string{1: "SN-001", 3: "SN-003"}, s.CachedBarcodes())

	// The returned map is a copy.
	s.CachedBarcodes()[1] = "mutated"
	assert.Equal(t, "SN-001", s.CachedBarcodes()[1])
}

func TestClose_DeletesCapturesKeepsOutput(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)

	s, err := m.Create("widget", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.CapturesDir(), "group_305_1200.jpg"), []byte("x"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(s.OutputDir(), "results.json"), []byte("{}"), 0640))

	require.NoError(t, m.Close(s.ID))

	_, err = os.Stat(s.CapturesDir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.OutputDir(), "results.json"))
	assert.NoError(t, err)

	assert.ErrorIs(t, m.Close(s.ID), ErrNotFound)
}

func TestCloseAll(t *testing.T) {
	m, _ := newTestManager(t, alwaysReady)
	for i := 0; i < 3; i++ {
		_, err := m.Create("widget", "")
		require.NoError(t, err)
	}
	m.CloseAll()
	assert.Zero(t, m.Active())
}

func TestSweep_RemovesOnlyStaleDirs(t *testing.T) {
	m, root := newTestManager(t, alwaysReady)

	stale := filepath.Join(root, "temp", "old_job")
	fresh := filepath.Join(root, "temp", "new_job")
	require.NoError(t, os.MkdirAll(stale, 0750))
	require.NoError(t, os.MkdirAll(fresh, 0750))
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	// A stale session directory from a crashed run, and a live one.
	crashed := filepath.Join(root, "sessions", "123_deadbeef")
	require.NoError(t, os.MkdirAll(crashed, 0750))
	require.NoError(t, os.Chtimes(crashed, old, old))
	live, err := m.Create("widget", "")
	require.NoError(t, err)

	removed := m.Sweep()
	assert.Equal(t, 2, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(crashed)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(live.Dir())
	assert.NoError(t, err)
}

func TestStartSweeper_ReturnsImmediately(t *testing.T) {
	m, root := newTestManager(t, alwaysReady)

	stale := filepath.Join(root, "temp", "old_job")
	require.NoError(t, os.MkdirAll(stale, 0750))
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The caller must get control back right away; the initial sweep runs
	// in the background.
	start := time.Now()
	m.StartSweeper(ctx)
	assert.Less(t, time.Since(start), time.Second)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSweep_KeepsRecentUnregisteredSessions(t *testing.T) {
	m, root := newTestManager(t, alwaysReady)

	recent := filepath.Join(root, "sessions", "456_cafecafe")
	require.NoError(t, os.MkdirAll(recent, 0750))

	assert.Zero(t, m.Sweep())
	_, err := os.Stat(recent)
	assert.NoError(t, err)
}
