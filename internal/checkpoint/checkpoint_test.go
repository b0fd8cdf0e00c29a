package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/hash/sha256"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCheckpoint(t *testing.T, cfg Config) (*Checkpoint, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discovery.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return Load(path, "discovery", cfg, clock, sha256.New(), nil), path
}

func TestFreshCheckpointInitialized(t *testing.T) {
	t.Parallel()

	cp, _ := newTestCheckpoint(t, Config{})
	st := cp.State()
	require.Equal(t, StatusInitialized, st.Status)
	require.Equal(t, -1, st.LastProcessedIndex)
	require.False(t, cp.ShouldSkip(0))
}

func TestCrashedRunReloadsAsRecovering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "discovery.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	hasher := sha256.New()

	cp := Load(path, "discovery", Config{FlushEvery: 1}, clock, hasher, nil)
	require.NoError(t, cp.Start(100, ""))
	require.NoError(t, cp.UpdateProgress(10, 9, 1, 0, "https://example.com/50", 50))
	// No Complete(): simulate a crash by reloading from disk.

	reloaded := Load(path, "discovery", Config{}, clock, hasher, nil)
	st := reloaded.State()
	require.Equal(t, StatusRecovering, st.Status)
	require.Equal(t, 100, st.TotalItems)
	require.Equal(t, 10, st.Processed)
	require.Equal(t, 50, st.LastProcessedIndex)

	require.True(t, reloaded.ShouldSkip(49))
	require.True(t, reloaded.ShouldSkip(50))
	require.False(t, reloaded.ShouldSkip(51))
}

func TestProgressIndexOnlyMovesForward(t *testing.T) {
	t.Parallel()

	cp, _ := newTestCheckpoint(t, Config{FlushEvery: 1})
	require.NoError(t, cp.Start(20, ""))

	// Workers commit out of order: the high-water index wins, so a lower
	// index that lands afterwards must not pull it back.
	require.NoError(t, cp.UpdateProgress(1, 1, 0, 0, "item-10", 10))
	require.NoError(t, cp.UpdateProgress(1, 1, 0, 0, "item-7", 7))

	require.Equal(t, 10, cp.ResumeIndex())
	require.True(t, cp.ShouldSkip(7))
	require.True(t, cp.ShouldSkip(9))
	require.False(t, cp.ShouldSkip(11))
}

func TestCompleteFlushesAndReloadsCompleted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "validation.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	hasher := sha256.New()

	// Huge flush thresholds: only Complete() may persist the final counters.
	cp := Load(path, "validation", Config{FlushEvery: 1000000, FlushInterval: time.Hour}, clock, hasher, nil)
	require.NoError(t, cp.Start(5, ""))
	require.NoError(t, cp.UpdateProgress(5, 5, 0, 0, "last", 4))
	require.NoError(t, cp.Complete())

	reloaded := Load(path, "validation", Config{}, clock, hasher, nil)
	st := reloaded.State()
	require.Equal(t, StatusCompleted, st.Status)
	require.Equal(t, 5, st.Processed)
	require.Equal(t, 4, st.LastProcessedIndex)
}

func TestThrottledWritesSkipDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "discovery.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	hasher := sha256.New()

	cp := Load(path, "discovery", Config{FlushEvery: 100, FlushInterval: time.Hour}, clock, hasher, nil)
	require.NoError(t, cp.Start(10, ""))

	// One throttled update: on-disk state must still show zero progress.
	require.NoError(t, cp.UpdateProgress(1, 1, 0, 0, "item", 0))
	onDisk := Load(path, "discovery", Config{}, clock, hasher, nil)
	require.Equal(t, 0, onDisk.State().Processed)

	// Forced flush via Pause picks it up.
	require.NoError(t, cp.Pause())
	onDisk = Load(path, "discovery", Config{}, clock, hasher, nil)
	require.Equal(t, 1, onDisk.State().Processed)
	require.Equal(t, StatusPaused, onDisk.State().Status)
}

func TestCorruptCheckpointFallsBackFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "enrichment.checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	cp := Load(path, "enrichment", Config{}, clock, sha256.New(), nil)
	require.Equal(t, StatusInitialized, cp.Status())
	require.Equal(t, -1, cp.ResumeIndex())
}

func TestUnknownFieldsIgnoredOnLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "discovery.checkpoint.json")
	payload := `{"stage":"discovery","status":"completed","processed":7,"some_future_field":true}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	cp := Load(path, "discovery", Config{}, clock, sha256.New(), nil)
	st := cp.State()
	require.Equal(t, StatusCompleted, st.Status)
	require.Equal(t, 7, st.Processed)
	// Missing optional field keeps its default.
	require.Equal(t, -1, st.LastProcessedIndex)
}

func TestInputFingerprintValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "input.ndjson")
	require.NoError(t, os.WriteFile(input, []byte(`{"url":"https://example.com"}`+"\n"), 0o600))

	path := filepath.Join(dir, "discovery.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	hasher := sha256.New()

	cp := Load(path, "discovery", Config{}, clock, hasher, nil)
	require.NoError(t, cp.Start(1, input))
	require.NoError(t, cp.ValidateInputFile(input))

	// Mutate the input; resume must now be unsafe.
	require.NoError(t, os.WriteFile(input, []byte(`{"url":"https://other.com"}`+"\n"), 0o600))
	err := cp.ValidateInputFile(input)
	require.ErrorIs(t, err, crawl.ErrCheckpointStale)
}

func TestResumeValidatesFingerprintAndKeepsProgress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "input.ndjson")
	require.NoError(t, os.WriteFile(input, []byte("line\n"), 0o600))

	path := filepath.Join(dir, "discovery.checkpoint.json")
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	hasher := sha256.New()

	cp := Load(path, "discovery", Config{FlushEvery: 1}, clock, hasher, nil)
	require.NoError(t, cp.Start(10, input))
	require.NoError(t, cp.UpdateProgress(3, 3, 0, 0, "item-2", 2))

	reloaded := Load(path, "discovery", Config{}, clock, hasher, nil)
	require.Equal(t, StatusRecovering, reloaded.Status())
	require.NoError(t, reloaded.Resume())
	require.Equal(t, StatusRunning, reloaded.Status())
	require.Equal(t, 2, reloaded.ResumeIndex())

	// Resume from a completed checkpoint is a caller bug.
	require.NoError(t, reloaded.Complete())
	require.Error(t, reloaded.Resume())
}

func TestManagerAggregatesStages(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mgr, err := NewManager(t.TempDir(), Config{FlushEvery: 1}, clock, sha256.New(), nil)
	require.NoError(t, err)

	disc := mgr.Stage(crawl.StageDiscovery)
	require.NoError(t, disc.Start(10, ""))
	require.NoError(t, disc.UpdateProgress(4, 3, 1, 0, "d", 3))

	val := mgr.Stage(crawl.StageValidation)
	require.NoError(t, val.Start(20, ""))
	require.NoError(t, val.UpdateProgress(6, 6, 0, 2, "v", 7))

	p := mgr.Combined()
	require.Equal(t, 30, p.TotalItems)
	require.Equal(t, 10, p.Processed)
	require.Equal(t, 9, p.Successful)
	require.Equal(t, 1, p.Failed)
	require.Equal(t, 2, p.Skipped)

	states := mgr.States()
	require.Len(t, states, 2)
	require.Equal(t, "discovery", states[0].Stage)

	// Same stage handle is returned on repeat lookup.
	require.Same(t, disc, mgr.Stage(crawl.StageDiscovery))

	require.NoError(t, mgr.Reset(crawl.StageDiscovery))
	require.Equal(t, StatusInitialized, mgr.Stage(crawl.StageDiscovery).Status())
}
