package records

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "discovery.ndjson")
	w, err := NewWriter(path)
	require.NoError(t, err)

	recs := []crawl.StageRecord{
		{URL: "https://example.com/", URLHash: "aa", Depth: 0, Status: "ok", ProcessedAt: time.Unix(1700000000, 0).UTC()},
		{URL: "https://example.com/a", URLHash: "bb", Depth: 1, Status: "failed", Error: "boom"},
	}
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

func TestAppendIsAppendOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.ndjson")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(crawl.StageRecord{URL: "https://a.test/", Status: "ok"}))
	require.NoError(t, w.Close())

	// Reopening keeps the earlier lines.
	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(crawl.StageRecord{URL: "https://b.test/", Status: "ok"}))
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://a.test/", got[0].URL)
	require.Equal(t, "https://b.test/", got[1].URL)
}

func TestConcurrentAppendsProduceWholeLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.ndjson")
	w, err := NewWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := w.Append(crawl.StageRecord{URL: "https://example.com/x", Status: "ok"}); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 400)
}

func TestMalformedLineAbortsWithLineNumber(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.ndjson")
	content := `{"url":"https://a.test/","status":"ok"}` + "\n" + "{broken\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := ReadAll(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestBlankLinesSkipped(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gaps.ndjson")
	content := "\n" + `{"url":"https://a.test/","status":"ok"}` + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := ReadAll(filepath.Join(t.TempDir(), "nope.ndjson"))
	require.Error(t, err)
}
