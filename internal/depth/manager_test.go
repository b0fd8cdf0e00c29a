package depth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoHistoryReturnsBaseDepth(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{BaseDepth: 3, MaxDepth: 8}, nil)
	require.Equal(t, 3, m.DepthForURL("https://example.com/unknown/section"))
}

func TestRichSectionEarnsMaxDepth(t *testing.T) {
	t.Parallel()

	// density 0.8, avg words 1200, 600 validated pages, base 3, max 8:
	// 3 +2 (density>0.7) +1 (words>1000) +2 (pages>500) = 8, clamped at 8.
	m := NewManager(Config{BaseDepth: 3, MaxDepth: 8}, nil)

	for i := 0; i < 750; i++ {
		url := fmt.Sprintf("https://shop.example.com/products/item-%d", i)
		m.RecordDiscovery(url, 2)
	}
	for i := 0; i < 600; i++ {
		url := fmt.Sprintf("https://shop.example.com/products/item-%d", i)
		m.RecordValidation(url, true, true, 1200, 2)
	}

	stats, ok := m.SectionStats("shop.example.com/products")
	require.True(t, ok)
	require.InDelta(t, 0.8, stats.ContentDensity, 1e-9)
	require.InDelta(t, 1200, stats.AvgWordCount, 1e-9)
	require.Equal(t, 600, stats.Validated)

	require.Equal(t, 8, m.DepthForURL("https://shop.example.com/products/item-0"))
}

func TestThinSectionLosesDepth(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{BaseDepth: 3, MaxDepth: 8}, nil)

	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("https://example.com/tags/t%d", i)
		m.RecordDiscovery(url, 1)
	}
	// Two valid pages out of ten, nearly empty bodies.
	m.RecordValidation("https://example.com/tags/t0", true, false, 20, 1)
	m.RecordValidation("https://example.com/tags/t1", true, false, 30, 1)

	// density 0.2 (no bonus), avg words 25 (-1): 3-1 = 2.
	require.Equal(t, 2, m.DepthForURL("https://example.com/tags/t5"))
}

func TestPageBonusesAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{BaseDepth: 3, MaxDepth: 20}, nil)
	for i := 0; i < 600; i++ {
		url := fmt.Sprintf("https://example.com/docs/p%d", i)
		m.RecordDiscovery(url, 1)
		m.RecordValidation(url, true, true, 500, 1)
	}

	stats, ok := m.SectionStats("example.com/docs")
	require.True(t, ok)
	// density 1.0 (+2), words 500 (no bonus), 600 pages (+2, never +3).
	require.Equal(t, 7, stats.RecommendedDepth)
}

func TestMaxUsefulDepthRaisesRecommendation(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{BaseDepth: 2, MaxDepth: 6}, nil)
	m.RecordDiscovery("https://example.com/wiki/a", 5)
	m.RecordDiscovery("https://example.com/wiki/b", 5)
	m.RecordDiscovery("https://example.com/wiki/c", 5)
	// One valid page found deep: recommendation must reach depth+1.
	m.RecordValidation("https://example.com/wiki/a", true, true, 500, 5)

	require.Equal(t, 6, m.DepthForURL("https://example.com/wiki/z"))
}

func TestRecommendationClampedToBounds(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{BaseDepth: 1, MaxDepth: 4}, nil)
	for i := 0; i < 4; i++ {
		url := fmt.Sprintf("https://example.com/x/p%d", i)
		m.RecordDiscovery(url, 1)
	}
	m.RecordValidation("https://example.com/x/p0", true, false, 10, 1)

	// 1 -1 (words<100) would be 0; clamp to 1.
	require.Equal(t, 1, m.DepthForURL("https://example.com/x/p0"))
}
