// Package depth tracks per-section crawl statistics and recommends depth limits.
package depth

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Config bounds the recommended depth range.
type Config struct {
	BaseDepth int
	MaxDepth  int
}

// SectionStats accumulates observed outcomes for one section key.
type SectionStats struct {
	Discovered       int     `json:"discovered"`
	Validated        int     `json:"validated"`
	ContentPages     int     `json:"content_pages"`
	TotalWords       int64   `json:"total_words"`
	MaxUsefulDepth   int     `json:"max_useful_depth"`
	RecommendedDepth int     `json:"recommended_depth"`
	ContentDensity   float64 `json:"content_density"`
	AvgWordCount     float64 `json:"avg_word_count"`
}

// Manager recommends a crawl depth per section based on what the crawl has
// already learned about it. Stats update incrementally; the recommendation is
// recomputed on every update.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	sections map[string]*SectionStats
	logger   *zap.Logger
}

// NewManager creates a Manager with the given bounds.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.BaseDepth <= 0 {
		cfg.BaseDepth = 3
	}
	if cfg.MaxDepth < cfg.BaseDepth {
		cfg.MaxDepth = cfg.BaseDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		sections: make(map[string]*SectionStats),
		logger:   logger,
	}
}

// DepthForURL returns the recommended depth for the URL's section. Sections
// without history get the base depth unchanged.
func (m *Manager) DepthForURL(rawURL string) int {
	key, err := crawl.SectionKey(rawURL)
	if err != nil {
		return m.cfg.BaseDepth
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sections[key]; ok {
		return s.RecommendedDepth
	}
	return m.cfg.BaseDepth
}

// RecordDiscovery notes that a URL was discovered at the given depth.
func (m *Manager) RecordDiscovery(rawURL string, _ int) {
	key, err := crawl.SectionKey(rawURL)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.section(key)
	s.Discovered++
	m.recompute(s)
}

// RecordValidation feeds a validation outcome back into the section stats.
func (m *Manager) RecordValidation(rawURL string, isValid, hasContent bool, wordCount, depth int) {
	key, err := crawl.SectionKey(rawURL)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.section(key)
	if isValid {
		s.Validated++
		s.TotalWords += int64(wordCount)
		if hasContent {
			s.ContentPages++
		}
		if depth > s.MaxUsefulDepth {
			s.MaxUsefulDepth = depth
		}
	}
	m.recompute(s)
}

// SectionStats returns a copy of the stats for a section key, if present.
func (m *Manager) SectionStats(key string) (SectionStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sections[key]; ok {
		return *s, true
	}
	return SectionStats{}, false
}

func (m *Manager) section(key string) *SectionStats {
	s, ok := m.sections[key]
	if !ok {
		s = &SectionStats{RecommendedDepth: m.cfg.BaseDepth}
		m.sections[key] = s
	}
	return s
}

// recompute derives the recommendation. The >500 and >100 page bonuses are
// mutually exclusive thresholds. Caller must hold mu.
func (m *Manager) recompute(s *SectionStats) {
	if s.Discovered > 0 {
		s.ContentDensity = float64(s.Validated) / float64(s.Discovered)
	}
	if s.Validated > 0 {
		s.AvgWordCount = float64(s.TotalWords) / float64(s.Validated)
	}

	rec := m.cfg.BaseDepth
	switch {
	case s.ContentDensity > 0.7:
		rec += 2
	case s.ContentDensity > 0.5:
		rec++
	}
	if s.AvgWordCount > 1000 {
		rec++
	}
	if s.Validated > 0 && s.AvgWordCount < 100 {
		rec--
	}
	switch {
	case s.Validated > 500:
		rec += 2
	case s.Validated > 100:
		rec++
	}
	if useful := s.MaxUsefulDepth + 1; useful > rec {
		rec = useful
		if rec > m.cfg.MaxDepth {
			rec = m.cfg.MaxDepth
		}
	}
	if rec > m.cfg.MaxDepth {
		rec = m.cfg.MaxDepth
	}
	if rec < 1 {
		rec = 1
	}
	s.RecommendedDepth = rec
}
