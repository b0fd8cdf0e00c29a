package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Progress aggregates counters across all stages.
type Progress struct {
	TotalItems int `json:"total_items"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Manager owns the checkpoint directory and hands out one Checkpoint per
// stage, aggregating them for combined progress reporting.
type Manager struct {
	dir    string
	cfg    Config
	clock  crawl.Clock
	hasher crawl.Hasher
	logger *zap.Logger

	mu     sync.Mutex
	stages map[string]*Checkpoint
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string, cfg Config, clock crawl.Clock, hasher crawl.Hasher, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:    dir,
		cfg:    cfg,
		clock:  clock,
		hasher: hasher,
		logger: logger,
		stages: make(map[string]*Checkpoint),
	}, nil
}

// Stage returns the checkpoint for a stage, loading it from disk on first use.
func (m *Manager) Stage(name crawl.StageName) *Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.stages[string(name)]; ok {
		return cp
	}
	cp := Load(m.pathFor(name), string(name), m.cfg, m.clock, m.hasher, m.logger.Named("checkpoint"))
	m.stages[string(name)] = cp
	return cp
}

// Reset removes a stage's checkpoint file and forgets its in-memory state.
func (m *Manager) Reset(name crawl.StageName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, string(name))
	if err := os.Remove(m.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint for %s: %w", name, err)
	}
	return nil
}

// States returns a snapshot of every loaded stage, ordered by stage name.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.stages))
	for _, cp := range m.stages {
		out = append(out, cp.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Combined sums progress counters across all loaded stages.
func (m *Manager) Combined() Progress {
	var p Progress
	for _, st := range m.States() {
		p.TotalItems += st.TotalItems
		p.Processed += st.Processed
		p.Successful += st.Successful
		p.Failed += st.Failed
		p.Skipped += st.Skipped
	}
	return p
}

func (m *Manager) pathFor(name crawl.StageName) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s.checkpoint.json", name))
}
