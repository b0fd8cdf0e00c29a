// Package checkpoint persists durable per-stage progress so a crashed run
// resumes where it stopped instead of reprocessing.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Status is the lifecycle state of a stage checkpoint.
type Status string

// Checkpoint lifecycle states. A persisted "running" state on load means the
// process died uncleanly and becomes "recovering".
const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRecovering  Status = "recovering"
)

// State is the full checkpoint payload persisted as one JSON file per stage.
// Unknown fields are ignored on load; missing fields keep their defaults.
type State struct {
	Stage              string    `json:"stage"`
	Status             Status    `json:"status"`
	TotalItems         int       `json:"total_items"`
	Processed          int       `json:"processed"`
	Successful         int       `json:"successful"`
	Failed             int       `json:"failed"`
	Skipped            int       `json:"skipped"`
	LastProcessedIndex int       `json:"last_processed_index"`
	LastProcessedItem  string    `json:"last_processed_item,omitempty"`
	InputFile          string    `json:"input_file,omitempty"`
	InputFingerprint   string    `json:"input_fingerprint,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	ErrorCount         int       `json:"error_count"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func freshState(stage string) State {
	return State{
		Stage:              stage,
		Status:             StatusInitialized,
		LastProcessedIndex: -1,
	}
}

// Config throttles checkpoint writes: a flush happens every FlushEvery
// updates or FlushInterval elapsed, whichever comes first. Complete, Fail
// and Pause always flush.
type Config struct {
	FlushEvery    int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushEvery <= 0 {
		c.FlushEvery = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

// Checkpoint owns exactly one stage's durable state.
type Checkpoint struct {
	mu     sync.Mutex
	path   string
	state  State
	cfg    Config
	clock  crawl.Clock
	hasher crawl.Hasher
	logger *zap.Logger

	updatesSinceFlush int
	lastFlush         time.Time
}

// Load reads the checkpoint file for a stage, creating fresh state when the
// file is absent. Unreadable state falls back to a fresh checkpoint with a
// loud log; it never crashes the process. A persisted running status becomes
// recovering.
func Load(path, stage string, cfg Config, clock crawl.Clock, hasher crawl.Hasher, logger *zap.Logger) *Checkpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	cp := &Checkpoint{
		path:   path,
		state:  freshState(stage),
		cfg:    cfg.withDefaults(),
		clock:  clock,
		hasher: hasher,
		logger: logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return cp
	case err != nil:
		logger.Error("checkpoint unreadable, starting fresh",
			zap.String("stage", stage), zap.String("path", path), zap.Error(err))
		return cp
	}

	st := freshState(stage)
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Error("checkpoint corrupt, starting fresh",
			zap.String("stage", stage), zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", crawl.ErrCheckpointCorrupt, err)))
		return cp
	}
	if st.Status == StatusRunning {
		logger.Warn("unclean shutdown detected, checkpoint recovering",
			zap.String("stage", stage), zap.Int("resume_index", st.LastProcessedIndex))
		st.Status = StatusRecovering
	}
	cp.state = st
	return cp
}

// Start resets progress for a fresh stage run and records the input
// fingerprint. It flushes immediately so a crash right after start is
// distinguishable from never-started.
func (c *Checkpoint) Start(totalItems int, inputFile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := freshState(c.state.Stage)
	st.Status = StatusRunning
	st.TotalItems = totalItems
	st.StartedAt = c.clock.Now()
	st.UpdatedAt = st.StartedAt
	if inputFile != "" {
		fp, err := c.fingerprint(inputFile)
		if err != nil {
			return err
		}
		st.InputFile = inputFile
		st.InputFingerprint = fp
	}
	c.state = st
	return c.flushLocked()
}

// Resume transitions a recovering or paused checkpoint back to running while
// keeping progress. When the checkpoint recorded an input fingerprint, the
// input file is re-validated first; a mismatch is an unsafe resume.
func (c *Checkpoint) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Status {
	case StatusRecovering, StatusPaused:
	default:
		return fmt.Errorf("cannot resume stage %q from status %q", c.state.Stage, c.state.Status)
	}
	if c.state.InputFile != "" {
		if err := c.validateInputLocked(c.state.InputFile); err != nil {
			return err
		}
	}
	c.state.Status = StatusRunning
	c.state.UpdatedAt = c.clock.Now()
	return c.flushLocked()
}

// UpdateProgress advances the counters and overwrites the last index/item.
// The index only moves forward: with concurrent workers committing out of
// order, a crash after a high index commits means lower indices still in
// flight at that moment are treated as done on resume. Replay is therefore
// at-most-once per item, never at-least-once. Writes are throttled per
// Config.
func (c *Checkpoint) UpdateProgress(processed, successful, failed, skipped int, lastItem string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Processed += processed
	c.state.Successful += successful
	c.state.Failed += failed
	c.state.Skipped += skipped
	c.state.LastProcessedItem = lastItem
	if index > c.state.LastProcessedIndex {
		c.state.LastProcessedIndex = index
	}
	c.state.UpdatedAt = c.clock.Now()

	c.updatesSinceFlush++
	if c.updatesSinceFlush >= c.cfg.FlushEvery || c.clock.Now().Sub(c.lastFlush) >= c.cfg.FlushInterval {
		return c.flushLocked()
	}
	return nil
}

// RecordError stores the most recent per-item error without failing the stage.
func (c *Checkpoint) RecordError(errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastError = errMsg
	c.state.ErrorCount++
	c.state.UpdatedAt = c.clock.Now()
}

// ShouldSkip reports whether the item at index was already processed and must
// be skipped on replay.
func (c *Checkpoint) ShouldSkip(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return index <= c.state.LastProcessedIndex
}

// Complete marks the stage finished and forces a flush.
func (c *Checkpoint) Complete() error {
	return c.finish(StatusCompleted, "")
}

// Fail marks the stage failed with the terminal error and forces a flush.
func (c *Checkpoint) Fail(errMsg string) error {
	return c.finish(StatusFailed, errMsg)
}

// Pause marks the stage paused and forces a flush.
func (c *Checkpoint) Pause() error {
	return c.finish(StatusPaused, "")
}

func (c *Checkpoint) finish(status Status, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = status
	if errMsg != "" {
		c.state.LastError = errMsg
		c.state.ErrorCount++
	}
	c.state.UpdatedAt = c.clock.Now()
	return c.flushLocked()
}

// ValidateInputFile recomputes the input fingerprint and fails when it no
// longer matches the one captured at Start.
func (c *Checkpoint) ValidateInputFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateInputLocked(path)
}

func (c *Checkpoint) validateInputLocked(path string) error {
	if c.state.InputFingerprint == "" {
		return nil
	}
	fp, err := c.fingerprint(path)
	if err != nil {
		return err
	}
	if fp != c.state.InputFingerprint {
		return fmt.Errorf("%w: stage %q input %q", crawl.ErrCheckpointStale, c.state.Stage, path)
	}
	return nil
}

// State returns a copy of the current state.
func (c *Checkpoint) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current lifecycle status.
func (c *Checkpoint) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// ResumeIndex returns the last processed index (-1 when none).
func (c *Checkpoint) ResumeIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.LastProcessedIndex
}

func (c *Checkpoint) fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input file for fingerprint: %w", err)
	}
	fp, err := c.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("fingerprint input file: %w", err)
	}
	return fp, nil
}

// flushLocked writes the state atomically (tmp file + rename) so a crash
// mid-write never corrupts the previous checkpoint. Caller must hold mu.
func (c *Checkpoint) flushLocked() error {
	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	c.updatesSinceFlush = 0
	c.lastFlush = c.clock.Now()
	return nil
}
