package crawl

import "errors"

// Sentinel errors for the orchestration error taxonomy. Callers classify with
// errors.Is; wrapped variants carry the specifics.
var (
	// ErrMalformedURL marks input that cannot be canonicalized (missing
	// scheme or host). Such URLs are rejected, never crawled.
	ErrMalformedURL = errors.New("malformed url")

	// ErrDuplicate is the normal dedup outcome, not a failure.
	ErrDuplicate = errors.New("duplicate url")

	// ErrCheckpointCorrupt marks unreadable checkpoint state. The loader
	// falls back to a fresh checkpoint and logs loudly; it never crashes.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrCheckpointStale marks an input fingerprint mismatch. Resuming over
	// changed input is unsafe and must be surfaced, never ignored.
	ErrCheckpointStale = errors.New("checkpoint stale: input fingerprint mismatch")

	// ErrCircuitOpen is a proactive refusal to dispatch to a cooling-down
	// domain. It counts as a skip, not a hard failure.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
