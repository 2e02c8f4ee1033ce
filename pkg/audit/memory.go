package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Retention bounds how much of the trail an in-memory store keeps.
// Zero values mean unlimited. Pruning drops the oldest entries and
// never reorders the chain.
type Retention struct {
	MaxEntries int
	MaxAge     time.Duration
}

// MemoryTrail is the in-process Trail used by embedded engines and
// tests. Safe for concurrent use.
type MemoryTrail struct {
	mu        sync.RWMutex
	entries   []Entry
	sequence  uint64
	chainHead string
	retention Retention
	clock     func() time.Time
	closed    bool
}

// MemoryOption configures a MemoryTrail.
type MemoryOption func(*MemoryTrail)

// WithRetention sets the retention bounds.
func WithRetention(r Retention) MemoryOption {
	return func(t *MemoryTrail) { t.retention = r }
}

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(t *MemoryTrail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

var _ Trail = (*MemoryTrail)(nil)

// NewMemoryTrail creates an empty in-memory trail.
func NewMemoryTrail(opts ...MemoryOption) *MemoryTrail {
	t := &MemoryTrail{
		chainHead: genesisHash,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append adds an entry to the trail, assigning identity, sequence,
// timestamp, and chain hashes.
func (t *MemoryTrail) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := checkEntry(e); err != nil {
		return Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Entry{}, ErrTrailClosed
	}

	t.sequence++
	e.ID = uuid.New().String()
	e.Sequence = t.sequence
	e.Timestamp = t.clock().UTC()
	e.PrevHash = t.chainHead

	hash, err := entryHash(e)
	if err != nil {
		t.sequence--
		return Entry{}, err
	}
	e.EntryHash = hash
	t.chainHead = hash
	t.entries = append(t.entries, e)
	t.prune(e.Timestamp)

	return e, nil
}

// prune enforces retention. Called with the lock held.
func (t *MemoryTrail) prune(now time.Time) {
	drop := 0
	if t.retention.MaxEntries > 0 && len(t.entries) > t.retention.MaxEntries {
		drop = len(t.entries) - t.retention.MaxEntries
	}
	if t.retention.MaxAge > 0 {
		cutoff := now.Add(-t.retention.MaxAge)
		for drop < len(t.entries) && t.entries[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		t.entries = append([]Entry(nil), t.entries[drop:]...)
	}
}

// Since returns retained entries with Timestamp >= since, oldest first.
func (t *MemoryTrail) Since(ctx context.Context, since *time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrTrailClosed
	}

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Verify checks the retained chain.
func (t *MemoryTrail) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTrailClosed
	}
	return VerifyEntries(t.entries)
}

// Head returns the current chain head hash.
func (t *MemoryTrail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Len returns the number of retained entries.
func (t *MemoryTrail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Close marks the trail closed. Further operations fail.
func (t *MemoryTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
