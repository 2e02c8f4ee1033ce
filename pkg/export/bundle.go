// Package export assembles audit trail entries into portable evidence
// bundles and ships them to a storage sink (filesystem, S3, or GCS).
//
// A bundle is self-verifying: it records the chain head of the entries
// it carries plus a canonical-JSON hash over its own content, so a
// regulator can check integrity offline without access to the trail.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
)

var (
	// ErrNoEntries is returned when an export window matches no audit entries.
	ErrNoEntries = errors.New("export: bundle has no entries")
	// ErrTampered is returned when a bundle fails its integrity checks.
	ErrTampered = errors.New("export: bundle integrity check failed")
)

// Bundle is a point-in-time export of audit trail entries.
type Bundle struct {
	BundleID   string        `json:"bundleId"`
	CreatedAt  time.Time     `json:"createdAt"`
	Entries    []audit.Entry `json:"entries"`
	ChainHead  string        `json:"chainHead"`
	BundleHash string        `json:"bundleHash"`
}

// NewBundle builds a bundle over an ordered slice of audit entries.
// The slice must be a contiguous, unmodified run of a trail; the chain
// is verified before bundling so a tampered source fails here rather
// than at the regulator's desk.
func NewBundle(entries []audit.Entry, now time.Time) (*Bundle, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if err := audit.VerifyEntries(entries); err != nil {
		return nil, fmt.Errorf("export: source entries: %w", err)
	}
	b := &Bundle{
		BundleID:  uuid.New().String(),
		CreatedAt: now.UTC(),
		Entries:   entries,
		ChainHead: entries[len(entries)-1].EntryHash,
	}
	hash, err := bundleHash(b)
	if err != nil {
		return nil, err
	}
	b.BundleHash = hash
	return b, nil
}

// Verify checks a bundle's integrity: the entry chain, the recorded
// chain head, and the bundle hash. It accepts bundles parsed from
// untrusted JSON.
func Verify(b *Bundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", ErrTampered)
	}
	if len(b.Entries) == 0 {
		return ErrNoEntries
	}
	if err := audit.VerifyEntries(b.Entries); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	if head := b.Entries[len(b.Entries)-1].EntryHash; head != b.ChainHead {
		return fmt.Errorf("%w: chain head is %s, bundle records %s", ErrTampered, head, b.ChainHead)
	}
	computed, err := bundleHash(b)
	if err != nil {
		return err
	}
	if computed != b.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch", ErrTampered)
	}
	return nil
}

// bundleHash computes the canonical hash over every field except
// BundleHash itself.
func bundleHash(b *Bundle) (string, error) {
	hashable := struct {
		BundleID  string        `json:"bundleId"`
		CreatedAt time.Time     `json:"createdAt"`
		Entries   []audit.Entry `json:"entries"`
		ChainHead string        `json:"chainHead"`
	}{
		BundleID:  b.BundleID,
		CreatedAt: b.CreatedAt,
		Entries:   b.Entries,
		ChainHead: b.ChainHead,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("export: marshal bundle for hashing: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("export: canonicalize bundle: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Exporter reads a window of an audit trail, bundles it, and writes
// the bundle JSON to a sink.
type Exporter struct {
	trail  audit.Trail
	sink   Sink
	clock  func() time.Time
	logger *slog.Logger
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ExporterOption {
	return func(x *Exporter) { x.clock = clock }
}

// WithLogger overrides the exporter's logger.
func WithLogger(logger *slog.Logger) ExporterOption {
	return func(x *Exporter) { x.logger = logger }
}

// NewExporter wires a trail to a sink.
func NewExporter(trail audit.Trail, sink Sink, opts ...ExporterOption) *Exporter {
	x := &Exporter{
		trail:  trail,
		sink:   sink,
		clock:  time.Now,
		logger: slog.Default().With("component", "evidence-export"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Export bundles every trail entry with Timestamp >= since (the whole
// retained trail when since is nil) and writes it to the sink. It
// returns the bundle and the sink location.
func (x *Exporter) Export(ctx context.Context, since *time.Time) (*Bundle, string, error) {
	entries, err := x.trail.Since(ctx, since)
	if err != nil {
		return nil, "", fmt.Errorf("export: read trail: %w", err)
	}
	b, err := NewBundle(entries, x.clock())
	if err != nil {
		return nil, "", err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, "", fmt.Errorf("export: marshal bundle: %w", err)
	}
	location, err := x.sink.Put(ctx, bundleKey(b), data)
	if err != nil {
		return nil, "", fmt.Errorf("export: write bundle: %w", err)
	}
	x.logger.Info("exported evidence bundle",
		"bundle_id", b.BundleID,
		"entries", len(b.Entries),
		"location", location)
	return b, location, nil
}

// bundleKey derives the sink key from the bundle hash, so retried
// writes of the same bundle are idempotent.
func bundleKey(b *Bundle) string {
	return strings.TrimPrefix(b.BundleHash, "sha256:") + ".json"
}
