// Package audit implements the append-only, hash-chained audit trail
// for compliance validation events.
//
// Every entry links to its predecessor through a canonical-JSON hash,
// so any mutation or reordering of the trail is detectable. Backends
// share the same chaining rules: in-memory with retention for embedded
// use, SQLite and Postgres for durable deployments.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

var (
	ErrChainBroken  = errors.New("audit chain is broken")
	ErrTrailClosed  = errors.New("audit trail is closed")
	ErrEmptyOutcome = errors.New("audit entry outcome is required")
)

// genesisHash anchors the first entry of a chain.
const genesisHash = "genesis"

// Outcome classifies how the audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether the outcome is one of the recognized values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// Entry is a single immutable audit record.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	Outcome    Outcome           `json:"outcome"`
	Details    map[string]string `json:"details,omitempty"`
	Frameworks []string          `json:"frameworks,omitempty"`
	PrevHash   string            `json:"prevHash"`
	EntryHash  string            `json:"entryHash"`
}

// Trail is an append-only audit log. Append fills in identity,
// sequence, timestamp, and chain hashes; callers provide the rest.
type Trail interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// Since returns entries with Timestamp >= since, oldest first.
	// A nil since returns the full retained trail.
	Since(ctx context.Context, since *time.Time) ([]Entry, error)
	// Verify walks the retained chain and reports the first break.
	Verify(ctx context.Context) error
	Close() error
}

// entryHash computes the chain hash over the entry's canonical JSON
// form, excluding ID and EntryHash itself.
func entryHash(e Entry) (string, error) {
	hashable := struct {
		Sequence   uint64            `json:"sequence"`
		Timestamp  time.Time         `json:"timestamp"`
		Actor      string            `json:"actor"`
		Action     string            `json:"action"`
		Resource   string            `json:"resource"`
		Outcome    Outcome           `json:"outcome"`
		Details    map[string]string `json:"details,omitempty"`
		Frameworks []string          `json:"frameworks,omitempty"`
		PrevHash   string            `json:"prevHash"`
	}{
		Sequence:   e.Sequence,
		Timestamp:  e.Timestamp,
		Actor:      e.Actor,
		Action:     e.Action,
		Resource:   e.Resource,
		Outcome:    e.Outcome,
		Details:    e.Details,
		Frameworks: e.Frameworks,
		PrevHash:   e.PrevHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyEntries checks chain continuity and hash integrity over an
// ordered slice. The first entry's PrevHash is taken as the anchor, so
// a retention-pruned prefix does not fail verification.
func VerifyEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	expectedPrev := entries[0].PrevHash
	for i, e := range entries {
		if e.PrevHash != expectedPrev {
			return fmt.Errorf("%w: entry %d (seq %d) has prevHash %s, expected %s",
				ErrChainBroken, i, e.Sequence, e.PrevHash, expectedPrev)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d (seq %d): %v", ErrChainBroken, i, e.Sequence, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d (seq %d) hash mismatch", ErrChainBroken, i, e.Sequence)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

func checkEntry(e Entry) error {
	if e.Outcome == "" {
		return ErrEmptyOutcome
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("unknown audit outcome %q", e.Outcome)
	}
	return nil
}
