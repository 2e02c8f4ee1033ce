package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	// Database drivers for the supported trail backends.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLTrail persists the audit chain in a relational database. SQLite
// (pure Go driver) serves single-node deployments, Postgres serves
// shared ones. Both use the same schema and chaining rules as
// MemoryTrail, without retention pruning.
type SQLTrail struct {
	db       *sql.DB
	postgres bool
	clock    func() time.Time
}

var _ Trail = (*SQLTrail)(nil)

// SQLOption configures a SQLTrail.
type SQLOption func(*SQLTrail)

// WithSQLClock overrides the clock for deterministic tests.
func WithSQLClock(clock func() time.Time) SQLOption {
	return func(t *SQLTrail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewSQLiteTrail opens (and migrates) a SQLite-backed trail. Use
// ":memory:" for an ephemeral store.
func NewSQLiteTrail(dsn string, opts ...SQLOption) (*SQLTrail, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite trail: %w", err)
	}
	// The sqlite driver serializes writes through a single connection.
	db.SetMaxOpenConns(1)
	return newSQLTrail(db, false, opts...)
}

// NewPostgresTrail opens (and migrates) a Postgres-backed trail.
func NewPostgresTrail(dsn string, opts ...SQLOption) (*SQLTrail, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres trail: %w", err)
	}
	return newSQLTrail(db, true, opts...)
}

// NewSQLTrailFromDB wraps an existing database handle. Used by tests.
func NewSQLTrailFromDB(db *sql.DB, postgres bool, opts ...SQLOption) (*SQLTrail, error) {
	return newSQLTrail(db, postgres, opts...)
}

func newSQLTrail(db *sql.DB, postgres bool, opts ...SQLOption) (*SQLTrail, error) {
	t := &SQLTrail{db: db, postgres: postgres, clock: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLTrail) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq        BIGINT PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	ts         TEXT NOT NULL,
	ts_unix_ns BIGINT NOT NULL,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	resource   TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	details    TEXT NOT NULL,
	frameworks TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries(ts_unix_ns);
`
	if _, err := t.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $N for Postgres.
func (t *SQLTrail) rebind(query string) string {
	if !t.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append writes the entry inside a transaction, chaining it to the
// current head row.
func (t *SQLTrail) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := checkEntry(e); err != nil {
		return Entry{}, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	headQuery := "SELECT seq, entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1"
	if t.postgres {
		headQuery += " FOR UPDATE"
	}
	var seq uint64
	prev := genesisHash
	row := tx.QueryRowContext(ctx, headQuery)
	switch err := row.Scan(&seq, &prev); {
	case errors.Is(err, sql.ErrNoRows):
		seq, prev = 0, genesisHash
	case err != nil:
		return Entry{}, fmt.Errorf("read audit chain head: %w", err)
	}

	e.ID = uuid.New().String()
	e.Sequence = seq + 1
	e.Timestamp = t.clock().UTC()
	e.PrevHash = prev
	hash, err := entryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = hash

	details, err := json.Marshal(e.Details)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit details: %w", err)
	}
	frameworks, err := json.Marshal(e.Frameworks)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit frameworks: %w", err)
	}

	insert := t.rebind(`INSERT INTO audit_entries
		(seq, id, ts, ts_unix_ns, actor, action, resource, outcome, details, frameworks, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, insert,
		e.Sequence, e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Timestamp.UnixNano(),
		e.Actor, e.Action, e.Resource, string(e.Outcome),
		string(details), string(frameworks), e.PrevHash, e.EntryHash)
	if err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit audit append: %w", err)
	}
	return e, nil
}

// Since returns entries with Timestamp >= since, oldest first.
func (t *SQLTrail) Since(ctx context.Context, since *time.Time) ([]Entry, error) {
	query := `SELECT seq, id, ts, actor, action, resource, outcome, details, frameworks, prev_hash, entry_hash
		FROM audit_entries`
	var args []any
	if since != nil {
		query += " WHERE ts_unix_ns >= ?"
		args = append(args, since.UnixNano())
	}
	query += " ORDER BY seq ASC"

	rows, err := t.db.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		ts         string
		outcome    string
		details    string
		frameworks string
	)
	if err := rows.Scan(&e.Sequence, &e.ID, &ts, &e.Actor, &e.Action, &e.Resource,
		&outcome, &details, &frameworks, &e.PrevHash, &e.EntryHash); err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Entry{}, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
	}
	e.Timestamp = parsed
	e.Outcome = Outcome(outcome)
	if details != "" && details != "null" {
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return Entry{}, fmt.Errorf("decode audit details: %w", err)
		}
	}
	if frameworks != "" && frameworks != "null" {
		if err := json.Unmarshal([]byte(frameworks), &e.Frameworks); err != nil {
			return Entry{}, fmt.Errorf("decode audit frameworks: %w", err)
		}
	}
	return e, nil
}

// Verify re-reads the full chain and checks hash continuity.
func (t *SQLTrail) Verify(ctx context.Context) error {
	entries, err := t.Since(ctx, nil)
	if err != nil {
		return err
	}
	return VerifyEntries(entries)
}

// Close releases the database handle.
func (t *SQLTrail) Close() error {
	return t.db.Close()
}
