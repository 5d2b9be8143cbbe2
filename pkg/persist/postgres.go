package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/getmockd/peek/pkg/capture"
)

// DefaultTable is the table used when PostgresOptions.Table is empty.
const DefaultTable = "peek_requests"

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOptions configures a Postgres backend.
type PostgresOptions struct {
	Table string
	TTL   time.Duration
}

// Postgres stores records as JSONB documents in PostgreSQL.
type Postgres struct {
	db    *sql.DB
	table string
	ttl   time.Duration
	now   func() time.Time
	ready atomic.Bool
}

var _ Backend = (*Postgres)(nil)

// OpenPostgres connects to dsn, verifies the connection and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p, err := NewPostgres(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an open database. Call Migrate before use.
func NewPostgres(db *sql.DB, opts PostgresOptions) (*Postgres, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Postgres{db: db, table: opts.Table, ttl: opts.TTL, now: time.Now}, nil
}

// Migrate creates the table and indexes when missing and marks the backend
// ready.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema(p.table) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			p.ready.Store(false)
			return fmt.Errorf("migrate %s: %w", p.table, err)
		}
	}
	p.ready.Store(true)
	return nil
}

func schema(table string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
    id          TEXT PRIMARY KEY,
    recorded_at TIMESTAMPTZ NOT NULL,
    date        DATE NOT NULL,
    method      TEXT NOT NULL,
    status      INTEGER NOT NULL,
    url         TEXT NOT NULL,
    route       TEXT NOT NULL DEFAULT '',
    doc         JSONB NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ` + table + `_date_idx ON ` + table + ` (date)`,
		`CREATE INDEX IF NOT EXISTS ` + table + `_expires_idx ON ` + table + ` (expires_at)`,
	}
}

// Persist upserts rec.
func (p *Postgres) Persist(ctx context.Context, rec *capture.Record) error {
	if rec == nil {
		return nil
	}
	if !p.Ready() {
		return ErrNotReady
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	query := `
INSERT INTO ` + p.table + ` (id, recorded_at, date, method, status, url, route, doc, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, status = EXCLUDED.status, expires_at = EXCLUDED.expires_at`

	ts := rec.Time().UTC()
	_, err = p.db.ExecContext(ctx, query,
		rec.ID,
		ts,
		DateOf(rec),
		rec.Method,
		rec.StatusCode(),
		rec.URL,
		rec.Route,
		doc,
		p.now().Add(p.ttl).UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Query returns matching unexpired records, newest first.
func (p *Postgres) Query(ctx context.Context, f Filter) ([]*capture.Record, error) {
	if !p.Ready() {
		return nil, ErrNotReady
	}
	query, args := buildQuery(p.table, f.Normalize(), p.now().UTC())
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*capture.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		// JSONPath has no SQL translation; it narrows the fetched page.
		if len(f.Path) > 0 && !matchesPath(rec, f.Path) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one unexpired record.
func (p *Postgres) Get(ctx context.Context, id string) (*capture.Record, error) {
	if !p.Ready() {
		return nil, ErrNotReady
	}
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM `+p.table+` WHERE id = $1 AND expires_at > $2`,
		id, p.now().UTC(),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return decodeDoc(doc)
}

// DeleteAll removes every record.
func (p *Postgres) DeleteAll(ctx context.Context) (int, error) {
	if !p.Ready() {
		return 0, ErrNotReady
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge removes expired records.
func (p *Postgres) Purge(ctx context.Context) (int, error) {
	if !p.Ready() {
		return 0, ErrNotReady
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table+` WHERE expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ready reports whether the schema was applied.
func (p *Postgres) Ready() bool {
	return p != nil && p.ready.Load()
}

// Close closes the database.
func (p *Postgres) Close() error {
	p.ready.Store(false)
	return p.db.Close()
}

// buildQuery renders the filtered SELECT with positional parameters.
func buildQuery(table string, f Filter, now time.Time) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}

	add("expires_at > ?", now)
	if f.Method != "" {
		add("method = ?", f.Method)
	}
	if f.StatusClass != 0 {
		add("status >= ?", f.StatusClass*100)
		add("status < ?", (f.StatusClass+1)*100)
	}
	if !f.From.IsZero() {
		add("recorded_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("recorded_at <= ?", f.To.UTC())
	}
	if f.BeforeID != "" {
		add("id < ?", f.BeforeID)
	}
	if f.Q != "" {
		add("(url ILIKE ? OR route ILIKE ? OR (doc->'body')::text ILIKE ?)", "%"+escapeLike(f.Q)+"%")
	}

	query := "SELECT doc FROM " + table + " WHERE " + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY id DESC LIMIT %d", f.Limit)
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func decodeDoc(doc []byte) (*capture.Record, error) {
	var rec capture.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
