package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// StoreConfig holds connection pool settings.
type StoreConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultStoreConfig returns default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Dialect selects SQL placeholders and column types.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DriverName returns the database/sql driver for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DialectFor picks the dialect for a database URL: postgres:// and
// postgresql:// DSNs go to Postgres, anything else is a SQLite file path.
func DialectFor(url string) Dialect {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// SQLStore writes usage records to the usage_logs table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLStore connects to url, pings it and creates the table if needed.
func OpenSQLStore(ctx context.Context, url string, cfg StoreConfig) (*SQLStore, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	defaults := DefaultStoreConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	dialect := DialectFor(url)
	db, err := sql.Open(dialect.DriverName(), url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the usage_logs table and its thread index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	idType := "TEXT"
	tsType := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		idType = "UUID"
		tsType = "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_logs (
			id %s PRIMARY KEY,
			timestamp %s NOT NULL,
			user_identifier VARCHAR(255),
			thread_id VARCHAR(36),
			model VARCHAR(50) NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			prompt_text TEXT NOT NULL,
			ai_response TEXT,
			stop_reason VARCHAR(50),
			error TEXT
		)`, idType, tsType),
		`CREATE INDEX IF NOT EXISTS usage_logs_thread_idx ON usage_logs (thread_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate usage_logs: %w", err)
		}
	}
	return nil
}

// Log inserts rec.
func (s *SQLStore) Log(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO usage_logs (id, timestamp, user_identifier, thread_id, model, temperature, prompt_text, ai_response, stop_reason, error)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`),
		rec.ID,
		rec.Timestamp.UTC(),
		nullableString(rec.UserIdentifier),
		nullableString(rec.ThreadID),
		rec.Deployment,
		rec.Temperature,
		rec.Prompt,
		nullableString(rec.Response),
		nullableString(rec.StopReason),
		nullableString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, timestamp, user_identifier, thread_id, model, temperature, prompt_text, ai_response, stop_reason, error
		FROM usage_logs
		ORDER BY timestamp DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                               Record
			user, thread, resp, stop, errText sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &user, &thread, &rec.Deployment, &rec.Temperature,
			&rec.Prompt, &resp, &stop, &errText); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.UserIdentifier = user.String
		rec.ThreadID = thread.String
		rec.Response = resp.String
		rec.StopReason = stop.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

var (
	_ Logger = (*SQLStore)(nil)
	_ Logger = (*MemoryLogger)(nil)
)
