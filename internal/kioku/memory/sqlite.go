package memory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// storedTimeLayout is RFC3339 with fixed-width nanoseconds. Unlike
// RFC3339Nano it never trims trailing zeros, so the TEXT column compares
// lexicographically in the same order as chronologically — which the prune
// query relies on.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the embedded-file variant: a single local database file,
// durable once Append returns.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	opTimeout  time.Duration
}

// NewSQLiteStore opens (or creates) the database file, applies pragmas and
// migrations, and returns the store. maxEntries caps entries per session;
// opTimeout bounds each operation (zero disables the bound).
func NewSQLiteStore(path string, maxEntries int, opTimeout time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and speed
		"PRAGMA busy_timeout = 5000",  // Wait up to 5s for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, maxEntries: maxEntries, opTimeout: opTimeout}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// opContext applies the per-operation deadline when one is configured.
func (s *SQLiteStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *SQLiteStore) Get(ctx context.Context, caller string) ([]Entry, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller, role, content, created_at
		FROM memory_entries
		WHERE caller = ?
		ORDER BY created_at, seq`, caller)
	if err != nil {
		return nil, unavailable("sqlite get", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable("sqlite get scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite get rows", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Append(ctx context.Context, caller string, entries ...Entry) error {
	if err := validateAppend(caller, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entries = stamp(caller, entries, time.Now().UTC())

	// One transaction per batch: the inserts and the cap eviction land
	// together or not at all.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("sqlite append begin", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_entries (id, caller, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Caller, string(e.Role), e.Content, e.CreatedAt.UTC().Format(storedTimeLayout),
		); err != nil {
			return unavailable("sqlite append insert", err)
		}
	}

	if s.maxEntries > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM memory_entries
			WHERE caller = ? AND seq NOT IN (
				SELECT seq FROM memory_entries
				WHERE caller = ?
				ORDER BY created_at DESC, seq DESC
				LIMIT ?
			)`, caller, caller, s.maxEntries); err != nil {
			return unavailable("sqlite append evict", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("sqlite append commit", err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, caller string, olderThan time.Time) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_entries
		WHERE caller = ? AND created_at < ?`,
		caller, olderThan.UTC().Format(storedTimeLayout))
	if err != nil {
		return 0, unavailable("sqlite prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("sqlite prune rows", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	q := `
		SELECT caller, COUNT(*), MAX(created_at)
		FROM memory_entries
		GROUP BY caller
		ORDER BY MAX(created_at) DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("sqlite sessions", err)
	}
	defer rows.Close()

	infos := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var lastActive string
		if err := rows.Scan(&info.Caller, &info.Entries, &lastActive); err != nil {
			return nil, unavailable("sqlite sessions scan", err)
		}
		info.LastActive, err = parseStoredTime(lastActive)
		if err != nil {
			return nil, unavailable("sqlite sessions time", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite sessions rows", err)
	}
	return infos, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT caller), COUNT(*)
		FROM memory_entries`).Scan(&st.Sessions, &st.Entries)
	if err != nil {
		return Stats{}, unavailable("sqlite stats", err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanEntry reads one row into an Entry, parsing the stored timestamp.
func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var role, createdAt string
	if err := rows.Scan(&e.ID, &e.Caller, &role, &e.Content, &createdAt); err != nil {
		return Entry{}, err
	}
	e.Role = Role(role)
	t, err := parseStoredTime(createdAt)
	if err != nil {
		return Entry{}, err
	}
	e.CreatedAt = t
	return e, nil
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// runMigrations applies the embedded schema migrations that have not been
// applied yet, each in its own transaction.
func (s *SQLiteStore) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Filenames look like "0001_init.sql".
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		slog.Info("applied memory store migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}

	return nil
}
