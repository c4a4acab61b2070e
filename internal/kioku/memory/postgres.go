package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdobrica/Kioku/common/retry"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the networked-relational variant: a shared pgx pool
// against a remote PostgreSQL service. Calls may incur network latency and
// transient failures, which surface as ErrUnavailable.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxEntries int
	opTimeout  time.Duration
}

// NewPostgresStore connects to the database, verifies connectivity with a
// bounded retry (replicas often start before their database), and applies
// the schema. maxEntries caps entries per session; opTimeout bounds each
// operation (zero disables the bound).
func NewPostgresStore(ctx context.Context, dsn string, maxEntries int, opTimeout time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := retry.Do(ctx, retry.DefaultConfig, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, maxEntries: maxEntries, opTimeout: opTimeout}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			caller     TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_caller_seq ON memory_entries (caller, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_caller_created ON memory_entries (caller, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// opContext applies the per-operation deadline when one is configured.
func (s *PostgresStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *PostgresStore) Get(ctx context.Context, caller string) ([]Entry, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, caller, role, content, created_at
		FROM memory_entries
		WHERE caller = $1
		ORDER BY created_at, seq`, caller)
	if err != nil {
		return nil, unavailable("postgres get", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&e.ID, &e.Caller, &role, &e.Content, &e.CreatedAt); err != nil {
			return nil, unavailable("postgres get scan", err)
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres get rows", err)
	}
	return entries, nil
}

func (s *PostgresStore) Append(ctx context.Context, caller string, entries ...Entry) error {
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
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable("postgres append begin", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO memory_entries (id, caller, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.Caller, string(e.Role), e.Content, e.CreatedAt.UTC(),
		); err != nil {
			return unavailable("postgres append insert", err)
		}
	}

	if s.maxEntries > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM memory_entries
			WHERE caller = $1 AND seq NOT IN (
				SELECT seq FROM memory_entries
				WHERE caller = $2
				ORDER BY created_at DESC, seq DESC
				LIMIT $3
			)`, caller, caller, s.maxEntries); err != nil {
			return unavailable("postgres append evict", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("postgres append commit", err)
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, caller string, olderThan time.Time) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM memory_entries
		WHERE caller = $1 AND created_at < $2`,
		caller, olderThan.UTC())
	if err != nil {
		return 0, unavailable("postgres prune", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	q := `
		SELECT caller, COUNT(*), MAX(created_at)
		FROM memory_entries
		GROUP BY caller
		ORDER BY MAX(created_at) DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("postgres sessions", err)
	}
	defer rows.Close()

	infos := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.Caller, &info.Entries, &info.LastActive); err != nil {
			return nil, unavailable("postgres sessions scan", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres sessions rows", err)
	}
	return infos, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT caller), COUNT(*)
		FROM memory_entries`).Scan(&st.Sessions, &st.Entries)
	if err != nil {
		return Stats{}, unavailable("postgres stats", err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
