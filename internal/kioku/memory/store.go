// Package memory provides pluggable conversational-history persistence.
//
// One caller identity owns one session: the ordered list of user and
// assistant entries exchanged with the agent. Three interchangeable variants
// back the same Store interface — a volatile in-process map, an embedded
// SQLite file, and a networked PostgreSQL pool — selected once at startup by
// Open. Callers never learn which variant they hold.
//
// Concurrency contract: Append is atomic per caller (a batch of entries is
// fully visible or not at all, and concurrent batches never interleave or
// lose updates), and no variant holds an in-process lock across blocking
// I/O — the SQL variants delegate to transactions instead.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable tags I/O failures of the non-volatile variants. Callers
// match it with errors.Is: reads may degrade to an empty session, writes must
// fail the turn.
var ErrUnavailable = errors.New("memory: store unavailable")

// Role identifies the author of an entry.
type Role string

const (
	// RoleUser marks an inbound caller message.
	RoleUser Role = "user"
	// RoleAssistant marks an agent reply.
	RoleAssistant Role = "assistant"
)

// Entry is one conversational message inside a session.
type Entry struct {
	ID        string    `json:"id"`
	Caller    string    `json:"caller"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo summarizes one caller's session for listings and the retention
// sweep.
type SessionInfo struct {
	Caller     string    `json:"caller"`
	Entries    int       `json:"entries"`
	LastActive time.Time `json:"last_active"`
}

// Stats aggregates store-wide counts for the admin plane.
type Stats struct {
	Sessions int `json:"sessions"`
	Entries  int `json:"entries"`
}

// Store is the capability set shared by all variants.
//
// Get returns the session in chronological order; a missing session is an
// empty slice, never an error. Append adds a batch of entries as one atomic
// unit and evicts the oldest entries beyond the configured per-session cap
// (FIFO). Prune removes entries strictly older than the cutoff and is
// idempotent. Sessions lists sessions by recency (limit <= 0 means all).
type Store interface {
	Get(ctx context.Context, caller string) ([]Entry, error)
	Append(ctx context.Context, caller string, entries ...Entry) error
	Prune(ctx context.Context, caller string, olderThan time.Time) (int, error)
	Sessions(ctx context.Context, limit int) ([]SessionInfo, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// stamp fills in the fields a caller may leave blank: entry ID, owning
// caller, and creation time. Entries keep any explicit CreatedAt so imports
// and tests can control ordering.
func stamp(caller string, entries []Entry, now time.Time) []Entry {
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		entries[i].Caller = caller
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
		if entries[i].Role == "" {
			entries[i].Role = RoleUser
		}
	}
	return entries
}

// validateAppend rejects batches the variants must never accept.
func validateAppend(caller string, entries []Entry) error {
	if caller == "" {
		return fmt.Errorf("memory: append: empty caller")
	}
	for i := range entries {
		if entries[i].Content == "" {
			return fmt.Errorf("memory: append: entry %d has empty content", i)
		}
	}
	return nil
}

// unavailable wraps a driver error so errors.Is(err, ErrUnavailable) holds
// while the underlying detail stays visible in logs.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
