package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// openStores builds one store per variant the test host can run: the
// volatile map and a sqlite file in a temp dir. The postgres variant shares
// the same query shapes but needs a server, so it is covered by the sqlite
// contract run plus its own code path review.
func openStores(t *testing.T, maxEntries int) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kioku.db"), maxEntries, 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"in_memory": NewInMemoryStore(maxEntries),
		"sqlite":    sqlite,
	}
}

func TestGetUnknownCallerReturnsEmpty(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			entries, err := s.Get(context.Background(), "new-caller")
			if err != nil {
				t.Fatalf("Get for an unknown caller must not fail: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("expected an empty record, got %d entries", len(entries))
			}
		})
	}
}

func TestAppendGetRoundTrip(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Append(ctx, "alice", Entry{Role: RoleUser, Content: "hello"}); err != nil {
				t.Fatalf("Append: %v", err)
			}

			entries, err := s.Get(ctx, "alice")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			last := entries[len(entries)-1]
			if last.Content != "hello" || last.Role != RoleUser || last.Caller != "alice" {
				t.Errorf("unexpected entry: %+v", last)
			}
			if last.ID == "" {
				t.Error("entry ID should be assigned on append")
			}
			if last.CreatedAt.IsZero() {
				t.Error("entry timestamp should be assigned on append")
			}
		})
	}
}

func TestAppendBatchIsOneUnit(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// A batch with an invalid entry must leave nothing behind.
			err := s.Append(ctx, "alice",
				Entry{Role: RoleUser, Content: "kept?"},
				Entry{Role: RoleAssistant, Content: ""},
			)
			if err == nil {
				t.Fatal("expected an error for a batch containing an empty entry")
			}
			entries, err := s.Get(ctx, "alice")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("partial batch visible: %d entries", len(entries))
			}

			// A valid pair lands together.
			if err := s.Append(ctx, "alice",
				Entry{Role: RoleUser, Content: "question"},
				Entry{Role: RoleAssistant, Content: "answer"},
			); err != nil {
				t.Fatalf("Append pair: %v", err)
			}
			entries, _ = s.Get(ctx, "alice")
			if len(entries) != 2 {
				t.Fatalf("expected the pair, got %d entries", len(entries))
			}
			if entries[0].Role != RoleUser || entries[1].Role != RoleAssistant {
				t.Errorf("pair out of order: %v then %v", entries[0].Role, entries[1].Role)
			}
		})
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	const writers = 10
	const perWriter = 10

	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						err := s.Append(ctx, "shared", Entry{
							Role:    RoleUser,
							Content: fmt.Sprintf("writer %d message %d", w, i),
						})
						if err != nil {
							t.Errorf("Append: %v", err)
						}
					}
				}(w)
			}
			wg.Wait()

			entries, err := s.Get(ctx, "shared")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(entries) != writers*perWriter {
				t.Errorf("lost updates: got %d entries, want %d", len(entries), writers*perWriter)
			}
			for i := 1; i < len(entries); i++ {
				if entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
					t.Errorf("timestamps out of order at %d: %v before %v",
						i, entries[i].CreatedAt, entries[i-1].CreatedAt)
					break
				}
			}
		})
	}
}

func TestAppendEvictsOldestBeyondCap(t *testing.T) {
	const maxEntries = 4
	for name, s := range openStores(t, maxEntries) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < maxEntries+3; i++ {
				if err := s.Append(ctx, "alice", Entry{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}

			entries, err := s.Get(ctx, "alice")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(entries) != maxEntries {
				t.Fatalf("expected the cap of %d entries, got %d", maxEntries, len(entries))
			}
			// Oldest went first: the survivors are the most recent messages.
			if entries[0].Content != "m3" || entries[maxEntries-1].Content != "m6" {
				t.Errorf("unexpected survivors: first=%q last=%q", entries[0].Content, entries[maxEntries-1].Content)
			}
		})
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().UTC().Add(-time.Hour)
			if err := s.Append(ctx, "alice",
				Entry{Role: RoleUser, Content: "old", CreatedAt: old},
				Entry{Role: RoleUser, Content: "older", CreatedAt: old.Add(-time.Hour)},
			); err != nil {
				t.Fatalf("Append old entries: %v", err)
			}
			if err := s.Append(ctx, "alice", Entry{Role: RoleUser, Content: "fresh"}); err != nil {
				t.Fatalf("Append fresh entry: %v", err)
			}

			cutoff := time.Now().UTC().Add(-30 * time.Minute)
			removed, err := s.Prune(ctx, "alice", cutoff)
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if removed != 2 {
				t.Errorf("first prune removed %d, want 2", removed)
			}

			removed, err = s.Prune(ctx, "alice", cutoff)
			if err != nil {
				t.Fatalf("second Prune: %v", err)
			}
			if removed != 0 {
				t.Errorf("second prune with the same cutoff removed %d, want 0", removed)
			}

			entries, _ := s.Get(ctx, "alice")
			if len(entries) != 1 || entries[0].Content != "fresh" {
				t.Errorf("expected only the fresh entry to survive, got %+v", entries)
			}
		})
	}
}

func TestPruneUnknownCaller(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			removed, err := s.Prune(context.Background(), "nobody", time.Now())
			if err != nil {
				t.Fatalf("Prune of an unknown caller must not fail: %v", err)
			}
			if removed != 0 {
				t.Errorf("removed %d entries from an unknown caller", removed)
			}
		})
	}
}

func TestSessionsAndStats(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Minute)
			for i, caller := range []string{"alice", "bob", "carol"} {
				for j := 0; j <= i; j++ {
					err := s.Append(ctx, caller, Entry{
						Role:      RoleUser,
						Content:   fmt.Sprintf("%s-%d", caller, j),
						CreatedAt: base.Add(time.Duration(i*10+j) * time.Second),
					})
					if err != nil {
						t.Fatalf("Append: %v", err)
					}
				}
			}

			infos, err := s.Sessions(ctx, 0)
			if err != nil {
				t.Fatalf("Sessions: %v", err)
			}
			if len(infos) != 3 {
				t.Fatalf("expected 3 sessions, got %d", len(infos))
			}
			// Most recently active first: carol, bob, alice.
			if infos[0].Caller != "carol" || infos[2].Caller != "alice" {
				t.Errorf("unexpected recency order: %v", infos)
			}
			if infos[0].Entries != 3 {
				t.Errorf("carol should have 3 entries, got %d", infos[0].Entries)
			}

			limited, err := s.Sessions(ctx, 2)
			if err != nil {
				t.Fatalf("Sessions limited: %v", err)
			}
			if len(limited) != 2 {
				t.Errorf("limit=2 returned %d sessions", len(limited))
			}

			st, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if st.Sessions != 3 || st.Entries != 6 {
				t.Errorf("stats = %+v, want 3 sessions / 6 entries", st)
			}
		})
	}
}

func TestAppendRejectsEmptyCaller(t *testing.T) {
	for name, s := range openStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			if err := s.Append(context.Background(), "", Entry{Role: RoleUser, Content: "x"}); err == nil {
				t.Error("expected an error for an empty caller")
			}
		})
	}
}
