package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/config"
)

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), config.Config{
		StoreType:           config.StoreInMemory,
		RetentionMaxEntries: 10,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected *InMemoryStore, got %T", s)
	}
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open(context.Background(), config.Config{
		StoreType:           config.StoreSQLite,
		StorePath:           filepath.Join(t.TempDir(), "kioku.db"),
		RetentionMaxEntries: 10,
		StoreTimeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
}

func TestOpenUnknownTypeIsConfigError(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreType: "etcd"})
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
	if cerr.Key != "MEMORY_STORE_TYPE" {
		t.Errorf("error key = %q, want MEMORY_STORE_TYPE", cerr.Key)
	}
}

func TestOpenNonVolatileNeedsPath(t *testing.T) {
	for _, st := range []config.StoreType{config.StoreSQLite, config.StorePostgres} {
		t.Run(string(st), func(t *testing.T) {
			_, err := Open(context.Background(), config.Config{StoreType: st})
			var cerr *config.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
			if cerr.Key != "MEMORY_STORE_PATH" {
				t.Errorf("error key = %q, want MEMORY_STORE_PATH", cerr.Key)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, 0, 5*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, "alice", Entry{Role: RoleUser, Content: "durable"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path, 0, 5*time.Second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "durable" {
		t.Errorf("entry did not survive restart: %+v", entries)
	}
}
