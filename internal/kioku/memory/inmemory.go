package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is the volatile variant: process-local, no I/O, lost on
// restart. The outer read-write mutex only guards the map shape; each
// session carries its own mutex, so appends for different callers proceed
// in parallel while same-caller appends are linearized.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*memSession
	maxEntries int
}

type memSession struct {
	mu      sync.Mutex
	entries []Entry
}

// NewInMemoryStore builds the volatile variant. maxEntries caps entries per
// session (oldest evicted first); zero or negative means unbounded.
func NewInMemoryStore(maxEntries int) *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string]*memSession),
		maxEntries: maxEntries,
	}
}

// session returns the caller's session, creating it when create is set.
func (s *InMemoryStore) session(caller string, create bool) *memSession {
	s.mu.RLock()
	sess := s.sessions[caller]
	s.mu.RUnlock()
	if sess != nil || !create {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess = s.sessions[caller]; sess == nil {
		sess = &memSession{}
		s.sessions[caller] = sess
	}
	return sess
}

func (s *InMemoryStore) Get(_ context.Context, caller string) ([]Entry, error) {
	sess := s.session(caller, false)
	if sess == nil {
		return []Entry{}, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Entry, len(sess.entries))
	copy(out, sess.entries)
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, caller string, entries ...Entry) error {
	if err := validateAppend(caller, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	sess := s.session(caller, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// Stamp inside the session lock so creation times are non-decreasing
	// within the session even under concurrent appends.
	sess.entries = append(sess.entries, stamp(caller, entries, time.Now().UTC())...)
	if s.maxEntries > 0 && len(sess.entries) > s.maxEntries {
		evict := len(sess.entries) - s.maxEntries
		sess.entries = append([]Entry(nil), sess.entries[evict:]...)
	}
	return nil
}

func (s *InMemoryStore) Prune(_ context.Context, caller string, olderThan time.Time) (int, error) {
	sess := s.session(caller, false)
	if sess == nil {
		return 0, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	kept := sess.entries[:0]
	for _, e := range sess.entries {
		if !e.CreatedAt.Before(olderThan) {
			kept = append(kept, e)
		}
	}
	removed := len(sess.entries) - len(kept)
	sess.entries = kept
	return removed, nil
}

func (s *InMemoryStore) Sessions(_ context.Context, limit int) ([]SessionInfo, error) {
	s.mu.RLock()
	callers := make([]string, 0, len(s.sessions))
	for c := range s.sessions {
		callers = append(callers, c)
	}
	s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(callers))
	for _, c := range callers {
		sess := s.session(c, false)
		if sess == nil {
			continue
		}
		sess.mu.Lock()
		if n := len(sess.entries); n > 0 {
			infos = append(infos, SessionInfo{
				Caller:     c,
				Entries:    n,
				LastActive: sess.entries[n-1].CreatedAt,
			})
		}
		sess.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].LastActive.After(infos[j].LastActive) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	infos, err := s.Sessions(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Sessions: len(infos)}
	for _, info := range infos {
		st.Entries += info.Entries
	}
	return st, nil
}

func (s *InMemoryStore) Close() error { return nil }
