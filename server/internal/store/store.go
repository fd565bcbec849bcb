package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Batch is one received batch.
type Batch struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Events     []string  `json:"events"`
	ReceivedAt time.Time `json:"received_at"`
	Duplicate  bool      `json:"duplicate"`
}

// Entry is the counter for one event identifier.
type Entry struct {
	EventID   string    `json:"event_id"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Totals are lifetime counters since the store was created.
type Totals struct {
	Batches    int64 `json:"batches"`
	Events     int64 `json:"events"`
	Duplicates int64 `json:"duplicates"`
}

// Store is a thread-safe in-memory event counter store.
// A background goroutine (Run) periodically evicts counters and batch ids
// that have not been seen within the configured TTL.
type Store struct {
	mu      sync.RWMutex
	counts  map[string]*Entry
	seen    map[string]time.Time // batch id -> first receipt
	recent  []Batch              // ring, oldest at head
	head    int
	maxKeep int
	totals  Totals
	ttl     time.Duration
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL that remembers up to recent batches.
func New(ttl time.Duration, recent int) *Store {
	if recent <= 0 {
		recent = 1
	}
	return &Store{
		counts:  make(map[string]*Entry),
		seen:    make(map[string]time.Time),
		maxKeep: recent,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put records b. It stamps ReceivedAt and Duplicate and returns the stored
// copy. A batch whose id was already seen within the TTL is kept in the
// recent list but does not change the counters.
func (s *Store) Put(b Batch) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b.ReceivedAt = now
	b.Events = append([]string(nil), b.Events...)

	if b.ID != "" {
		if _, ok := s.seen[b.ID]; ok {
			b.Duplicate = true
		} else {
			s.seen[b.ID] = now
		}
	}

	if b.Duplicate {
		s.totals.Duplicates++
	} else {
		s.totals.Batches++
		s.totals.Events += int64(len(b.Events))
		for _, id := range b.Events {
			e, ok := s.counts[id]
			if !ok {
				e = &Entry{EventID: id, FirstSeen: now}
				s.counts[id] = e
			}
			e.Count++
			e.UpdatedAt = now
		}
	}

	if len(s.recent) < s.maxKeep {
		s.recent = append(s.recent, b)
	} else {
		s.recent[s.head] = b
		s.head = (s.head + 1) % s.maxKeep
	}
	return b
}

// Get returns the counter for eventID and whether it exists. The entry may
// be stale if TTL has elapsed and eviction has not run yet.
func (s *Store) Get(eventID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.counts[eventID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns all counters updated within the TTL, highest count first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Entry, 0, len(s.counts))
	for _, e := range s.counts {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// Recent returns up to n recent batches, newest first. n <= 0 means all kept.
func (s *Store) Recent(n int) []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := len(s.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Batch, 0, n)
	for i := 0; i < n; i++ {
		// newest is just before head once the ring has wrapped
		idx := (s.head - 1 - i + 2*size) % size
		out = append(out, s.recent[idx])
	}
	return out
}

// Totals returns lifetime counters.
func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// Count returns the number of counters currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counts)
}

// TTL returns the configured retention.
func (s *Store) TTL() time.Duration { return s.ttl }

// Evict removes counters and remembered batch ids older than now minus TTL.
// It returns the number of counters removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.counts {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.counts, id)
			removed++
		}
	}
	for id, at := range s.seen {
		if !at.After(cutoff) {
			delete(s.seen, id)
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so entries are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale counters", "count", n)
			}
		}
	}
}
