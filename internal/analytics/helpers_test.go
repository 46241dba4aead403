package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/castlebay/modeldesk/internal/locks"
)

func costMicros(v int64) *int64 { return &v }

// fakeEventStore serves canned events with real pagination. Days listed in
// failDays error on every scan; an open block channel stalls scans until it
// is closed.
type fakeEventStore struct {
	mu       sync.Mutex
	events   []UsageEvent
	failDays map[string]error
	block    chan struct{}
	scans    int
}

func (s *fakeEventStore) addEvent(ev UsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
}

func (s *fakeEventStore) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func (s *fakeEventStore) QueryEvents(ctx context.Context, start, end time.Time, filters Filters, cursor int64, limit int) (EventPage, error) {
	s.mu.Lock()
	if cursor == 0 {
		s.scans++
	}
	block := s.block
	if err, ok := s.failDays[start.Format("2006-01-02")]; ok {
		s.mu.Unlock()
		return EventPage{}, err
	}
	var matched []UsageEvent
	for _, ev := range s.events {
		if ev.ID <= cursor {
			continue
		}
		if ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) {
			continue
		}
		if !filters.Matches(ev) {
			continue
		}
		matched = append(matched, ev)
	}
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return EventPage{}, ctx.Err()
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	page := EventPage{}
	for _, ev := range matched {
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		page.Events = append(page.Events, ev)
		page.NextCursor = ev.ID
	}
	return page, nil
}

// memStore is an in-memory RollupStore for tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	puts    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]CacheEntry)}
}

func storeKey(day time.Time, signature string) string {
	return fmt.Sprintf("%s|%s", day.Format("2006-01-02"), signature)
}

func (s *memStore) Get(ctx context.Context, day time.Time, signature string) (*CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[storeKey(day, signature)]
	if !ok {
		return nil, nil
	}
	copied := entry
	return &copied, nil
}

func (s *memStore) Put(ctx context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(entry.Rollup.Day, entry.Rollup.Signature)] = entry
	s.puts++
	return nil
}

// fakeClock is a settable time source shared with the cache manager.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// contendedLocker refuses every acquisition, as if a peer process held each
// build lock.
type contendedLocker struct {
	mu       sync.Mutex
	attempts int
}

func (l *contendedLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (locks.Lock, error) {
	l.mu.Lock()
	l.attempts++
	l.mu.Unlock()
	return nil, locks.ErrNotAcquired
}

func (l *contendedLocker) attemptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// fakeDirectory resolves from fixed maps; unknown IDs return
// ErrDirectoryNotFound.
type fakeDirectory struct {
	models map[string]ModelInfo
	users  map[string]UserInfo
}

func (d *fakeDirectory) ResolveModel(ctx context.Context, id string) (ModelInfo, error) {
	if info, ok := d.models[id]; ok {
		return info, nil
	}
	return ModelInfo{}, ErrDirectoryNotFound
}

func (d *fakeDirectory) ResolveUser(ctx context.Context, id string) (UserInfo, error) {
	if info, ok := d.users[id]; ok {
		return info, nil
	}
	return UserInfo{}, ErrDirectoryNotFound
}
