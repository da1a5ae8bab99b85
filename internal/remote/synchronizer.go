package remote

import (
	"context"
	"log/slog"
	"sync"

	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/glebrm/inspect-backend/internal/store"
)

// SnapshotFunc receives the full, sorted record collection of one user
// every time it changes.
type SnapshotFunc func([]records.Record)

type subscriber struct {
	userID   string
	onChange SnapshotFunc
}

// Synchronizer layers live subscriptions over a Store. Writes go through
// the store first; afterwards every subscriber of the affected user gets
// a fresh snapshot. Deliveries run on a single dispatch goroutine, so a
// subscriber observes snapshots in write order and a callback may itself
// trigger the next write without deadlocking.
type Synchronizer struct {
	store store.Store

	mu   sync.Mutex
	subs map[int]*subscriber
	next int

	publishCh chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewSynchronizer(s store.Store) *Synchronizer {
	syn := &Synchronizer{
		store:     s,
		subs:      make(map[int]*subscriber),
		publishCh: make(chan string, 64),
		done:      make(chan struct{}),
	}
	go syn.dispatch()
	return syn
}

// Close stops the dispatch loop. Queued snapshots are dropped.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Subscribe registers a snapshot callback for one user's records and
// delivers the current snapshot synchronously before returning. A failed
// initial load still registers the subscription; it logs a warning and
// delivers an empty snapshot, matching the store's fail-soft reads.
// The returned function removes the subscription.
//
// A write can land between the initial load and the dispatch goroutine
// seeing the new subscriber, so an extra snapshot is scheduled after
// registration. Deliveries reload from the store, so at worst the
// subscriber sees the same state twice.
func (s *Synchronizer) Subscribe(ctx context.Context, userID string, onChange SnapshotFunc) func() {
	snap, err := s.load(ctx, userID)
	if err != nil {
		slog.Warn("initial snapshot load failed", "user_id", userID, "error", err)
		snap = []records.Record{}
	}
	onChange(snap)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = &subscriber{userID: userID, onChange: onChange}
	s.mu.Unlock()

	s.publish(userID)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Upsert writes through to the store and schedules a snapshot for the
// owner's subscribers. The stored copy is returned to the caller before
// any subscriber sees it.
func (s *Synchronizer) Upsert(ctx context.Context, userID string, rec records.Record) (records.Record, error) {
	stored, err := s.store.Upsert(ctx, userID, rec)
	if err != nil {
		return records.Record{}, err
	}
	s.publish(userID)
	return stored, nil
}

// Remove deletes through to the store and schedules a snapshot.
func (s *Synchronizer) Remove(ctx context.Context, userID, id string) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.publish(userID)
	return nil
}

// LoadAll reads the user's records directly, bypassing the subscription
// machinery. Used for one-shot reads like the calendar view.
func (s *Synchronizer) LoadAll(ctx context.Context, userID string) ([]records.Record, error) {
	return s.load(ctx, userID)
}

func (s *Synchronizer) load(ctx context.Context, userID string) ([]records.Record, error) {
	list, err := s.store.LoadAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	records.Sort(list)
	return list, nil
}

func (s *Synchronizer) publish(userID string) {
	select {
	case s.publishCh <- userID:
	case <-s.done:
	}
}

func (s *Synchronizer) dispatch() {
	for {
		select {
		case userID := <-s.publishCh:
			s.deliver(userID)
		case <-s.done:
			return
		}
	}
}

func (s *Synchronizer) deliver(userID string) {
	snap, err := s.load(context.Background(), userID)
	if err != nil {
		slog.Warn("snapshot load failed", "user_id", userID, "error", err)
		return
	}

	s.mu.Lock()
	targets := make([]SnapshotFunc, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.userID == userID {
			targets = append(targets, sub.onChange)
		}
	}
	s.mu.Unlock()

	for _, onChange := range targets {
		// Each subscriber gets its own copy; callbacks mutate freely.
		cloned := make([]records.Record, len(snap))
		for i := range snap {
			cloned[i] = snap[i].Clone()
		}
		onChange(cloned)
	}
}
