package remote

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/glebrm/inspect-backend/internal/store"
	"github.com/stretchr/testify/require"
)

func newSynchronizer(t *testing.T) *Synchronizer {
	t.Helper()
	s := NewSynchronizer(store.NewFileStore(filepath.Join(t.TempDir(), "cards.json")))
	t.Cleanup(s.Close)
	return s
}

// waitForSnapshot reads deliveries until one satisfies ok. Registration
// schedules a redundant snapshot of the current state, so tests match on
// content instead of counting deliveries.
func waitForSnapshot(t *testing.T, ch <-chan []records.Record, ok func([]records.Record) bool) []records.Record {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func TestSynchronizer_InitialSnapshotIsSynchronous(t *testing.T) {
	syn := newSynchronizer(t)
	_, err := syn.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	delivered := false
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		if !delivered {
			delivered = true
			require.Len(t, snap, 1)
		}
	})
	defer unsub()
	require.True(t, delivered)
}

func TestSynchronizer_UpsertNotifiesSubscriber(t *testing.T) {
	syn := newSynchronizer(t)
	ch := make(chan []records.Record, 8)
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		ch <- snap
	})
	defer unsub()

	house := "7"
	rec, err := syn.Upsert(context.Background(), "u1", records.Record{HouseNumber: &house})
	require.NoError(t, err)

	snap := waitForSnapshot(t, ch, func(s []records.Record) bool { return len(s) == 1 })
	require.Equal(t, rec.ID, snap[0].ID)
}

func TestSynchronizer_RemoveNotifiesSubscriber(t *testing.T) {
	syn := newSynchronizer(t)
	rec, err := syn.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	ch := make(chan []records.Record, 8)
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		ch <- snap
	})
	defer unsub()
	waitForSnapshot(t, ch, func(s []records.Record) bool { return len(s) == 1 })

	require.NoError(t, syn.Remove(context.Background(), "u1", rec.ID))
	waitForSnapshot(t, ch, func(s []records.Record) bool { return len(s) == 0 })
}

func TestSynchronizer_WriteDuringSubscribeIsDelivered(t *testing.T) {
	syn := newSynchronizer(t)
	ch := make(chan []records.Record, 8)

	// The first callback runs synchronously inside Subscribe, before the
	// subscription is registered. A write made there lands in the window
	// between the initial load and registration.
	first := true
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		if first {
			first = false
			house := "3"
			_, err := syn.Upsert(context.Background(), "u1", records.Record{HouseNumber: &house})
			require.NoError(t, err)
		}
		ch <- snap
	})
	defer unsub()

	snap := waitForSnapshot(t, ch, func(s []records.Record) bool { return len(s) == 1 })
	require.Equal(t, "3", *snap[0].HouseNumber)
}

func TestSynchronizer_OtherUsersNotNotified(t *testing.T) {
	syn := newSynchronizer(t)
	ch := make(chan []records.Record, 8)
	unsub := syn.Subscribe(context.Background(), "u2", func(snap []records.Record) {
		ch <- snap
	})
	defer unsub()

	_, err := syn.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case snap := <-ch:
			// u2's own snapshots are empty; anything else leaked across users.
			require.Empty(t, snap)
		case <-deadline:
			return
		}
	}
}

func TestSynchronizer_UnsubscribeStopsDelivery(t *testing.T) {
	syn := newSynchronizer(t)
	ch := make(chan []records.Record, 8)
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		ch <- snap
	})
	unsub()

	_, err := syn.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case snap := <-ch:
			// Only pre-unsubscribe deliveries of the empty state may drain.
			require.Empty(t, snap)
		case <-deadline:
			return
		}
	}
}

func TestSynchronizer_LoadAll(t *testing.T) {
	syn := newSynchronizer(t)
	for _, house := range []string{"7.12", "7.2", "10"} {
		h := house
		_, err := syn.Upsert(context.Background(), "u1", records.Record{HouseNumber: &h})
		require.NoError(t, err)
	}

	list, err := syn.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "7.2", *list[0].HouseNumber)
	require.Equal(t, "7.12", *list[1].HouseNumber)
	require.Equal(t, "10", *list[2].HouseNumber)

	other, err := syn.LoadAll(context.Background(), "u2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestSynchronizer_SnapshotsAreSorted(t *testing.T) {
	syn := newSynchronizer(t)
	for _, house := range []string{"7.12", "7.2", "10"} {
		h := house
		_, err := syn.Upsert(context.Background(), "u1", records.Record{HouseNumber: &h})
		require.NoError(t, err)
	}

	snapshots := make(chan []records.Record, 8)
	unsub := syn.Subscribe(context.Background(), "u1", func(snap []records.Record) {
		snapshots <- snap
	})
	defer unsub()

	snap := waitForSnapshot(t, snapshots, func(s []records.Record) bool { return len(s) == 3 })
	require.Equal(t, "7.2", *snap[0].HouseNumber)
	require.Equal(t, "7.12", *snap[1].HouseNumber)
	require.Equal(t, "10", *snap[2].HouseNumber)
}
