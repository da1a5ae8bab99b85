package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebrm/inspect-backend/internal/imaging"
	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/glebrm/inspect-backend/internal/remote"
	"github.com/glebrm/inspect-backend/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrNoDraft is returned by draft operations when no draft is active.
	ErrNoDraft = errors.New("no active draft")

	// ErrNoTarget means a mutation arrived with neither an active draft
	// nor a selected record to route it to.
	ErrNoTarget = errors.New("no draft and no selected record")

	// ErrStaleCapture means an extraction finished after a newer capture
	// started; its result is discarded.
	ErrStaleCapture = errors.New("capture superseded by a newer one")

	// ErrRemoteWrite wraps upsert failures on the commit path.
	ErrRemoteWrite = errors.New("remote write failed")
)

// Session is one user's working state: the record collection mirrored from
// the synchronizer, the current draft being assembled from a captured act
// photo, and the selection used to route edits.
//
// Edits to saved records apply optimistically to the in-memory collection
// and push to the remote store asynchronously. A pushed edit stays
// authoritative for exactly one snapshot round trip: the per-record pending
// counter keeps an older snapshot from clobbering it.
type Session struct {
	userID string
	syn    *remote.Synchronizer
	unsub  func()

	mu             sync.Mutex
	captureToken   int
	draft          *records.Record
	draftImage     []byte
	draftFilename  string
	cards          []records.Record
	selectedID     string
	pending        map[string]int
	pendingRemoval map[string]bool
	lastSyncErr    error

	inflight sync.WaitGroup
}

func newSession(userID string, syn *remote.Synchronizer) *Session {
	s := &Session{
		userID:         userID,
		syn:            syn,
		pending:        make(map[string]int),
		pendingRemoval: make(map[string]bool),
	}
	s.unsub = syn.Subscribe(context.Background(), userID, s.applySnapshot)
	return s
}

// Close detaches the session from the synchronizer and waits for pushes
// still in flight.
func (s *Session) Close() {
	s.unsub()
	s.inflight.Wait()
}

// StartCapture begins a new capture with the raw photo bytes and returns
// the token guarding it. Starting a capture discards any previous draft.
func (s *Session) StartCapture(image []byte, filename string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureToken++
	s.draft = nil
	s.draftImage = image
	s.draftFilename = filename
	return s.captureToken
}

// PopulateDraft installs the extraction result as the draft, attaching the
// captured photo as its sole act photo. A token older than the current
// capture is rejected so a slow extraction never overwrites a newer one.
func (s *Session) PopulateDraft(token int, rec records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.captureToken {
		return ErrStaleCapture
	}

	draft := rec.Clone()
	draft.ID = ""
	draft.State = records.StateUnsaved
	draft.OwnerUserID = s.userID
	name := s.draftFilename
	if name == "" {
		name = "act_photo.jpg"
	}
	draft.Photos = []records.ActPhoto{{Filename: name, Confidence: 1.0}}
	records.NormalizeLegacy(&draft, time.Now())
	s.draft = &draft
	return nil
}

// Draft returns a copy of the active draft.
func (s *Session) Draft() (records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return records.Record{}, ErrNoDraft
	}
	return s.draft.Clone(), nil
}

// Discard drops the draft and its captured image.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureToken++
	s.draft = nil
	s.draftImage = nil
	s.draftFilename = ""
}

// Commit durable-encodes the captured photo into the draft, stamps its
// upload time and owner, and writes it through the synchronizer. On
// success the draft is cleared; on failure it is kept so the user can
// retry. The stored record's server id reaches the collection through the
// next snapshot delivery.
//
// The encode and the remote write run outside the session lock, so the
// rest of the session (discard, navigation, reads) stays responsive while
// the write is outstanding. The draft is cleared afterwards only if the
// capture is still the one that was committed.
func (s *Session) Commit(ctx context.Context) (records.Record, error) {
	s.mu.Lock()
	if s.draft == nil {
		s.mu.Unlock()
		return records.Record{}, ErrNoDraft
	}
	token := s.captureToken
	rec := s.draft.Clone()
	image := s.draftImage
	s.mu.Unlock()

	if len(image) > 0 {
		dataURL, err := imaging.EncodeDataURL(image)
		if err != nil {
			return records.Record{}, err
		}
		if len(rec.Photos) == 0 {
			rec.Photos = []records.ActPhoto{{Filename: "act_photo.jpg", Confidence: 1.0}}
		}
		rec.Photos[0].URL = &dataURL
	}
	rec.UploadDate = time.Now().UTC().Format(time.RFC3339)
	rec.OwnerUserID = s.userID
	rec.ID = ""
	rec.State = records.StateUnsaved

	stored, err := s.syn.Upsert(ctx, s.userID, rec)
	if err != nil {
		if errors.Is(err, store.ErrRecordTooLarge) {
			return records.Record{}, err
		}
		return records.Record{}, fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}

	s.mu.Lock()
	if token == s.captureToken {
		s.captureToken++
		s.draft = nil
		s.draftImage = nil
		s.draftFilename = ""
	}
	s.mu.Unlock()
	return stored, nil
}

// Records returns the current collection in list order.
func (s *Session) Records() []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Record, len(s.cards))
	for i := range s.cards {
		out[i] = s.cards[i].Clone()
	}
	return out
}

// Record returns one saved record by id.
func (s *Session) Record(id string) (records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cards {
		if s.cards[i].ID == id {
			return s.cards[i].Clone(), nil
		}
	}
	return records.Record{}, store.ErrNotFound
}

// Select marks a saved record as the target for subsequent edits.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cards {
		if s.cards[i].ID == id {
			s.selectedID = id
			return nil
		}
	}
	return store.ErrNotFound
}

// SelectedID returns the id of the selected record, if any.
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Deselect clears the selection.
func (s *Session) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
}

// LastSyncError returns the most recent background push failure and
// clears it.
func (s *Session) LastSyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastSyncErr
	s.lastSyncErr = nil
	return err
}

// Mutate routes a shallow partial update: the active draft when one
// exists, the selected saved record otherwise.
func (s *Session) Mutate(partial []byte) error {
	return s.apply(func(r *records.Record) error {
		return r.MergePartial(partial)
	})
}

// AddDefect appends a defect to the routed target, filling the defaults a
// manually added defect gets. Returns the new defect's id.
func (s *Session) AddDefect(patch records.DefectPatch) (string, error) {
	id := fmt.Sprintf("gen-%d-m", time.Now().UnixMilli())
	err := s.apply(func(r *records.Record) error {
		d := records.Defect{
			ID:                    id,
			Category:              records.CategoryOther,
			Severity:              records.SeverityMedium,
			SuggestedDeadlineDays: 7,
			PhotoRefs:             []string{},
			Confidence:            1.0,
		}
		r.Defects = append(r.Defects, d)
		if !r.ApplyDefectPatch(id, patch) {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// MutateDefect applies a partial defect update on the routed target.
func (s *Session) MutateDefect(defectID string, patch records.DefectPatch) error {
	return s.apply(func(r *records.Record) error {
		if !r.ApplyDefectPatch(defectID, patch) {
			return store.ErrNotFound
		}
		return nil
	})
}

// DeleteDefect removes a defect from the routed target.
func (s *Session) DeleteDefect(defectID string) error {
	return s.apply(func(r *records.Record) error {
		if !r.RemoveDefect(defectID) {
			return store.ErrNotFound
		}
		return nil
	})
}

// AddComment appends a comment to the routed target and returns its id.
func (s *Session) AddComment(text string) (string, error) {
	id := uuid.NewString()
	err := s.apply(func(r *records.Record) error {
		r.Comments = append(r.Comments, records.Comment{
			ID:        id,
			Text:      text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteComment removes a comment from the routed target.
func (s *Session) DeleteComment(commentID string) error {
	return s.apply(func(r *records.Record) error {
		if !r.RemoveComment(commentID) {
			return store.ErrNotFound
		}
		return nil
	})
}

// Delete removes a saved record optimistically: it leaves the in-memory
// collection and the selection immediately, before the remote delete
// resolves. A remote failure is logged, never surfaced, and the record is
// not restored.
func (s *Session) Delete(id string) error {
	s.mu.Lock()
	found := false
	for i := range s.cards {
		if s.cards[i].ID == id {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if s.selectedID == id {
		s.selectedID = ""
	}
	s.pendingRemoval[id] = true
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		err := s.syn.Remove(context.Background(), s.userID, id)
		s.mu.Lock()
		delete(s.pendingRemoval, id)
		s.mu.Unlock()
		if err != nil {
			slog.Warn("remote delete failed", "record_id", id, "error", err)
		}
	}()
	return nil
}

// apply routes a mutation draft-first. Draft edits never touch the remote
// store; edits to the selected record apply in memory and push in the
// background.
func (s *Session) apply(mutate func(*records.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft != nil {
		return mutate(s.draft)
	}
	if s.selectedID == "" {
		return ErrNoTarget
	}
	for i := range s.cards {
		if s.cards[i].ID != s.selectedID {
			continue
		}
		edited := s.cards[i].Clone()
		if err := mutate(&edited); err != nil {
			return err
		}
		s.cards[i] = edited
		s.pending[edited.ID]++
		s.push(edited.Clone())
		return nil
	}
	return store.ErrNotFound
}

// push sends an optimistically applied edit to the remote store. On
// failure the edit's pending slot is released so the next snapshot can
// restore the stored truth, and the error is kept for the caller to poll.
func (s *Session) push(rec records.Record) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, err := s.syn.Upsert(context.Background(), s.userID, rec)
		if err == nil {
			return
		}
		slog.Warn("background push failed", "record_id", rec.ID, "error", err)
		s.mu.Lock()
		if s.pending[rec.ID] > 0 {
			s.pending[rec.ID]--
			if s.pending[rec.ID] == 0 {
				delete(s.pending, rec.ID)
			}
		}
		s.lastSyncErr = fmt.Errorf("%w: %v", ErrRemoteWrite, err)
		s.mu.Unlock()
	}()
}

// applySnapshot reconciles a synchronizer delivery with local optimistic
// state. Records with a pending push keep their local version for this
// round and burn one pending slot; records awaiting removal are dropped
// from the incoming view.
func (s *Session) applySnapshot(snap []records.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := make(map[string]records.Record, len(s.cards))
	for _, rec := range s.cards {
		local[rec.ID] = rec
	}

	merged := make([]records.Record, 0, len(snap))
	seen := make(map[string]bool, len(snap))
	for _, incoming := range snap {
		if s.pendingRemoval[incoming.ID] {
			continue
		}
		seen[incoming.ID] = true
		if s.pending[incoming.ID] > 0 {
			s.pending[incoming.ID]--
			if s.pending[incoming.ID] == 0 {
				delete(s.pending, incoming.ID)
			}
			if ours, ok := local[incoming.ID]; ok {
				merged = append(merged, ours)
				continue
			}
		}
		merged = append(merged, incoming)
	}
	s.cards = merged

	if s.selectedID != "" && !seen[s.selectedID] {
		s.selectedID = ""
	}
}
