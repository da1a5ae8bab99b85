package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/glebrm/inspect-backend/internal/records"
)

// FileStore keeps the whole record collection in a single JSON file, the
// fallback used when no database is configured. Reads fail soft: a missing
// or corrupt file yields an empty collection. Writes are best effort and a
// failure is logged as a warning, never propagated.
type FileStore struct {
	path string

	mu          sync.Mutex
	lastPayload []byte
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) LoadAll(_ context.Context, userID string) ([]records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(userID), nil
}

func (s *FileStore) Upsert(_ context.Context, userID string, rec records.Record) (records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.loadLocked("")
	rec.OwnerUserID = userID

	// Locally generated ids are real keys here, so unlike the remote
	// store this path replaces by id whenever the record already exists.
	if rec.ID == "" {
		rec.ID = nextTempID(list)
	}
	rec.State = records.ClassifyID(rec.ID)
	records.NormalizeLegacy(&rec, time.Now())

	replaced := false
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, rec)
	}

	s.saveLocked(list)
	return rec, nil
}

func (s *FileStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.loadLocked("")
	kept := list[:0]
	for _, rec := range list {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	s.saveLocked(kept)
	return nil
}

// nextTempID derives a timestamp-based placeholder id, bumping the
// millisecond until it is unique within the collection.
func nextTempID(list []records.Record) string {
	taken := make(map[string]bool, len(list))
	for _, rec := range list {
		taken[rec.ID] = true
	}
	ms := time.Now().UnixMilli()
	for {
		id := fmt.Sprintf("card-%d", ms)
		if !taken[id] {
			return id
		}
		ms++
	}
}

func (s *FileStore) loadLocked(userID string) []records.Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("local store read failed", "path", s.path, "error", err)
		}
		return []records.Record{}
	}

	var list []records.Record
	if err := json.Unmarshal(data, &list); err != nil {
		slog.Warn("local store payload is malformed, starting empty", "path", s.path, "error", err)
		return []records.Record{}
	}

	now := time.Now()
	out := make([]records.Record, 0, len(list))
	for i := range list {
		rec := list[i]
		if userID != "" && rec.OwnerUserID != "" && rec.OwnerUserID != userID {
			continue
		}
		rec.State = records.ClassifyID(rec.ID)
		records.NormalizeLegacy(&rec, now)
		out = append(out, rec)
	}
	return out
}

// saveLocked persists the collection, skipping the write when nothing
// changed since the last one.
func (s *FileStore) saveLocked(list []records.Record) {
	payload, err := json.Marshal(list)
	if err != nil {
		slog.Warn("local store marshal failed", "error", err)
		return
	}
	if bytes.Equal(payload, s.lastPayload) {
		return
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		slog.Warn("local store write failed", "path", s.path, "error", err)
		return
	}
	s.lastPayload = payload
}
