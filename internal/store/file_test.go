package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cards.json")
	return NewFileStore(path), path
}

func TestFileStore_LoadAllMissingFile(t *testing.T) {
	s, _ := newFileStore(t)
	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFileStore_LoadAllMalformedPayload(t *testing.T) {
	s, path := newFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFileStore_UpsertAssignsTempID(t *testing.T) {
	s, _ := newFileStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)
	require.Contains(t, rec.ID, "card-")
	require.Equal(t, records.StateLocalTemp, rec.State)
	require.Equal(t, "u1", rec.OwnerUserID)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rec.ID, list[0].ID)
}

func TestFileStore_UpsertReplacesExisting(t *testing.T) {
	s, _ := newFileStore(t)
	house := "7"
	rec, err := s.Upsert(context.Background(), "u1", records.Record{HouseNumber: &house})
	require.NoError(t, err)

	edited := rec.Clone()
	newHouse := "9"
	edited.HouseNumber = &newHouse
	_, err = s.Upsert(context.Background(), "u1", edited)
	require.NoError(t, err)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "9", *list[0].HouseNumber)
}

func TestFileStore_RemoveIdempotent(t *testing.T) {
	s, _ := newFileStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), rec.ID))
	require.NoError(t, s.Remove(context.Background(), rec.ID))

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFileStore_NormalizesLegacyOnLoad(t *testing.T) {
	s, path := newFileStore(t)
	payload := `[{"id":"card-1","comment":"старый комментарий","upload_date":"2023-05-01T10:00:00Z","owner":{"full_name":null,"phone":null},"defects":[],"metadata":{"source_ocr_text":"","processing_timestamp":"","image_gps":{"lat":null,"lon":null}}}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Comments, 1)
	require.Equal(t, records.LegacyCommentID, list[0].Comments[0].ID)
	require.Equal(t, "старый комментарий", list[0].Comments[0].Text)
	require.Equal(t, records.StateLocalTemp, list[0].State)
}

func TestFileStore_SkipsRedundantWrite(t *testing.T) {
	s, path := newFileStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	before, err := os.Stat(path)
	require.NoError(t, err)

	// Re-saving the identical record must not rewrite the file.
	_, err = s.Upsert(context.Background(), "u1", mustReload(t, s, rec.ID))
	require.NoError(t, err)

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
}

func mustReload(t *testing.T, s *FileStore, id string) records.Record {
	t.Helper()
	list, err := s.LoadAll(context.Background(), "")
	require.NoError(t, err)
	for _, rec := range list {
		if rec.ID == id {
			return rec
		}
	}
	t.Fatalf("record %s not found", id)
	return records.Record{}
}

func TestFileStore_FiltersForeignOwner(t *testing.T) {
	s, _ := newFileStore(t)
	_, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)
	_, err = s.Upsert(context.Background(), "u2", records.Record{})
	require.NoError(t, err)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "u1", list[0].OwnerUserID)
}

func TestFileStore_RoundTripKeepsDocumentShape(t *testing.T) {
	s, path := newFileStore(t)
	house := "7"
	_, err := s.Upsert(context.Background(), "u1", records.Record{
		HouseNumber: &house,
		Defects:     []records.Defect{{ID: "d1", Category: records.CategoryWalls, Severity: records.SeverityHigh}},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var docs []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &docs))
	require.Len(t, docs, 1)
	for _, key := range []string{"id", "userId", "house_number", "owner", "act_photos", "defects", "metadata"} {
		require.Contains(t, docs[0], key)
	}
}
