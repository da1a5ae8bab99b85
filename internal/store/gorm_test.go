package store

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.Migrate())
	return s
}

func TestGormStore_CreateAssignsServerID(t *testing.T) {
	s := newGormStore(t)
	house := "7"
	rec, err := s.Upsert(context.Background(), "u1", records.Record{
		HouseNumber: &house,
		UploadDate:  "2024-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, records.StateRemote, rec.State)
	_, err = uuid.Parse(rec.ID)
	require.NoError(t, err)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rec.ID, list[0].ID)
	require.Equal(t, "7", *list[0].HouseNumber)
	require.Equal(t, records.StateRemote, list[0].State)
}

func TestGormStore_TempIDTakesCreatePath(t *testing.T) {
	s := newGormStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{ID: "card-1700000000000"})
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(rec.ID, "card-"))
	_, err = uuid.Parse(rec.ID)
	require.NoError(t, err)
}

func TestGormStore_UpdateExisting(t *testing.T) {
	s := newGormStore(t)
	house := "7"
	rec, err := s.Upsert(context.Background(), "u1", records.Record{HouseNumber: &house})
	require.NoError(t, err)

	edited := rec.Clone()
	newHouse := "9"
	edited.HouseNumber = &newHouse
	updated, err := s.Upsert(context.Background(), "u1", edited)
	require.NoError(t, err)
	require.Equal(t, rec.ID, updated.ID)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "9", *list[0].HouseNumber)
}

func TestGormStore_UpdateMissingReturnsNotFound(t *testing.T) {
	s := newGormStore(t)
	rec := records.Record{ID: uuid.NewString(), State: records.StateRemote}
	_, err := s.Upsert(context.Background(), "u1", rec)
	require.True(t, IsNotFound(err))
}

func TestGormStore_UpdateForeignOwnerReturnsNotFound(t *testing.T) {
	s := newGormStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	_, err = s.Upsert(context.Background(), "u2", rec)
	require.True(t, IsNotFound(err))
}

func TestGormStore_LoadAllFiltersByOwner(t *testing.T) {
	s := newGormStore(t)
	_, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)
	_, err = s.Upsert(context.Background(), "u2", records.Record{})
	require.NoError(t, err)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "u1", list[0].OwnerUserID)
}

func TestGormStore_RemoveIdempotent(t *testing.T) {
	s := newGormStore(t)
	rec, err := s.Upsert(context.Background(), "u1", records.Record{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), rec.ID))
	require.NoError(t, s.Remove(context.Background(), rec.ID))
	require.NoError(t, s.Remove(context.Background(), "card-123"))

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestGormStore_RejectsOversizedDocument(t *testing.T) {
	s := newGormStore(t)
	big := strings.Repeat("a", MaxDocumentBytes)
	rec := records.Record{Metadata: records.Metadata{SourceOCRText: big}}
	_, err := s.Upsert(context.Background(), "u1", rec)
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestGormStore_LegacyCommentMigratedOnLoad(t *testing.T) {
	s := newGormStore(t)
	comment := "перенести из старого поля"
	_, err := s.Upsert(context.Background(), "u1", records.Record{LegacyComment: &comment})
	require.NoError(t, err)

	list, err := s.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Nil(t, list[0].LegacyComment)
	require.Len(t, list[0].Comments, 1)
	require.Equal(t, comment, list[0].Comments[0].Text)
}
