package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordRow is the database shape of one inspection record: the full
// document as JSONB plus the columns the store filters and orders by.
type RecordRow struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserID     string         `gorm:"size:64;not null;index"`
	UploadDate time.Time      `gorm:"index"`
	Doc        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (RecordRow) TableName() string {
	return "inspection_records"
}

// GormStore is the remote document store backed by Postgres. Server ids
// are assigned app-side so the create path works the same on every
// driver.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&RecordRow{})
}

func (s *GormStore) LoadAll(ctx context.Context, userID string) ([]records.Record, error) {
	var rows []RecordRow
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("upload_date DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	now := time.Now()
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		var rec records.Record
		if err := json.Unmarshal(row.Doc, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", row.ID, err)
		}
		rec.ID = row.ID.String()
		rec.OwnerUserID = row.UserID
		rec.State = records.StateRemote
		records.NormalizeLegacy(&rec, now)
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Upsert(ctx context.Context, userID string, rec records.Record) (records.Record, error) {
	create := needsCreate(rec)

	rec.OwnerUserID = userID
	doc, err := marshalDoc(rec)
	if err != nil {
		return records.Record{}, err
	}

	if create {
		id := uuid.New()
		row := RecordRow{
			ID:         id,
			UserID:     userID,
			UploadDate: parseUploadDate(rec.UploadDate),
			Doc:        doc,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return records.Record{}, fmt.Errorf("create record: %w", err)
		}
		rec.ID = id.String()
		rec.State = records.StateRemote
		return rec, nil
	}

	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return records.Record{}, fmt.Errorf("update record: bad id %q: %w", rec.ID, err)
	}
	result := s.db.WithContext(ctx).Model(&RecordRow{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"doc":         doc,
			"upload_date": parseUploadDate(rec.UploadDate),
		})
	if result.Error != nil {
		return records.Record{}, fmt.Errorf("update record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return records.Record{}, ErrNotFound
	}
	rec.State = records.StateRemote
	return rec, nil
}

// Remove is idempotent: deleting an id that is already gone succeeds.
func (s *GormStore) Remove(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&RecordRow{}, "id = ?", parsed).Error; err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// marshalDoc serializes the record without its row-level identity and
// enforces the per-document size ceiling.
func marshalDoc(rec records.Record) (datatypes.JSON, error) {
	rec.ID = ""
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if len(doc) > MaxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(doc))
	}
	return datatypes.JSON(doc), nil
}

func parseUploadDate(iso string) time.Time {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// IsNotFound reports whether err is the store's missing-document error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
