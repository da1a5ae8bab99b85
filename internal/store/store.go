package store

import (
	"context"
	"errors"

	"github.com/glebrm/inspect-backend/internal/records"
)

var (
	// ErrNotFound is returned by update paths when the target document is
	// gone. Removal of a missing document is not an error.
	ErrNotFound = errors.New("record not found")

	// ErrRecordTooLarge means the serialized document exceeds the store's
	// per-document ceiling; callers surface it distinctly from generic
	// write failures so the user can retry with a smaller photo.
	ErrRecordTooLarge = errors.New("record exceeds the document size limit")
)

// MaxDocumentBytes leaves headroom under the remote store's 1MB document
// limit; the embedded act photo dominates the payload.
const MaxDocumentBytes = 900 * 1024

// Store is a document collection of inspection records keyed by opaque
// string id with an owner-equality filter. Upsert takes the create path
// for records without a confirmed server identity and the merge-update
// path otherwise; it returns the stored copy.
type Store interface {
	LoadAll(ctx context.Context, userID string) ([]records.Record, error)
	Upsert(ctx context.Context, userID string, rec records.Record) (records.Record, error)
	Remove(ctx context.Context, id string) error
}

// needsCreate decides the create-vs-update path. The explicit persistence
// state wins; ids from legacy payloads fall back to the temp-prefix
// classification.
func needsCreate(rec records.Record) bool {
	switch rec.State {
	case records.StateRemote:
		return false
	case records.StateLocalTemp:
		return true
	default:
		return records.ClassifyID(rec.ID) != records.StateRemote
	}
}
