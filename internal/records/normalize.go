package records

import "time"

// LegacyCommentID marks the single comment produced by migrating a
// pre-comments record.
const LegacyCommentID = "legacy"

// NormalizeLegacy migrates a persisted record from the old shape where a
// single free-text comment lived in the `comment` field. Idempotent: a
// record that already carries a comments list passes through unchanged.
// Also guarantees non-nil slices so callers never see a null array.
func NormalizeLegacy(r *Record, now time.Time) {
	if len(r.Comments) == 0 && r.LegacyComment != nil && *r.LegacyComment != "" {
		createdAt := r.UploadDate
		if createdAt == "" {
			createdAt = now.UTC().Format(time.RFC3339)
		}
		r.Comments = []Comment{{
			ID:        LegacyCommentID,
			Text:      *r.LegacyComment,
			CreatedAt: createdAt,
		}}
	}
	r.LegacyComment = nil

	if r.Comments == nil {
		r.Comments = []Comment{}
	}
	if r.Defects == nil {
		r.Defects = []Defect{}
	}
	if r.Photos == nil {
		r.Photos = []ActPhoto{}
	}
	for i := range r.Defects {
		if r.Defects[i].PhotoRefs == nil {
			r.Defects[i].PhotoRefs = []string{}
		}
	}
}
