package records

import (
	"encoding/json"
	"strings"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategoryWalls       Category = "walls"
	CategoryFloor       Category = "floor"
	CategoryCeiling     Category = "ceiling"
	CategoryDoors       Category = "doors"
	CategoryWindows     Category = "windows"
	CategoryPlumbing    Category = "plumbing"
	CategoryElectrical  Category = "electrical"
	CategoryHeating     Category = "heating"
	CategoryVentilation Category = "ventilation"
	CategoryFinishing   Category = "finishing"
	CategoryTiles       Category = "tiles"
	CategoryPaint       Category = "paint"
	CategoryOther       Category = "other"
)

var Categories = []Category{
	CategoryWalls, CategoryFloor, CategoryCeiling, CategoryDoors,
	CategoryWindows, CategoryPlumbing, CategoryElectrical, CategoryHeating,
	CategoryVentilation, CategoryFinishing, CategoryTiles, CategoryPaint,
	CategoryOther,
}

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// NormalizeCategory maps free-form model output onto the fixed category set.
// Unknown values fall back to "other".
func NormalizeCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// NormalizeSeverity falls back to "medium" for unknown values.
func NormalizeSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Severities {
		if sev == known {
			return sev
		}
	}
	return SeverityMedium
}

type Owner struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
}

type ActPhoto struct {
	Filename   string  `json:"filename"`
	URL        *string `json:"url"`
	Confidence float64 `json:"confidence"`
}

type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type Defect struct {
	ID                    string   `json:"id"`
	RawText               string   `json:"text_raw"`
	Description           string   `json:"description"`
	Category              Category `json:"category"`
	Severity              Severity `json:"severity"`
	SuggestedDeadlineDays int      `json:"suggested_deadline_days"`
	PhotoRefs             []string `json:"photo_refs"`
	Location              *string  `json:"location_in_apartment"`
	Confidence            float64  `json:"confidence"`
}

type GPS struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type Metadata struct {
	SourceOCRText       string `json:"source_ocr_text"`
	ProcessingTimestamp string `json:"processing_timestamp"`
	ImageGPS            GPS    `json:"image_gps"`
}

// PersistState tracks where a record's identity came from. It is carried
// beside the record instead of being inferred from the id's text, so the
// create/update decision never depends on id shape for records produced in
// this process. ClassifyID covers data ingested from older local payloads.
type PersistState int

const (
	StateUnsaved PersistState = iota
	StateLocalTemp
	StateRemote
)

// TempIDPrefixes marks locally generated placeholder ids that have never
// been confirmed by the remote store.
var TempIDPrefixes = []string{"card-", "gen-"}

// ClassifyID derives the persistence state from an id's shape. Only used
// for records whose state is unknown (legacy local-storage payloads).
func ClassifyID(id string) PersistState {
	if id == "" {
		return StateUnsaved
	}
	for _, p := range TempIDPrefixes {
		if strings.HasPrefix(id, p) {
			return StateLocalTemp
		}
	}
	return StateRemote
}

// Record is one inspection's full data: address, owner, defect list,
// comments and the captured act photo. The JSON shape is the persisted
// document format.
type Record struct {
	ID              string     `json:"id,omitempty"`
	OwnerUserID     string     `json:"userId,omitempty"`
	UploadDate      string     `json:"upload_date,omitempty"`
	HouseNumber     *string    `json:"house_number"`
	ApartmentNumber *string    `json:"apartment_number"`
	AcceptanceDate  *string    `json:"acceptance_date"`
	Owner           Owner      `json:"owner"`
	Photos          []ActPhoto `json:"act_photos"`
	Defects         []Defect   `json:"defects"`
	Comments        []Comment  `json:"comments"`
	Metadata        Metadata   `json:"metadata"`

	// LegacyComment is the pre-comments singular field. Read on ingest,
	// converted by NormalizeLegacy, never written back.
	LegacyComment *string `json:"comment,omitempty"`

	State PersistState `json:"-" gorm:"-"`
}

// Clone returns a deep copy so optimistic in-memory edits never alias the
// snapshot delivered by the synchronizer.
func (r Record) Clone() Record {
	out := r
	out.HouseNumber = clonePtr(r.HouseNumber)
	out.ApartmentNumber = clonePtr(r.ApartmentNumber)
	out.AcceptanceDate = clonePtr(r.AcceptanceDate)
	out.LegacyComment = clonePtr(r.LegacyComment)
	out.Owner.FullName = clonePtr(r.Owner.FullName)
	out.Owner.Phone = clonePtr(r.Owner.Phone)
	out.Metadata.ImageGPS.Lat = clonePtr(r.Metadata.ImageGPS.Lat)
	out.Metadata.ImageGPS.Lon = clonePtr(r.Metadata.ImageGPS.Lon)
	if r.Photos != nil {
		out.Photos = make([]ActPhoto, len(r.Photos))
		for i, p := range r.Photos {
			p.URL = clonePtr(p.URL)
			out.Photos[i] = p
		}
	}
	if r.Defects != nil {
		out.Defects = make([]Defect, len(r.Defects))
		for i, d := range r.Defects {
			d.Location = clonePtr(d.Location)
			if d.PhotoRefs != nil {
				d.PhotoRefs = append([]string(nil), d.PhotoRefs...)
			}
			out.Defects[i] = d
		}
	}
	if r.Comments != nil {
		out.Comments = append([]Comment(nil), r.Comments...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// mergeableFields are the top-level keys a shallow partial update may touch.
// Identity, photos, defects and comments have dedicated operations.
var mergeableFields = map[string]struct{}{
	"house_number":     {},
	"apartment_number": {},
	"acceptance_date":  {},
	"owner":            {},
}

// MergePartial shallow-merges a partial record document into r. Keys absent
// from the payload are untouched; present keys overwrite, including explicit
// nulls.
func (r *Record) MergePartial(data []byte) error {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(data, &patch); err != nil {
		return err
	}
	for key, raw := range patch {
		if _, ok := mergeableFields[key]; !ok {
			continue
		}
		var err error
		switch key {
		case "house_number":
			err = json.Unmarshal(raw, &r.HouseNumber)
		case "apartment_number":
			err = json.Unmarshal(raw, &r.ApartmentNumber)
		case "acceptance_date":
			err = json.Unmarshal(raw, &r.AcceptanceDate)
		case "owner":
			err = json.Unmarshal(raw, &r.Owner)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DefectPatch carries a partial defect update; nil fields are untouched.
type DefectPatch struct {
	RawText               *string  `json:"text_raw"`
	Description           *string  `json:"description"`
	Category              *string  `json:"category"`
	Severity              *string  `json:"severity"`
	SuggestedDeadlineDays *int     `json:"suggested_deadline_days"`
	PhotoRefs             []string `json:"photo_refs"`
	Location              *string  `json:"location_in_apartment"`
}

// ApplyDefectPatch updates the defect with the given id in place. Returns
// false when no defect carries that id.
func (r *Record) ApplyDefectPatch(defectID string, patch DefectPatch) bool {
	for i := range r.Defects {
		d := &r.Defects[i]
		if d.ID != defectID {
			continue
		}
		if patch.RawText != nil {
			d.RawText = *patch.RawText
		}
		if patch.Description != nil {
			d.Description = *patch.Description
		}
		if patch.Category != nil {
			d.Category = NormalizeCategory(*patch.Category)
		}
		if patch.Severity != nil {
			d.Severity = NormalizeSeverity(*patch.Severity)
		}
		if patch.SuggestedDeadlineDays != nil {
			days := *patch.SuggestedDeadlineDays
			if days < 0 {
				days = 0
			}
			d.SuggestedDeadlineDays = days
		}
		if patch.PhotoRefs != nil {
			d.PhotoRefs = append([]string(nil), patch.PhotoRefs...)
		}
		if patch.Location != nil {
			d.Location = clonePtr(patch.Location)
		}
		return true
	}
	return false
}

// RemoveDefect deletes the defect with the given id, preserving order of
// the survivors. Returns false when the id is unknown.
func (r *Record) RemoveDefect(defectID string) bool {
	for i, d := range r.Defects {
		if d.ID == defectID {
			r.Defects = append(r.Defects[:i], r.Defects[i+1:]...)
			return true
		}
	}
	return false
}

// HasDefect reports whether a defect with the given id exists.
func (r *Record) HasDefect(defectID string) bool {
	for _, d := range r.Defects {
		if d.ID == defectID {
			return true
		}
	}
	return false
}

// RemoveComment deletes the comment with the given id. Comments are never
// edited in place, only appended or removed.
func (r *Record) RemoveComment(commentID string) bool {
	for i, c := range r.Comments {
		if c.ID == commentID {
			r.Comments = append(r.Comments[:i], r.Comments[i+1:]...)
			return true
		}
	}
	return false
}
