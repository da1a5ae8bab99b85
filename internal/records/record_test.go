package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestClassifyID(t *testing.T) {
	require.Equal(t, StateUnsaved, ClassifyID(""))
	require.Equal(t, StateLocalTemp, ClassifyID("card-1700000000000"))
	require.Equal(t, StateLocalTemp, ClassifyID("gen-1700000000000-2"))
	require.Equal(t, StateRemote, ClassifyID("aB3xQ9zLmNoPqRsTuVwX"))
	require.Equal(t, StateRemote, ClassifyID("0f8fad5b-d9cb-469f-a165-70867728950e"))
}

func TestNormalizeLegacy_MigratesSingularComment(t *testing.T) {
	r := Record{
		UploadDate:    "2024-03-01T10:00:00Z",
		LegacyComment: strPtr("двери поцарапаны"),
	}
	NormalizeLegacy(&r, time.Now())

	require.Len(t, r.Comments, 1)
	require.Equal(t, LegacyCommentID, r.Comments[0].ID)
	require.Equal(t, "двери поцарапаны", r.Comments[0].Text)
	require.Equal(t, "2024-03-01T10:00:00Z", r.Comments[0].CreatedAt)
	require.Nil(t, r.LegacyComment)
}

func TestNormalizeLegacy_Idempotent(t *testing.T) {
	r := Record{LegacyComment: strPtr("note")}
	NormalizeLegacy(&r, time.Now())
	first := r.Clone()

	NormalizeLegacy(&r, time.Now())
	require.Equal(t, first.Comments, r.Comments)
	require.Len(t, r.Comments, 1)
}

func TestNormalizeLegacy_MissingUploadDateUsesNow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Record{LegacyComment: strPtr("x")}
	NormalizeLegacy(&r, now)
	require.Equal(t, "2024-06-01T12:00:00Z", r.Comments[0].CreatedAt)
}

func TestNormalizeLegacy_EnsuresSlices(t *testing.T) {
	r := Record{Defects: []Defect{{ID: "d1"}}}
	NormalizeLegacy(&r, time.Now())
	require.NotNil(t, r.Comments)
	require.NotNil(t, r.Photos)
	require.NotNil(t, r.Defects[0].PhotoRefs)
}

func TestMergePartial_OnlyPresentKeys(t *testing.T) {
	r := Record{
		ID:          "abc",
		HouseNumber: strPtr("7"),
		Owner:       Owner{FullName: strPtr("Иванов")},
	}
	err := r.MergePartial([]byte(`{"apartment_number":"12","acceptance_date":null,"id":"hacked","defects":[]}`))
	require.NoError(t, err)

	require.Equal(t, "abc", r.ID)
	require.Equal(t, "7", *r.HouseNumber)
	require.Equal(t, "12", *r.ApartmentNumber)
	require.Nil(t, r.AcceptanceDate)
	require.Equal(t, "Иванов", *r.Owner.FullName)
}

func TestMergePartial_OwnerOverwrite(t *testing.T) {
	r := Record{Owner: Owner{FullName: strPtr("old"), Phone: strPtr("+375291112233")}}
	err := r.MergePartial([]byte(`{"owner":{"full_name":"new","phone":null}}`))
	require.NoError(t, err)
	require.Equal(t, "new", *r.Owner.FullName)
	require.Nil(t, r.Owner.Phone)
}

func TestApplyDefectPatch(t *testing.T) {
	r := Record{Defects: []Defect{
		{ID: "d1", Description: "a", Severity: SeverityLow},
		{ID: "d2", Description: "b", Severity: SeverityLow},
	}}

	days := -3
	ok := r.ApplyDefectPatch("d2", DefectPatch{
		Description:           strPtr("scratched door"),
		Category:              strPtr("DOORS"),
		Severity:              strPtr("bogus"),
		SuggestedDeadlineDays: &days,
	})
	require.True(t, ok)

	d := r.Defects[1]
	require.Equal(t, "scratched door", d.Description)
	require.Equal(t, CategoryDoors, d.Category)
	require.Equal(t, SeverityMedium, d.Severity)
	require.Equal(t, 0, d.SuggestedDeadlineDays)

	require.Equal(t, "a", r.Defects[0].Description)
	require.False(t, r.ApplyDefectPatch("missing", DefectPatch{}))
}

func TestRemoveDefect_PreservesOrder(t *testing.T) {
	r := Record{Defects: []Defect{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	require.True(t, r.RemoveDefect("b"))
	require.Equal(t, []string{"a", "c"}, []string{r.Defects[0].ID, r.Defects[1].ID})
	require.False(t, r.RemoveDefect("b"))
}

func TestClone_Independent(t *testing.T) {
	r := Record{
		HouseNumber: strPtr("7"),
		Defects:     []Defect{{ID: "d1", PhotoRefs: []string{"p1"}}},
		Comments:    []Comment{{ID: "c1", Text: "t"}},
	}
	c := r.Clone()
	*c.HouseNumber = "8"
	c.Defects[0].PhotoRefs[0] = "changed"
	c.Comments[0].Text = "changed"

	require.Equal(t, "7", *r.HouseNumber)
	require.Equal(t, "p1", r.Defects[0].PhotoRefs[0])
	require.Equal(t, "t", r.Comments[0].Text)
}

func TestSort_NaturalHouseOrder(t *testing.T) {
	list := []Record{
		{HouseNumber: strPtr("7.12")},
		{HouseNumber: strPtr("7.2")},
		{HouseNumber: strPtr("7.48")},
	}
	Sort(list)
	require.Equal(t, "7.2", *list[0].HouseNumber)
	require.Equal(t, "7.12", *list[1].HouseNumber)
	require.Equal(t, "7.48", *list[2].HouseNumber)
}

func TestSort_TieBreaks(t *testing.T) {
	list := []Record{
		{HouseNumber: strPtr("7"), ApartmentNumber: strPtr("10"), UploadDate: "2024-01-01T00:00:00Z"},
		{HouseNumber: strPtr("7"), ApartmentNumber: strPtr("2"), UploadDate: "2024-01-01T00:00:00Z"},
		{HouseNumber: strPtr("7"), ApartmentNumber: strPtr("2"), UploadDate: "2024-02-01T00:00:00Z"},
		{HouseNumber: nil},
	}
	Sort(list)
	require.Nil(t, list[0].HouseNumber)
	require.Equal(t, "2", *list[1].ApartmentNumber)
	require.Equal(t, "2024-02-01T00:00:00Z", list[1].UploadDate)
	require.Equal(t, "2024-01-01T00:00:00Z", list[2].UploadDate)
	require.Equal(t, "10", *list[3].ApartmentNumber)
}

func TestNormalizeCategoryAndSeverity(t *testing.T) {
	require.Equal(t, CategoryPlumbing, NormalizeCategory(" Plumbing "))
	require.Equal(t, CategoryOther, NormalizeCategory("kitchen sink"))
	require.Equal(t, SeverityCritical, NormalizeSeverity("CRITICAL"))
	require.Equal(t, SeverityMedium, NormalizeSeverity(""))
}
