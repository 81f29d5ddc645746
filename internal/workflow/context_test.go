package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Flexible value types ---

func TestText_AcceptsObjects(t *testing.T) {
	var c HandoffContext
	err := json.Unmarshal([]byte(`{"architectPlan": {"pages": ["home", "about"]}}`), &c)
	require.NoError(t, err)
	assert.Contains(t, string(c.ArchitectPlan), `"pages"`)
	assert.Contains(t, string(c.ArchitectPlan), `"about"`)
}

func TestCount_AcceptsNumericStrings(t *testing.T) {
	var c HandoffContext
	require.NoError(t, json.Unmarshal([]byte(`{"expectedElements": "20"}`), &c))
	assert.Equal(t, Count(20), c.ExpectedElements)

	require.NoError(t, json.Unmarshal([]byte(`{"expectedElements": 18.0}`), &c))
	assert.Equal(t, Count(18), c.ExpectedElements)

	assert.Error(t, json.Unmarshal([]byte(`{"expectedElements": -1}`), &c))
}

func TestCount_RejectsFractionsAndHugeValues(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`15.9`, "expected a whole number, got 15.9"},
		{`"2.5"`, "expected a whole number, got 2.5"},
		{`1e19`, "no larger than 2147483647, got 1e19"},
		{`"NaN"`, "expected a whole number"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			var c Count
			err := json.Unmarshal([]byte(tc.raw), &c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Zero(t, c)
		})
	}

	var c Count
	require.NoError(t, json.Unmarshal([]byte(`2147483647`), &c))
	assert.Equal(t, Count(MaxCount), c)
}

func TestDecodeHandoff_NamesBadCountField(t *testing.T) {
	_, _, err := decodeHandoff(Submission{Fields: map[string]any{"expectedElements": 15.9}}, HandoffContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"expectedElements"`)
	assert.Contains(t, err.Error(), "whole number")
}

func TestComponent_StringAndObjectForms(t *testing.T) {
	var comps []Component
	err := json.Unmarshal([]byte(`["Navbar", {"name": "Hero", "type": "section"}, {"title": "Card"}, ""]`), &comps)
	require.NoError(t, err)
	require.Len(t, comps, 4)
	assert.Equal(t, "Navbar", comps[0].String())
	assert.Equal(t, "Hero (section)", comps[1].String())
	assert.Equal(t, "Card", comps[2].Name)
	assert.True(t, comps[3].Empty())
}

func TestStringList_SingleStringAndObjects(t *testing.T) {
	var l StringList
	require.NoError(t, json.Unmarshal([]byte(`"nav bar"`), &l))
	assert.Equal(t, StringList{"nav bar"}, l)

	require.NoError(t, json.Unmarshal([]byte(`[{"name": "footer"}, "hero"]`), &l))
	assert.Equal(t, StringList{"footer", "hero"}, l)
}

// --- Field normalization ---

func TestCanonicalField_Variants(t *testing.T) {
	tests := map[string]string{
		"expected_elements":      "expectedElements",
		"expected-elements":      "expectedElements",
		"ExpectedElements":       "expectedElements",
		"expected_element_count": "expectedElements",
		"components":             "createdComponents",
		"figma_url":              "designUrl",
		"has_ui":                 "hasUI",
		"use_ui_design_canvas":   "useUIDesignCanvas",
		"design_review_passed":   "designReviewPassed",
		"cannot_proceed":         "blocked",
	}
	for in, want := range tests {
		got, ok := CanonicalField(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := CanonicalField("favouriteColour")
	assert.False(t, ok)
}

func TestNormalize_CanonicalSpellingWins(t *testing.T) {
	known, _, _ := normalize(map[string]any{
		"expectedElements":       20,
		"expected_element_count": 5,
	})
	assert.Equal(t, 20, known["expectedElements"])
}

func TestNormalize_NotesAndExtras(t *testing.T) {
	known, extra, notes := normalize(map[string]any{
		"notes":       "finished the layout",
		"colorScheme": "dark",
		"hasUI":       true,
	})
	assert.Equal(t, "finished the layout", notes)
	assert.Equal(t, map[string]any{"colorScheme": "dark"}, extra)
	assert.Equal(t, true, known["hasUI"])
}

// --- mergeContext ---

func TestMergeContext_AdditiveAndOverwrite(t *testing.T) {
	base := HandoffContext{
		ArchitectPlan: "plan v1",
		DesignSpecs:   "old specs",
		FilesCreated:  StringList{"a.go"},
	}
	h, extra, err := decodeHandoff(Submission{Fields: map[string]any{
		"designSpecs": "new specs",
		"palette":     []any{"#fff", "#000"},
	}}, base)
	require.NoError(t, err)

	next, err := mergeContext(base, h, extra)
	require.NoError(t, err)

	assert.Equal(t, Text("plan v1"), next.ArchitectPlan, "untouched fields are kept")
	assert.Equal(t, Text("new specs"), next.DesignSpecs, "submitted fields overwrite")
	assert.Equal(t, StringList{"a.go"}, next.FilesCreated)
	assert.Equal(t, []any{"#fff", "#000"}, next.Extra["palette"], "unknown fields are preserved")

	// base is not modified.
	assert.Equal(t, Text("old specs"), base.DesignSpecs)
	assert.Nil(t, base.Extra)
}

func TestMergeContext_ExplicitNullClears(t *testing.T) {
	base := HandoffContext{DesignURL: "https://figma.com/file/1"}
	h, extra, err := decodeHandoff(Submission{Fields: map[string]any{"designUrl": nil}}, base)
	require.NoError(t, err)

	next, err := mergeContext(base, h, extra)
	require.NoError(t, err)
	assert.Empty(t, next.DesignURL)
}

func TestMergeContext_ListsReplaced(t *testing.T) {
	base := HandoffContext{FilesCreated: StringList{"a.go", "b.go"}}
	h, extra, err := decodeHandoff(Submission{Fields: map[string]any{"files_created": []any{"c.go"}}}, base)
	require.NoError(t, err)

	next, err := mergeContext(base, h, extra)
	require.NoError(t, err)
	assert.Equal(t, StringList{"c.go"}, next.FilesCreated)
}

func TestDecodeHandoff_PresenceTracking(t *testing.T) {
	h, _, err := decodeHandoff(Submission{Fields: map[string]any{
		"design_review_passed": false,
	}}, HandoffContext{})
	require.NoError(t, err)

	assert.True(t, h.Has("designReviewPassed"))
	assert.False(t, h.Has("feedback"))
	require.NotNil(t, h.Fields.DesignReviewPassed)
	assert.False(t, *h.Fields.DesignReviewPassed)
}

func TestHandoff_DesignURLFallsBackToAccumulated(t *testing.T) {
	h := &Handoff{Accumulated: HandoffContext{DesignURL: "https://penpot.app/x"}}
	assert.Equal(t, "https://penpot.app/x", h.DesignURL())

	h.Fields.DesignURL = "https://figma.com/y"
	assert.Equal(t, "https://figma.com/y", h.DesignURL())
}
