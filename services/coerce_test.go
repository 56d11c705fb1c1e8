package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
		ok   bool
	}{
		{true, true, true},
		{false, false, true},
		{"true", true, true},
		{"on", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{"false", false, true},
		{"off", false, true},
		{"", false, true},
		{"maybe", false, false},
		{float64(1), true, true},
		{float64(0), false, true},
		{nil, false, false},
	}
	for _, tc := range cases {
		got, ok := CoerceBool(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		assert.Equal(t, tc.want, got, "input %v", tc.in)
	}
}

func TestCoerceFloat(t *testing.T) {
	assert.Equal(t, 14.9, CoerceFloat("14.9"))
	assert.Equal(t, 14.9, CoerceFloat(" 14.9 "))
	assert.Equal(t, 14.9, CoerceFloat(14.9))
	assert.Equal(t, float64(0), CoerceFloat(""))
	assert.Equal(t, float64(0), CoerceFloat("n/a"))
	assert.Equal(t, float64(0), CoerceFloat(nil))
}

func TestCoerceInt(t *testing.T) {
	assert.Equal(t, 68, CoerceInt("68"))
	assert.Equal(t, 68, CoerceInt("68.0"))
	assert.Equal(t, 68, CoerceInt(float64(68)))
	assert.Equal(t, 0, CoerceInt(""))
	assert.Equal(t, 0, CoerceInt(nil))
}

func TestNormalizeStudyInput(t *testing.T) {
	raw := map[string]any{
		"drugName":      "  tirzepatide ",
		"drugClass":     "GLP-1/GIP",
		"company":       "Eli Lilly",
		"trialName":     " SURMOUNT-1 ",
		"phase":         "Phase 3",
		"hasT2D":        "on",
		"durationWeeks": "72",
		"doses": []any{
			map[string]any{
				"dose":              "15 mg",
				"weightLossPercent": "20.9",
				"nauseaPercent":     float64(31),
			},
		},
	}

	study, err := NormalizeStudyInput(raw)
	require.NoError(t, err)

	assert.Equal(t, "Tirzepatide", study.DrugName)
	assert.Equal(t, "SURMOUNT-1", study.TrialName)
	assert.True(t, study.HasT2D)
	assert.False(t, study.IsChineseCohort)
	assert.Equal(t, 72, study.DurationWeeks)
	require.Len(t, study.Doses, 1)
	assert.Equal(t, "15 mg", study.Doses[0].Dose)
	assert.Equal(t, 20.9, study.Doses[0].WeightLossPercent)
	assert.Equal(t, float64(31), study.Doses[0].NauseaPercent)
	assert.Equal(t, float64(0), study.Doses[0].VomitingPercent)
}

func TestNormalizeStudyInputRequiresNames(t *testing.T) {
	_, err := NormalizeStudyInput(map[string]any{"drugName": "Semaglutide"})
	assert.Error(t, err)

	_, err = NormalizeStudyInput(map[string]any{"trialName": "STEP-1"})
	assert.Error(t, err)
}

func TestNormalizeStudyInputClampsNegativeDuration(t *testing.T) {
	study, err := NormalizeStudyInput(map[string]any{
		"drugName":      "Semaglutide",
		"trialName":     "STEP-1",
		"durationWeeks": "-4",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, study.DurationWeeks)
}
