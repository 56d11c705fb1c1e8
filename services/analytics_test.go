package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaslim/models"
)

func sampleStudies() []models.Study {
	return []models.Study{
		{
			DrugName:  "Semaglutide",
			TrialName: "STEP-1",
			DrugClass: "GLP-1",
			HasT2D:    false,
			Doses: models.DoseList{
				{Dose: "2.4 mg", WeightLossPercent: 14.9, NauseaPercent: 44.2},
				{Dose: "1.0 mg", WeightLossPercent: 0, NauseaPercent: 0},
			},
		},
		{
			DrugName:        "Tirzepatide",
			TrialName:       "SURMOUNT-1",
			DrugClass:       "GLP-1/GIP",
			HasT2D:          true,
			IsChineseCohort: true,
			Doses: models.DoseList{
				{Dose: "15 mg", WeightLossPercent: 20.9, NauseaPercent: 31, VomitingPercent: 12.2},
			},
		},
	}
}

func TestEfficacyScatterDropsUnreportedArms(t *testing.T) {
	points := EfficacyScatter(sampleStudies())

	require.Len(t, points, 2)
	assert.Equal(t, "Semaglutide", points[0].DrugName)
	assert.Equal(t, 14.9, points[0].WeightLossPercent)
	assert.Equal(t, "Tirzepatide", points[1].DrugName)
	assert.True(t, points[1].HasT2D)
}

func TestSafetyProfile(t *testing.T) {
	points, err := SafetyProfile(sampleStudies(), "nausea")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 44.2, points[0].Percent)

	points, err = SafetyProfile(sampleStudies(), "vomiting")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Tirzepatide", points[0].DrugName)

	_, err = SafetyProfile(sampleStudies(), "headache")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	stats := Stats(sampleStudies())

	assert.Equal(t, 2, stats.TotalStudies)
	assert.Equal(t, 2, stats.DrugClasses)
	assert.Equal(t, 20.9, stats.MaxWeightLossPct)
	assert.Equal(t, "Tirzepatide", stats.MaxWeightLossDrug)
}

func TestStatsEmpty(t *testing.T) {
	stats := Stats(nil)
	assert.Equal(t, DashboardStats{}, stats)
}

func TestFilterByPopulation(t *testing.T) {
	studies := sampleStudies()

	all, err := FilterByPopulation(studies, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	t2d, err := FilterByPopulation(studies, "t2d")
	require.NoError(t, err)
	require.Len(t, t2d, 1)
	assert.Equal(t, "Tirzepatide", t2d[0].DrugName)

	nonT2D, err := FilterByPopulation(studies, "nonT2D")
	require.NoError(t, err)
	require.Len(t, nonT2D, 1)
	assert.Equal(t, "Semaglutide", nonT2D[0].DrugName)

	chinese, err := FilterByPopulation(studies, "chinese")
	require.NoError(t, err)
	require.Len(t, chinese, 1)

	_, err = FilterByPopulation(studies, "elderly")
	assert.Error(t, err)
}

func TestSortDoses(t *testing.T) {
	doses := models.DoseList{
		{Dose: "5 mg", WeightLossPercent: 15},
		{Dose: "15 mg", WeightLossPercent: 20.9},
		{Dose: "10 mg", WeightLossPercent: 19.5},
	}

	desc, err := SortDoses(doses, "weightLoss", true)
	require.NoError(t, err)
	assert.Equal(t, "15 mg", desc[0].Dose)
	assert.Equal(t, "5 mg", desc[2].Dose)

	asc, err := SortDoses(doses, "weightLoss", false)
	require.NoError(t, err)
	assert.Equal(t, "5 mg", asc[0].Dose)

	// Input order untouched.
	assert.Equal(t, "5 mg", doses[0].Dose)

	_, err = SortDoses(doses, "efficacy", true)
	assert.Error(t, err)
}
