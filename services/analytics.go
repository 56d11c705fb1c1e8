package services

import (
	"fmt"
	"sort"

	"metaslim/models"
)

// EfficacyPoint is one dose arm on the weight-loss scatter plot.
type EfficacyPoint struct {
	DrugName          string  `json:"drugName"`
	TrialName         string  `json:"trialName"`
	Dose              string  `json:"dose"`
	WeightLossPercent float64 `json:"weightLossPercent"`
	DurationWeeks     int     `json:"durationWeeks"`
	HasT2D            bool    `json:"hasT2D"`
	IsChineseCohort   bool    `json:"isChineseCohort"`
}

// EfficacyScatter flattens every dose arm with a reported weight-loss value
// into scatter points. Arms with no reported efficacy (0) are left out.
func EfficacyScatter(studies []models.Study) []EfficacyPoint {
	points := make([]EfficacyPoint, 0, len(studies))
	for _, s := range studies {
		for _, d := range s.Doses {
			if d.WeightLossPercent <= 0 {
				continue
			}
			points = append(points, EfficacyPoint{
				DrugName:          s.DrugName,
				TrialName:         s.TrialName,
				Dose:              d.Dose,
				WeightLossPercent: d.WeightLossPercent,
				DurationWeeks:     s.DurationWeeks,
				HasT2D:            s.HasT2D,
				IsChineseCohort:   s.IsChineseCohort,
			})
		}
	}
	return points
}

// SafetyPoint is one dose arm's reported rate for a single adverse event.
type SafetyPoint struct {
	DrugName  string  `json:"drugName"`
	TrialName string  `json:"trialName"`
	Dose      string  `json:"dose"`
	Percent   float64 `json:"percent"`
}

var adverseEvents = map[string]func(models.DoseData) float64{
	"nausea":       func(d models.DoseData) float64 { return d.NauseaPercent },
	"vomiting":     func(d models.DoseData) float64 { return d.VomitingPercent },
	"diarrhea":     func(d models.DoseData) float64 { return d.DiarrheaPercent },
	"constipation": func(d models.DoseData) float64 { return d.ConstipationPercent },
}

// SafetyProfile collects the per-dose rate of one adverse event across all
// studies. Unreported rates (0) are dropped, an unknown event is an error.
func SafetyProfile(studies []models.Study, event string) ([]SafetyPoint, error) {
	metric, ok := adverseEvents[event]
	if !ok {
		return nil, fmt.Errorf("unknown adverse event %q", event)
	}
	points := make([]SafetyPoint, 0, len(studies))
	for _, s := range studies {
		for _, d := range s.Doses {
			v := metric(d)
			if v <= 0 {
				continue
			}
			points = append(points, SafetyPoint{
				DrugName:  s.DrugName,
				TrialName: s.TrialName,
				Dose:      d.Dose,
				Percent:   v,
			})
		}
	}
	return points, nil
}

// DashboardStats are the headline numbers above the charts.
type DashboardStats struct {
	TotalStudies      int     `json:"totalStudies"`
	DrugClasses       int     `json:"drugClasses"`
	MaxWeightLossPct  float64 `json:"maxWeightLossPct"`
	MaxWeightLossDrug string  `json:"maxWeightLossDrug"`
}

func Stats(studies []models.Study) DashboardStats {
	stats := DashboardStats{TotalStudies: len(studies)}
	classes := make(map[string]struct{})
	for _, s := range studies {
		if s.DrugClass != "" {
			classes[s.DrugClass] = struct{}{}
		}
		for _, d := range s.Doses {
			if d.WeightLossPercent > stats.MaxWeightLossPct {
				stats.MaxWeightLossPct = d.WeightLossPercent
				stats.MaxWeightLossDrug = s.DrugName
			}
		}
	}
	stats.DrugClasses = len(classes)
	return stats
}

// FilterByPopulation narrows the study set to one cohort population. The
// filter keys match the dashboard toggle values.
func FilterByPopulation(studies []models.Study, population string) ([]models.Study, error) {
	switch population {
	case "", "all":
		return studies, nil
	case "t2d":
		return filterStudies(studies, func(s models.Study) bool { return s.HasT2D }), nil
	case "nonT2D":
		return filterStudies(studies, func(s models.Study) bool { return !s.HasT2D }), nil
	case "chinese":
		return filterStudies(studies, func(s models.Study) bool { return s.IsChineseCohort }), nil
	default:
		return nil, fmt.Errorf("unknown population filter %q", population)
	}
}

func filterStudies(studies []models.Study, keep func(models.Study) bool) []models.Study {
	out := make([]models.Study, 0, len(studies))
	for _, s := range studies {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// SortDoses orders dose arms by a single metric. Unreported values sort as 0.
// The input slice is not modified.
func SortDoses(doses []models.DoseData, key string, desc bool) ([]models.DoseData, error) {
	var metric func(models.DoseData) float64
	if key == "weightLoss" {
		metric = func(d models.DoseData) float64 { return d.WeightLossPercent }
	} else if m, ok := adverseEvents[key]; ok {
		metric = m
	} else {
		return nil, fmt.Errorf("unknown dose sort key %q", key)
	}

	sorted := make([]models.DoseData, len(doses))
	copy(sorted, doses)
	sort.SliceStable(sorted, func(i, j int) bool {
		if desc {
			return metric(sorted[i]) > metric(sorted[j])
		}
		return metric(sorted[i]) < metric(sorted[j])
	})
	return sorted, nil
}
