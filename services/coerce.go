package services

import (
	"fmt"
	"strconv"
	"strings"

	"metaslim/models"
)

// Manual-entry payloads arrive from form controls, so any field may show up
// as a string, number or boolean. Normalization happens once here, when the
// payload is accepted; nothing downstream deals with dynamic types.

// CoerceBool interprets checkbox-style values. The second result reports
// whether the value was interpretable at all.
func CoerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		if s == "true" || s == "1" || s == "yes" || s == "on" {
			return true, true
		}
		if s == "false" || s == "0" || s == "no" || s == "off" || s == "" {
			return false, true
		}
		return false, false
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	default:
		return false, false
	}
}

// CoerceFloat parses numeric form input. Empty or non-numeric input yields 0,
// never a missing/null state.
func CoerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// CoerceInt parses integer form input with the same 0 fallback as CoerceFloat.
func CoerceInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			// tolerate "68.0" style input
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return i
	default:
		return 0
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// NormalizeStudyInput turns a generic manual-entry payload into a Study,
// coercing every field exactly once. The drug name is canonicalized so manual
// records and extracted records share the same duplicate key. A missing or
// empty drug or trial name is rejected.
func NormalizeStudyInput(raw map[string]any) (*models.Study, error) {
	study := &models.Study{
		DrugName:      strings.TrimSpace(coerceString(raw["drugName"])),
		DrugClass:     coerceString(raw["drugClass"]),
		Company:       coerceString(raw["company"]),
		TrialName:     strings.TrimSpace(coerceString(raw["trialName"])),
		Phase:         coerceString(raw["phase"]),
		Summary:       coerceString(raw["summary"]),
		DurationWeeks: CoerceInt(raw["durationWeeks"]),
	}
	if study.DrugName == "" || study.TrialName == "" {
		return nil, fmt.Errorf("drugName and trialName are required")
	}
	study.DrugName = CanonicalDrugName(study.DrugName)
	if study.DurationWeeks < 0 {
		study.DurationWeeks = 0
	}
	if b, ok := CoerceBool(raw["hasT2D"]); ok {
		study.HasT2D = b
	}
	if b, ok := CoerceBool(raw["isChineseCohort"]); ok {
		study.IsChineseCohort = b
	}

	if doses, ok := raw["doses"].([]any); ok {
		study.Doses = make(models.DoseList, 0, len(doses))
		for _, d := range doses {
			entry, ok := d.(map[string]any)
			if !ok {
				continue
			}
			study.Doses = append(study.Doses, models.DoseData{
				Dose:                coerceString(entry["dose"]),
				WeightLossPercent:   CoerceFloat(entry["weightLossPercent"]),
				NauseaPercent:       CoerceFloat(entry["nauseaPercent"]),
				VomitingPercent:     CoerceFloat(entry["vomitingPercent"]),
				DiarrheaPercent:     CoerceFloat(entry["diarrheaPercent"]),
				ConstipationPercent: CoerceFloat(entry["constipationPercent"]),
			})
		}
	}
	return study, nil
}
