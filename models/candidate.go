package models

// CandidateStudy is an AI-extracted cohort record before validation and
// acceptance. The JSON shape mirrors the Gemini response schema exactly;
// omitted facts arrive as 0 or "".
type CandidateStudy struct {
	DrugName        string   `json:"drugName"`
	DrugClass       string   `json:"drugClass"`
	Company         string   `json:"company"`
	TrialName       string   `json:"trialName"`
	Phase           string   `json:"phase"`
	HasT2D          bool     `json:"hasT2D"`
	IsChineseCohort bool     `json:"isChineseCohort"`
	DurationWeeks   int      `json:"durationWeeks"`
	Summary         string   `json:"summary,omitempty"`
	Doses           DoseList `json:"doses"`
}

// Study converts an accepted candidate into a persistable record.
// ID and CreatedAt are assigned by the store.
func (c CandidateStudy) Study() *Study {
	return &Study{
		DrugName:        c.DrugName,
		DrugClass:       c.DrugClass,
		Company:         c.Company,
		TrialName:       c.TrialName,
		Phase:           c.Phase,
		HasT2D:          c.HasT2D,
		IsChineseCohort: c.IsChineseCohort,
		DurationWeeks:   c.DurationWeeks,
		Summary:         c.Summary,
		Doses:           c.Doses,
	}
}
