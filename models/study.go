package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Study is one persisted cohort-level trial observation: a single population
// cohort analyzed independently within one weight-loss drug trial.
type Study struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DrugName  string `json:"drugName" gorm:"index;not null"`
	DrugClass string `json:"drugClass"` // e.g. GLP-1 RA, GIP/GLP-1
	Company   string `json:"company"`
	TrialName string `json:"trialName" gorm:"index;not null"`

	// "Phase 1", "Phase 2", "Phase 3" or "" when the source did not state one.
	Phase string `json:"phase"`

	HasT2D          bool `json:"hasT2D"`
	IsChineseCohort bool `json:"isChineseCohort"` // e.g. STEP-China

	DurationWeeks int    `json:"durationWeeks"`
	Summary       string `json:"summary,omitempty" gorm:"type:text"`

	Doses DoseList `json:"doses" gorm:"type:jsonb"`
}

func (Study) TableName() string {
	return "studies"
}

// DoseData is one treatment arm of a cohort. A value of 0 means
// "not reported or none observed"; absence is not distinguished.
type DoseData struct {
	Dose                string  `json:"dose"` // e.g. "2.4mg"
	WeightLossPercent   float64 `json:"weightLossPercent"`
	NauseaPercent       float64 `json:"nauseaPercent"`
	VomitingPercent     float64 `json:"vomitingPercent"`
	DiarrheaPercent     float64 `json:"diarrheaPercent"`
	ConstipationPercent float64 `json:"constipationPercent"`
}

// DoseList stores the ordered dose arms as a single jsonb column.
type DoseList []DoseData

func (d DoseList) Value() (driver.Value, error) {
	if d == nil {
		d = DoseList{}
	}
	return json.Marshal(d)
}

func (d *DoseList) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported dose list column type %T", value)
	}
	return json.Unmarshal(raw, d)
}
