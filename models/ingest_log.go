package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngestLog records the terminal outcome of one uploaded file, including the
// raw candidate list the extraction backend returned. One row per file, in
// upload order.
type IngestLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	FileName string `json:"file_name" gorm:"index"`
	Status   string `json:"status" gorm:"index"` // success, error
	Message  string `json:"message" gorm:"type:text"`

	Added       int `json:"added"`
	Skipped     int `json:"skipped"`
	FilteredOut int `json:"filtered_out"`

	RawResponse datatypes.JSON `json:"raw_response,omitempty" gorm:"type:jsonb"`
	S3Link      string         `json:"s3_link,omitempty" gorm:"type:text"`
}

func (IngestLog) TableName() string {
	return "ingest_logs"
}
