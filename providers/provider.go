package providers

import (
	"context"

	"metaslim/models"
)

// Extractor turns publication content into candidate study records. One
// implementation per model backend.
type Extractor interface {
	Name() string
	// ExtractText analyzes plain text pulled from a PDF.
	ExtractText(ctx context.Context, text string) ([]models.CandidateStudy, error)
	// ExtractFile sends the raw file bytes (image or PDF) to the model.
	ExtractFile(ctx context.Context, data []byte, mimeType string) ([]models.CandidateStudy, error)
}
