package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"metaslim/config"
)

// PDFExtractor pulls plain text out of uploaded trial publications. Only the
// first MaxPages pages are read, clinical results tables live up front and the
// model prompt is capped anyway.
type PDFExtractor struct {
	MaxPages int
	Logger   *zap.Logger
}

func NewPDFExtractor(cfg *config.Config, logger *zap.Logger) *PDFExtractor {
	return &PDFExtractor{
		MaxPages: cfg.MaxPDFPages,
		Logger:   logger,
	}
}

// Extract returns the concatenated page text with page delimiters. A file the
// parser cannot open yields an error and no partial text.
func (e *PDFExtractor) Extract(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if e.MaxPages > 0 && pages > e.MaxPages {
		pages = e.MaxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.Logger.Warn("pdf page unreadable, skipping",
				zap.Int("page", i),
				zap.Error(err))
			continue
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\n%s", i, text)
	}

	out := sb.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return out, nil
}
