package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"metaslim/models"
	"metaslim/providers"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// FileInput is one uploaded file in a batch.
type FileInput struct {
	Name string
	Data []byte
}

// FileOutcome is the terminal result of one file, success or error. A batch
// always produces one outcome per file.
type FileOutcome struct {
	FileName string        `json:"fileName"`
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Outcome  IngestOutcome `json:"outcome"`
}

// StudyReader provides the duplicate snapshot taken before a batch starts.
type StudyReader interface {
	List(ctx context.Context) ([]models.Study, error)
}

// TextExtractor pulls plain text from a PDF upload.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// Archiver keeps the original upload. Archiving is best effort and never
// fails an ingest.
type Archiver interface {
	ArchivePDF(ctx context.Context, fileName string, data []byte) (string, error)
}

// LogWriter persists one ingest log per processed file.
type LogWriter interface {
	SaveLog(ctx context.Context, log *models.IngestLog) error
}

// BatchService drives the full ingestion pipeline: PDF text extraction, model
// extraction, and the ingest filter chain. Files are processed strictly in
// order, and one failing file never aborts the rest of the batch.
type BatchService struct {
	Store    StudyReader
	Text     TextExtractor
	Provider providers.Extractor
	Archive  Archiver
	Logs     LogWriter
	Ingestor *Ingestor
	Logger   *zap.Logger
}

// ProcessFiles ingests a batch of PDF uploads. The duplicate snapshot is
// taken once before the first file, so records added by an earlier file in
// the same batch are not seen as duplicates by a later one.
func (b *BatchService) ProcessFiles(ctx context.Context, files []FileInput) ([]FileOutcome, error) {
	known, err := b.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load existing studies: %w", err)
	}

	outcomes := make([]FileOutcome, 0, len(files))
	for _, file := range files {
		outcomes = append(outcomes, b.processFile(ctx, file, known))
	}
	return outcomes, nil
}

func (b *BatchService) processFile(ctx context.Context, file FileInput, known []models.Study) FileOutcome {
	b.Logger.Info("ingesting file", zap.String("file", file.Name), zap.Int("bytes", len(file.Data)))

	text, err := b.Text.Extract(file.Data)
	if err != nil {
		return b.finish(ctx, file, nil, IngestOutcome{}, fmt.Errorf("extract text: %w", err))
	}

	candidates, err := b.Provider.ExtractText(ctx, text)
	if err != nil {
		return b.finish(ctx, file, nil, IngestOutcome{}, err)
	}
	if len(candidates) == 0 {
		return b.finish(ctx, file, candidates, IngestOutcome{}, ErrNoCohorts)
	}

	outcome, err := b.Ingestor.Ingest(ctx, candidates, known)
	return b.finish(ctx, file, candidates, outcome, err)
}

// ProcessImage ingests a single screenshot or scan by sending the raw bytes
// to the model. The snapshot semantics match a one-file batch.
func (b *BatchService) ProcessImage(ctx context.Context, name string, data []byte, mimeType string) (FileOutcome, error) {
	known, err := b.Store.List(ctx)
	if err != nil {
		return FileOutcome{}, fmt.Errorf("load existing studies: %w", err)
	}

	candidates, err := b.Provider.ExtractFile(ctx, data, mimeType)
	if err != nil {
		return b.finish(ctx, FileInput{Name: name, Data: data}, nil, IngestOutcome{}, err), nil
	}
	if len(candidates) == 0 {
		return b.finish(ctx, FileInput{Name: name, Data: data}, candidates, IngestOutcome{}, ErrNoCohorts), nil
	}

	outcome, err := b.Ingestor.Ingest(ctx, candidates, known)
	return b.finish(ctx, FileInput{Name: name, Data: data}, candidates, outcome, err), nil
}

// finish turns a per-file result into its terminal outcome, archives the
// source and writes the ingest log.
func (b *BatchService) finish(ctx context.Context, file FileInput, candidates []models.CandidateStudy, outcome IngestOutcome, ingestErr error) FileOutcome {
	result := FileOutcome{
		FileName: file.Name,
		Status:   StatusSuccess,
		Message:  outcome.Message(),
		Outcome:  outcome,
	}
	if ingestErr != nil {
		result.Status = StatusError
		result.Message = ingestErr.Error()
		if !errors.Is(ingestErr, ErrNoCohorts) && !errors.Is(ingestErr, ErrAllNonViable) {
			b.Logger.Error("file ingest failed", zap.String("file", file.Name), zap.Error(ingestErr))
		} else {
			b.Logger.Info("file yielded no new cohorts", zap.String("file", file.Name), zap.String("reason", ingestErr.Error()))
		}
	}

	var s3Link string
	if b.Archive != nil && len(file.Data) > 0 {
		link, err := b.Archive.ArchivePDF(ctx, file.Name, file.Data)
		if err != nil {
			b.Logger.Warn("could not archive upload", zap.String("file", file.Name), zap.Error(err))
		} else {
			s3Link = link
		}
	}

	if b.Logs != nil {
		var raw []byte
		if len(candidates) > 0 {
			raw, _ = json.Marshal(candidates)
		}
		log := &models.IngestLog{
			FileName:    file.Name,
			Status:      result.Status,
			Message:     result.Message,
			Added:       outcome.Added,
			Skipped:     outcome.Skipped,
			FilteredOut: outcome.FilteredOut,
			RawResponse: raw,
			S3Link:      s3Link,
		}
		if err := b.Logs.SaveLog(ctx, log); err != nil {
			b.Logger.Error("could not persist ingest log", zap.String("file", file.Name), zap.Error(err))
		}
	}
	return result
}
