package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"metaslim/models"
)

type fakeReader struct {
	snapshot  []models.Study
	listCalls int
}

func (f *fakeReader) List(ctx context.Context) ([]models.Study, error) {
	f.listCalls++
	return f.snapshot, nil
}

type fakeText struct{}

func (fakeText) Extract(data []byte) (string, error) {
	if string(data) == "corrupt" {
		return "", errors.New("open pdf: malformed xref table")
	}
	return string(data), nil
}

type fakeProvider struct {
	responses [][]models.CandidateStudy
	calls     int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) next() ([]models.CandidateStudy, error) {
	if f.calls >= len(f.responses) {
		return nil, errors.New("unexpected extraction call")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) ExtractText(ctx context.Context, text string) ([]models.CandidateStudy, error) {
	return f.next()
}

func (f *fakeProvider) ExtractFile(ctx context.Context, data []byte, mimeType string) ([]models.CandidateStudy, error) {
	return f.next()
}

type fakeLogs struct {
	saved []models.IngestLog
}

func (f *fakeLogs) SaveLog(ctx context.Context, log *models.IngestLog) error {
	f.saved = append(f.saved, *log)
	return nil
}

func newBatch(reader *fakeReader, provider *fakeProvider, logs *fakeLogs, writer *fakeWriter) *BatchService {
	return &BatchService{
		Store:    reader,
		Text:     fakeText{},
		Provider: provider,
		Logs:     logs,
		Ingestor: NewIngestor(writer, zap.NewNop()),
		Logger:   zap.NewNop(),
	}
}

func TestProcessFilesSnapshotTakenOncePerBatch(t *testing.T) {
	reader := &fakeReader{}
	writer := &fakeWriter{}
	provider := &fakeProvider{responses: [][]models.CandidateStudy{
		{candidate("Semaglutide", "STEP-1", "Phase 3")},
		{candidate("Semaglutide", "STEP-1", "Phase 3")},
	}}
	batch := newBatch(reader, provider, &fakeLogs{}, writer)

	outcomes, err := batch.ProcessFiles(context.Background(), []FileInput{
		{Name: "a.pdf", Data: []byte("text a")},
		{Name: "b.pdf", Data: []byte("text b")},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	// The second file does not see the first file's additions.
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.Equal(t, StatusSuccess, outcomes[1].Status)
	assert.Equal(t, 1, outcomes[1].Outcome.Added)
	assert.Equal(t, 1, reader.listCalls)
	assert.Len(t, writer.created, 2)
}

func TestProcessFilesIsolatesFailures(t *testing.T) {
	reader := &fakeReader{}
	writer := &fakeWriter{}
	provider := &fakeProvider{responses: [][]models.CandidateStudy{
		{candidate("Tirzepatide", "SURMOUNT-1", "Phase 3")},
	}}
	logs := &fakeLogs{}
	batch := newBatch(reader, provider, logs, writer)

	outcomes, err := batch.ProcessFiles(context.Background(), []FileInput{
		{Name: "broken.pdf", Data: []byte("corrupt")},
		{Name: "good.pdf", Data: []byte("some text")},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "extract text")
	assert.Equal(t, StatusSuccess, outcomes[1].Status)
	assert.Equal(t, 1, outcomes[1].Outcome.Added)

	require.Len(t, logs.saved, 2)
	assert.Equal(t, StatusError, logs.saved[0].Status)
	assert.Equal(t, StatusSuccess, logs.saved[1].Status)
}

func TestProcessFilesNoCohorts(t *testing.T) {
	provider := &fakeProvider{responses: [][]models.CandidateStudy{{}}}
	logs := &fakeLogs{}
	batch := newBatch(&fakeReader{}, provider, logs, &fakeWriter{})

	outcomes, err := batch.ProcessFiles(context.Background(), []FileInput{
		{Name: "empty.pdf", Data: []byte("nothing useful")},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Equal(t, ErrNoCohorts.Error(), outcomes[0].Message)
}

func TestProcessFilesAllDuplicates(t *testing.T) {
	reader := &fakeReader{snapshot: []models.Study{
		{DrugName: "Semaglutide", TrialName: "STEP-1"},
	}}
	provider := &fakeProvider{responses: [][]models.CandidateStudy{
		{candidate("Semaglutide", "STEP-1", "Phase 3")},
	}}
	logs := &fakeLogs{}
	batch := newBatch(reader, provider, logs, &fakeWriter{})

	outcomes, err := batch.ProcessFiles(context.Background(), []FileInput{
		{Name: "dup.pdf", Data: []byte("already known")},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Equal(t, 1, outcomes[0].Outcome.Skipped)

	require.Len(t, logs.saved, 1)
	assert.Equal(t, 1, logs.saved[0].Skipped)
	assert.NotEmpty(t, logs.saved[0].RawResponse)
}

func TestProcessImage(t *testing.T) {
	provider := &fakeProvider{responses: [][]models.CandidateStudy{
		{candidate("Orforglipron", "ATTAIN-2", "Phase 3")},
	}}
	writer := &fakeWriter{}
	batch := newBatch(&fakeReader{}, provider, &fakeLogs{}, writer)

	outcome, err := batch.ProcessImage(context.Background(), "table.png", []byte{0x89, 0x50}, "image/png")

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.Outcome.Added)
	require.Len(t, writer.created, 1)
	assert.Equal(t, "Orforglipron", writer.created[0].DrugName)
}
