package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"metaslim/models"
)

// ErrNoCohorts is raised when the extraction backend returned zero candidates
// for a file. Distinct from ErrAllNonViable: here there was nothing to filter.
var ErrNoCohorts = errors.New("no cohorts extracted from source")

// ErrAllNonViable is raised when a non-empty candidate list produced zero new
// records: every candidate was either outside phase 1-3 or a duplicate.
var ErrAllNonViable = errors.New("all extracted cohorts were non-phase-1-3 or duplicates")

// IngestOutcome counts what happened to the candidates of one file.
// All three counts may be positive at the same time.
type IngestOutcome struct {
	Added       int `json:"added"`
	Skipped     int `json:"skipped"`
	FilteredOut int `json:"filtered_out"`
}

// Message builds the combined human-readable status line.
func (o IngestOutcome) Message() string {
	var b strings.Builder
	if o.Added > 0 {
		fmt.Fprintf(&b, "added %d new cohort(s).", o.Added)
	}
	if o.Skipped > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d duplicate cohort(s) skipped.", o.Skipped)
	}
	if o.FilteredOut > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d non-phase-1-3 cohort(s) ignored.", o.FilteredOut)
	}
	return b.String()
}

// StudyWriter persists one accepted record, assigning id and creation time.
type StudyWriter interface {
	Create(ctx context.Context, study *models.Study) error
}

// Ingestor decides which AI-extracted candidates get persisted.
type Ingestor struct {
	Store  StudyWriter
	Logger *zap.Logger
}

func NewIngestor(store StudyWriter, logger *zap.Logger) *Ingestor {
	return &Ingestor{Store: store, Logger: logger}
}

// cohortKey is the natural key used for duplicate detection, case-insensitive
// and whitespace-trimmed. Dose content is deliberately not part of the key.
type cohortKey struct {
	drug    string
	trial   string
	t2d     bool
	chinese bool
}

func keyOf(drugName, trialName string, hasT2D, isChinese bool) cohortKey {
	return cohortKey{
		drug:    strings.ToLower(strings.TrimSpace(drugName)),
		trial:   strings.ToLower(strings.TrimSpace(trialName)),
		t2d:     hasT2D,
		chinese: isChinese,
	}
}

// Ingest validates, filters and deduplicates one file's candidate list against
// the caller's snapshot of known records, persisting the survivors in input
// order. The snapshot is read-only here and is NOT extended as candidates are
// accepted: two duplicates inside the same extraction response both pass the
// duplicate check.
func (i *Ingestor) Ingest(ctx context.Context, candidates []models.CandidateStudy, known []models.Study) (IngestOutcome, error) {
	var out IngestOutcome

	knownKeys := make(map[cohortKey]struct{}, len(known))
	for _, s := range known {
		knownKeys[keyOf(s.DrugName, s.TrialName, s.HasT2D, s.IsChineseCohort)] = struct{}{}
	}

	for _, cand := range candidates {
		// Structural floor against malformed AI responses; dropped
		// candidates are not counted in any reported bucket.
		if cand.DrugName == "" || cand.TrialName == "" || len(cand.Doses) == 0 {
			i.Logger.Debug("Dropping malformed candidate",
				zap.String("drug_name", cand.DrugName),
				zap.String("trial_name", cand.TrialName))
			continue
		}

		if !PhaseViable(cand.Phase) {
			out.FilteredOut++
			continue
		}

		if _, dup := knownKeys[keyOf(cand.DrugName, cand.TrialName, cand.HasT2D, cand.IsChineseCohort)]; dup {
			out.Skipped++
			continue
		}

		study := cand.Study()
		study.DrugName = CanonicalDrugName(study.DrugName)
		if err := i.Store.Create(ctx, study); err != nil {
			return out, fmt.Errorf("persisting cohort %q/%q: %w", cand.DrugName, cand.TrialName, err)
		}
		out.Added++
	}

	if out.Added == 0 && len(candidates) > 0 {
		return out, ErrAllNonViable
	}
	return out, nil
}

// PhaseViable reports whether a candidate's phase passes the ingestion filter.
// An empty phase means unknown and always passes; a non-empty phase must
// contain one of the digits 1-3 as a substring ("Phase 2/3" is fine).
func PhaseViable(phase string) bool {
	if phase == "" {
		return true
	}
	return strings.ContainsAny(phase, "123")
}

// CanonicalDrugName uppercases the first character and lowercases the rest,
// so the duplicate key and the display form are stable regardless of whether
// a record came from extraction or manual entry. Idempotent.
func CanonicalDrugName(name string) string {
	if name == "" {
		return name
	}
	lower := strings.ToLower(name)
	r, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(r)) + lower[size:]
}
