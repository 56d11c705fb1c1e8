package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"metaslim/models"
)

// Store wraps the database and fans out the full study set to subscribers
// after every mutation. Subscribers always receive a complete snapshot in
// newest-first order, never deltas.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[chan []models.Study]struct{}
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []models.Study]struct{}),
	}
}

// IsPermissionDenied reports whether err looks like a database-side
// authorization failure, so callers can surface a clearer message than the
// raw driver error.
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "42501")
}

func (s *Store) Create(ctx context.Context, study *models.Study) error {
	if err := s.db.WithContext(ctx).Create(study).Error; err != nil {
		if IsPermissionDenied(err) {
			return fmt.Errorf("database rejected the write, check the configured role's privileges on the studies table: %w", err)
		}
		return err
	}
	s.notify(ctx)
	return nil
}

// Update replaces all editable fields of an existing study. ID and CreatedAt
// never change.
func (s *Store) Update(ctx context.Context, id uint, fields *models.Study) (*models.Study, error) {
	var existing models.Study
	if err := s.db.WithContext(ctx).First(&existing, id).Error; err != nil {
		return nil, err
	}

	existing.DrugName = fields.DrugName
	existing.DrugClass = fields.DrugClass
	existing.Company = fields.Company
	existing.TrialName = fields.TrialName
	existing.Phase = fields.Phase
	existing.HasT2D = fields.HasT2D
	existing.IsChineseCohort = fields.IsChineseCohort
	existing.DurationWeeks = fields.DurationWeeks
	existing.Summary = fields.Summary
	existing.Doses = fields.Doses

	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, err
	}
	s.notify(ctx)
	return &existing, nil
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Study{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.notify(ctx)
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Delete(&models.Study{}, ids)
	if res.Error != nil {
		return 0, res.Error
	}
	s.notify(ctx)
	return res.RowsAffected, nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Study{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.notify(ctx)
	return res.RowsAffected, nil
}

// List returns every study, newest first.
func (s *Store) List(ctx context.Context) ([]models.Study, error) {
	var studies []models.Study
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&studies).Error
	return studies, err
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Study, error) {
	var study models.Study
	if err := s.db.WithContext(ctx).First(&study, id).Error; err != nil {
		return nil, err
	}
	return &study, nil
}

// Subscribe registers a listener for full study snapshots. The returned
// cancel function must be called when the listener goes away.
func (s *Store) Subscribe() (<-chan []models.Study, func()) {
	ch := make(chan []models.Study, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

// notify pushes the current full study set to every subscriber. Slow
// subscribers have their stale pending snapshot replaced instead of blocking
// the writer.
func (s *Store) notify(ctx context.Context) {
	studies, err := s.List(ctx)
	if err != nil {
		s.logger.Error("failed to load studies for subscribers", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- studies:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- studies:
			default:
			}
		}
	}
}

// SaveLog records the outcome of one ingested file.
func (s *Store) SaveLog(ctx context.Context, log *models.IngestLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// ListLogs returns the most recent ingest logs, newest first.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]models.IngestLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.IngestLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
