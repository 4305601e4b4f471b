package eventstore

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docsignal/DocSignal/app/models"
)

// RetentionWindow is how long event rows are kept for idempotency checks.
const RetentionWindow = 24 * time.Hour

// Store provides the durable, idempotency-checked record of inbound
// webhook events.
type Store interface {
	// InsertIfAbsent atomically creates the event row unless one with the
	// same EventID already exists. It reports whether the row was created.
	InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	// RecordDuplicate bumps the duplicate delivery counter for an event.
	RecordDuplicate(ctx context.Context, eventID string) error
	// ClaimRetry atomically claims an event that previously failed
	// transiently so exactly one redelivery re-runs the handler. In-flight
	// first deliveries and finalized events cannot be claimed.
	ClaimRetry(ctx context.Context, eventID string) (bool, error)
	// MarkOutcome finalizes the event with its processing outcome.
	MarkOutcome(ctx context.Context, eventID, outcome, processingError string) error
	// Get returns the stored event row.
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates an event store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) RecordDuplicate(ctx context.Context, eventID string) error {
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		UpdateColumn("duplicate_count", gorm.Expr("duplicate_count + 1")).Error
}

// ClaimRetry flips a transiently-failed row back to in-flight. A row is
// claimable only when its outcome is still pending and a processing attempt
// has already finished (processed_at set); the compare-and-swap on those two
// columns makes the claim safe under concurrent redelivery.
func (s *gormStore) ClaimRetry(ctx context.Context, eventID string) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ? AND outcome = ? AND processed_at IS NOT NULL", eventID, models.EventOutcomePending).
		Update("processed_at", nil)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) MarkOutcome(ctx context.Context, eventID, outcome, processingError string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"outcome":          outcome,
			"processing_error": processingError,
			"processed_at":     &now,
		}).Error
}

func (s *gormStore) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Sweeper removes event rows that have aged out of the idempotency
// retention window.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	stopCh   chan struct{}
}

func NewSweeper(db *gorm.DB, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{db: db, interval: interval, stopCh: make(chan struct{})}
}

func (s *Sweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-RetentionWindow)
				tx := s.db.Where("received_at < ?", cutoff).Delete(&models.WebhookEvent{})
				if tx.Error != nil {
					log.Errorf("[EventStore] Retention sweep failed: %v", tx.Error)
					continue
				}
				if tx.RowsAffected > 0 {
					log.Infof("[EventStore] Swept %d expired event rows", tx.RowsAffected)
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}
