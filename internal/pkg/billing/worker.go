package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/docsignal/DocSignal/app/models"
	"github.com/docsignal/DocSignal/internal/pkg/entitlements"
	"github.com/docsignal/DocSignal/internal/pkg/webhook"
)

// SubscriptionEvent is the payload of the billing provider's subscription
// lifecycle envelope. Created carries the provider-assigned ordering used
// to reject superseded updates.
type SubscriptionEvent struct {
	EventID           string `json:"event_id" validate:"required"`
	Created           int64  `json:"created" validate:"required"`
	UserID            uint   `json:"user_id" validate:"required"`
	Tier              string `json:"tier" validate:"required"`
	Status            string `json:"status" validate:"required"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// Repository is the persistence surface of the reconciliation worker.
// ApplyEvent must update every BillingState field together or not at all.
type Repository interface {
	GetOrCreateState(ctx context.Context, userID uint) (*models.BillingState, error)
	ApplyEvent(ctx context.Context, state *models.BillingState) error
}

var validate = validator.New()

// Worker idempotently applies subscription lifecycle events to per-user
// billing state. It shares the webhook gateway's dedup discipline and adds
// the provider-ordering guard on top. All work for a given user is
// serialized through a per-user mutex arena; different users proceed in
// parallel.
type Worker struct {
	repo Repository

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewWorker(repo Repository) *Worker {
	return &Worker{
		repo:  repo,
		locks: make(map[uint]*sync.Mutex),
	}
}

// HandleSubscriptionEvent is the webhook gateway handler for
// subscription.created / subscription.updated / subscription.deleted.
func (w *Worker) HandleSubscriptionEvent(ctx context.Context, payload json.RawMessage) error {
	var ev SubscriptionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return webhook.Reject(fmt.Errorf("invalid subscription payload: %w", err))
	}
	if err := validate.Struct(ev); err != nil {
		return webhook.Reject(fmt.Errorf("incomplete subscription payload: %w", err))
	}

	applied, err := w.Apply(ctx, ev)
	if err != nil {
		return err
	}
	if !applied {
		log.Infof("[Billing] Skipped stale event %s for user %d (created=%d)", ev.EventID, ev.UserID, ev.Created)
	}
	return nil
}

// Apply reconciles one subscription event against the stored billing
// state. Events not newer than the last applied one are no-ops. The
// per-user lock keeps the ordering check and the write atomic under
// concurrent delivery.
func (w *Worker) Apply(ctx context.Context, ev SubscriptionEvent) (bool, error) {
	lock := w.lockFor(ev.UserID)
	lock.Lock()
	defer lock.Unlock()

	state, err := w.repo.GetOrCreateState(ctx, ev.UserID)
	if err != nil {
		return false, err
	}

	// Provider-assigned ordering guard: older-or-equal events lost the race.
	if ev.Created <= state.LastEventAt {
		return false, nil
	}

	state.Tier = normalizeTier(ev.Tier)
	state.SubscriptionStatus = normalizeStatus(ev.Status)
	state.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	state.LastEventIDApplied = ev.EventID
	state.LastEventAt = ev.Created
	if ev.CurrentPeriodEnd > 0 {
		end := time.Unix(ev.CurrentPeriodEnd, 0)
		state.CurrentPeriodEnd = &end
	} else {
		state.CurrentPeriodEnd = nil
	}

	if err := w.repo.ApplyEvent(ctx, state); err != nil {
		return false, err
	}

	log.Infof("[Billing] Applied event %s for user %d: tier=%s status=%s",
		ev.EventID, ev.UserID, state.Tier, state.SubscriptionStatus)
	return true, nil
}

func (w *Worker) lockFor(userID uint) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[userID] = lock
	}
	return lock
}

func normalizeTier(tier string) string {
	t := strings.ToLower(strings.TrimSpace(tier))
	if !entitlements.KnownPlan(t) {
		return string(entitlements.PlanFree)
	}
	return t
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.BillingStatusActive
	case "past_due", "unpaid":
		return models.BillingStatusPastDue
	case "canceled", "cancelled":
		return models.BillingStatusCanceled
	default:
		return models.BillingStatusIncomplete
	}
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateState(ctx context.Context, userID uint) (*models.BillingState, error) {
	var state models.BillingState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	state = models.BillingState{
		UserID:             userID,
		Tier:               string(entitlements.PlanFree),
		SubscriptionStatus: models.BillingStatusIncomplete,
	}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// ApplyEvent writes all billing fields and the user's plan in one
// transaction; partial application is not permitted. The last_event_at
// compare-and-swap re-checks the ordering guard at write time, so a stale
// event can never overwrite a newer one even across instances.
func (r *gormRepository) ApplyEvent(ctx context.Context, state *models.BillingState) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BillingState{}).
			Where("id = ? AND last_event_at < ?", state.ID, state.LastEventAt).
			Updates(map[string]interface{}{
				"tier":                  state.Tier,
				"subscription_status":   state.SubscriptionStatus,
				"current_period_end":    state.CurrentPeriodEnd,
				"cancel_at_period_end":  state.CancelAtPeriodEnd,
				"last_event_id_applied": state.LastEventIDApplied,
				"last_event_at":         state.LastEventAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A newer event committed concurrently; this one is superseded.
			return nil
		}

		plan := entitlements.EffectivePlan(state.Tier, state.SubscriptionStatus)
		return tx.Model(&models.User{}).
			Where("id = ?", state.UserID).
			Update("plan", string(plan)).Error
	})
}
