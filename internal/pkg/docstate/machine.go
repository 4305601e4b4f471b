package docstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/docsignal/DocSignal/app/models"
	"github.com/docsignal/DocSignal/internal/pkg/cache"
	"github.com/docsignal/DocSignal/internal/pkg/webhook"
)

// Cache key format for mirrored document status, read by the point-query
// endpoint before it falls back to the database.
const (
	DocumentStatusKeyFormat = "document:status:%s" // document:status:<uuid>
	statusMirrorTTL         = 24 * time.Hour
)

// ErrUnknownDocument means the event references a document that does not
// exist after bounded retry.
var ErrUnknownDocument = errors.New("docstate: unknown document")

// Publisher receives committed status changes. Publish runs after the
// transition is durable so subscribers never observe state that could
// still be rolled back.
type Publisher interface {
	Publish(documentID, status string)
	PublishDeleted(documentID string)
}

// Repository is the persistence surface of the state machine.
type Repository interface {
	GetDocument(ctx context.Context, uuid string) (*models.Document, error)
	UpdateStatus(ctx context.Context, uuid, status string) error
	MarkDeleted(ctx context.Context, uuid string) error
}

// StatusEvent is the payload of a document_status_updated webhook.
type StatusEvent struct {
	DocumentID string `json:"document_id" validate:"required"`
	Status     string `json:"status" validate:"required"`
}

// DeleteEvent is the payload of the out-of-band document_deleted signal.
type DeleteEvent struct {
	DocumentID string `json:"document_id" validate:"required"`
}

var validate = validator.New()

// Machine applies validated processing events to documents. All work on a
// given document is serialized through a per-document mutex arena;
// different documents proceed in parallel.
type Machine struct {
	repo  Repository
	pub   Publisher
	cache *cache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Unknown-document retry knobs, capped exponential backoff.
	retryAttempts int
	retryBase     time.Duration
}

func NewMachine(repo Repository, pub Publisher, c *cache.Cache) *Machine {
	return &Machine{
		repo:          repo,
		pub:           pub,
		cache:         c,
		locks:         make(map[string]*sync.Mutex),
		retryAttempts: 3,
		retryBase:     100 * time.Millisecond,
	}
}

// HandleStatusEvent is the webhook gateway handler for
// document_status_updated events.
func (m *Machine) HandleStatusEvent(ctx context.Context, payload json.RawMessage) error {
	var ev StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return webhook.Reject(fmt.Errorf("invalid status payload: %w", err))
	}
	if err := validate.Struct(ev); err != nil {
		return webhook.Reject(fmt.Errorf("incomplete status payload: %w", err))
	}
	if !Known(ev.Status) {
		return webhook.Reject(fmt.Errorf("unknown target status %q", ev.Status))
	}

	_, err := m.Apply(ctx, ev.DocumentID, ev.Status)
	if errors.Is(err, ErrUnknownDocument) {
		log.Errorf("[DocState] Orphaned event for document %s (target %s)", ev.DocumentID, ev.Status)
		return webhook.Permanent(err)
	}
	return err
}

// HandleDeleteEvent is the webhook gateway handler for the out-of-band
// deletion signal.
func (m *Machine) HandleDeleteEvent(ctx context.Context, payload json.RawMessage) error {
	var ev DeleteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return webhook.Reject(fmt.Errorf("invalid delete payload: %w", err))
	}
	if err := validate.Struct(ev); err != nil {
		return webhook.Reject(fmt.Errorf("incomplete delete payload: %w", err))
	}

	_, err := m.Apply(ctx, ev.DocumentID, STATUS_DELETED)
	if errors.Is(err, ErrUnknownDocument) {
		// Deleting a document we never saw needs no remediation.
		log.Warnf("[DocState] Delete signal for unknown document %s, ignoring", ev.DocumentID)
		return nil
	}
	return err
}

// Apply runs the transition rule for one document and reports whether the
// target status was committed. Duplicate and out-of-order events resolve
// to applied=false with a nil error.
func (m *Machine) Apply(ctx context.Context, documentID, target string) (bool, error) {
	lock := m.lockFor(documentID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := m.getWithRetry(ctx, documentID)
	if err != nil {
		return false, err
	}

	if doc.Deleted {
		// Absorbing: nothing moves a deleted document.
		return false, nil
	}

	if target == STATUS_DELETED {
		if err := m.repo.MarkDeleted(ctx, documentID); err != nil {
			return false, err
		}
		m.mirrorStatus(ctx, documentID, STATUS_DELETED)
		m.pub.PublishDeleted(documentID)
		return true, nil
	}

	if !advances(doc.Status, target) {
		log.Debugf("[DocState] Ignoring stale transition %s -> %s for %s", doc.Status, target, documentID)
		return false, nil
	}

	if err := m.repo.UpdateStatus(ctx, documentID, target); err != nil {
		return false, err
	}
	m.mirrorStatus(ctx, documentID, target)

	// Publish only after the commit above; an undelivered publish is
	// recoverable because watchers re-baseline on connect.
	m.pub.Publish(documentID, target)
	return true, nil
}

// CurrentStatus resolves a document's status, cache first.
func (m *Machine) CurrentStatus(ctx context.Context, documentID string) (string, error) {
	key := fmt.Sprintf(DocumentStatusKeyFormat, documentID)
	return m.cache.GetOrFetch(ctx, key, statusMirrorTTL, func(ctx context.Context) (string, error) {
		doc, err := m.repo.GetDocument(ctx, documentID)
		if err != nil {
			return "", err
		}
		if doc.Deleted {
			return STATUS_DELETED, nil
		}
		return doc.Status, nil
	})
}

func (m *Machine) mirrorStatus(ctx context.Context, documentID, status string) {
	key := fmt.Sprintf(DocumentStatusKeyFormat, documentID)
	if err := m.cache.Set(ctx, key, status, statusMirrorTTL); err != nil {
		log.Errorf("[DocState] Failed to mirror status for %s: %v", documentID, err)
	}
}

// getWithRetry covers the race against document creation: a missing
// document is retried with capped exponential backoff before it is
// declared orphaned.
func (m *Machine) getWithRetry(ctx context.Context, documentID string) (*models.Document, error) {
	delay := m.retryBase
	for attempt := 0; ; attempt++ {
		doc, err := m.repo.GetDocument(ctx, documentID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if attempt >= m.retryAttempts-1 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, documentID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (m *Machine) lockFor(documentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[documentID] = lock
	}
	return lock
}
