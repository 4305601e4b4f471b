package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/docsignal/DocSignal/app/models"
	"github.com/docsignal/DocSignal/internal/pkg/eventstore"
	"github.com/docsignal/DocSignal/internal/pkg/metrics/counter"
)

// Handler processes the payload of a validated, deduplicated event.
// Returned errors are transient unless wrapped with Permanent or Reject.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Envelope is the common wire shape of both webhook sources. The nonce is
// the producer-assigned event id used purely for deduplication.
type Envelope struct {
	Type    string          `json:"type" validate:"required"`
	Nonce   string          `json:"nonce" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Result describes how a delivery was resolved so the HTTP layer can pick
// the response code.
type Result struct {
	EventID   string
	Type      string
	Outcome   string
	Duplicate bool
}

var validate = validator.New()

// Gateway verifies, deduplicates and dispatches webhook deliveries for a
// single source. Event types map to handlers through an explicit dispatch
// table; unknown types poison the event instead of bouncing forever.
type Gateway struct {
	source   string
	verifier Verifier
	store    eventstore.Store
	handlers map[string]Handler
}

func NewGateway(source string, verifier Verifier, store eventstore.Store) *Gateway {
	return &Gateway{
		source:   source,
		verifier: verifier,
		store:    store,
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for an event type. Registration happens during
// wiring, before the gateway serves traffic.
func (g *Gateway) Register(eventType string, handler Handler) {
	g.handlers[eventType] = handler
}

// Process runs the full intake sequence for one delivery: signature check,
// envelope parse, insert-if-absent dedupe, dispatch, outcome bookkeeping.
func (g *Gateway) Process(ctx context.Context, rawBody []byte, signatureHeader string) (Result, error) {
	if !g.verifier.Verify(rawBody, signatureHeader) {
		log.Warnf("[Webhook] %s delivery with invalid signature", g.source)
		return Result{}, ErrSignatureInvalid
	}

	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		log.Warnf("[Webhook] %s delivery with unparseable body: %v", g.source, err)
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(env); err != nil {
		log.Warnf("[Webhook] %s delivery with incomplete envelope: %v", g.source, err)
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	res := Result{EventID: env.Nonce, Type: env.Type}

	created, err := g.store.InsertIfAbsent(ctx, &models.WebhookEvent{
		EventID:     env.Nonce,
		Source:      g.source,
		EventType:   env.Type,
		PayloadJSON: string(rawBody),
		Outcome:     models.EventOutcomePending,
	})
	if err != nil {
		return res, err
	}
	if !created {
		claimed, cerr := g.store.ClaimRetry(ctx, env.Nonce)
		if cerr != nil {
			return res, cerr
		}
		if !claimed {
			// Idempotent no-op: an earlier delivery owns processing.
			if derr := g.store.RecordDuplicate(ctx, env.Nonce); derr != nil {
				log.Errorf("[Webhook] Failed to record duplicate for %s: %v", env.Nonce, derr)
			}
			counter.AddDuplicateEvent(g.source)
			res.Duplicate = true
			res.Outcome = models.EventOutcomeDuplicate
			return res, nil
		}
		// Claimed a transiently-failed event: this redelivery re-runs the
		// handler below.
	}

	handler, ok := g.handlers[env.Type]
	if !ok {
		// Unknown type is a permanent failure: stop sender retries and
		// surface for operator remediation.
		log.Errorf("[Webhook] %s event %s has unregistered type %q, poisoning", g.source, env.Nonce, env.Type)
		counter.AddPoisonedEvent(g.source)
		g.markOutcome(ctx, env.Nonce, models.EventOutcomePoisoned, "unknown event type: "+env.Type)
		res.Outcome = models.EventOutcomePoisoned
		return res, nil
	}

	if err := handler(ctx, env.Payload); err != nil {
		switch {
		case IsRejected(err):
			g.markOutcome(ctx, env.Nonce, models.EventOutcomeRejected, err.Error())
			res.Outcome = models.EventOutcomeRejected
			return res, fmt.Errorf("%w: %s", ErrMalformedPayload, err.Error())
		case IsPermanent(err):
			log.Errorf("[Webhook] %s event %s permanently failed: %v", g.source, env.Nonce, err)
			counter.AddPoisonedEvent(g.source)
			g.markOutcome(ctx, env.Nonce, models.EventOutcomePoisoned, err.Error())
			res.Outcome = models.EventOutcomePoisoned
			return res, nil
		default:
			// Transient: mark the row pending-with-attempt so the sender's
			// retry of the same nonce can claim it once the fault clears.
			log.Errorf("[Webhook] %s event %s transiently failed: %v", g.source, env.Nonce, err)
			g.markOutcome(ctx, env.Nonce, models.EventOutcomePending, err.Error())
			res.Outcome = models.EventOutcomePending
			return res, err
		}
	}

	g.markOutcome(ctx, env.Nonce, models.EventOutcomeApplied, "")
	res.Outcome = models.EventOutcomeApplied
	return res, nil
}

func (g *Gateway) markOutcome(ctx context.Context, eventID, outcome, processingError string) {
	if err := g.store.MarkOutcome(ctx, eventID, outcome, processingError); err != nil {
		log.Errorf("[Webhook] Failed to mark %s as %s: %v", eventID, outcome, err)
	}
}

// RegisteredTypes lists handler registrations, sorted for stable logs.
func (g *Gateway) RegisteredTypes() []string {
	types := make([]string, 0, len(g.handlers))
	for t := range g.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Source returns the gateway's source label.
func (g *Gateway) Source() string {
	return strings.ToLower(g.source)
}
