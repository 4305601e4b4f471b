package statushub

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/docsignal/DocSignal/internal/pkg/docstate"
)

// Frame event names pushed to subscribers.
const (
	EventConnected       = "connected"
	EventStatusUpdate    = "status_update"
	EventDocumentDeleted = "document_deleted"
	EventHeartbeat       = "heartbeat"
)

// Frame is one server-push message on a status stream.
type Frame struct {
	Event      string `json:"event"`
	DocumentID string `json:"document_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Options tune the hub's liveness and teardown behavior.
type Options struct {
	// SubscriberBuffer is the per-connection frame buffer. A subscriber
	// whose buffer is full when the hub writes is treated as dead.
	SubscriberBuffer int
	// HeartbeatInterval is how often keep-alive frames are pushed.
	HeartbeatInterval time.Duration
	// MaxMissedHeartbeats force-closes a connection after this many
	// consecutive undeliverable heartbeats.
	MaxMissedHeartbeats int
	// TerminalGrace is how long subscribers are kept after a terminal
	// publish before the document registry is torn down.
	TerminalGrace time.Duration
	// CurrentStatus supplies the baseline sent on subscribe.
	CurrentStatus func(ctx context.Context, documentID string) (string, error)
}

// Subscription is one live subscriber registration. Frames arrives on C
// until the hub closes it.
type Subscription struct {
	ID         string
	DocumentID string
	C          <-chan Frame

	hub *Hub
}

// Close unregisters the subscription. Safe to call more than once and
// concurrently with hub publishes.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.DocumentID, s.ID)
}

type subscriber struct {
	id         string
	ch         chan Frame
	lastSent   string
	missed     int
	lastSeenAt time.Time
}

type docEntry struct {
	mu       sync.Mutex
	subs     map[string]*subscriber
	absorbed bool
}

// Hub is the in-memory registry of live status subscribers. Each document
// has its own entry with its own lock, so a publish racing a subscribe on
// one document never blocks other documents.
type Hub struct {
	opts Options

	mu   sync.RWMutex
	docs map[string]*docEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub(opts Options) *Hub {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 16
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.MaxMissedHeartbeats <= 0 {
		opts.MaxMissedHeartbeats = 3
	}
	if opts.TerminalGrace <= 0 {
		opts.TerminalGrace = 5 * time.Second
	}
	return &Hub{
		opts:   opts,
		docs:   make(map[string]*docEntry),
		stopCh: make(chan struct{}),
	}
}

// Start runs the heartbeat loop until Stop is called.
func (h *Hub) Start() {
	go h.heartbeatLoop()
}

// Stop ends the heartbeat loop. Open subscriptions stay valid; callers
// close them through their own lifecycle.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Subscribe registers a connection for a document's status stream and
// queues the document's current status as a baseline frame. The baseline
// is resolved while the entry lock is held, so a concurrent publish is
// either reflected in the baseline or delivered to the registered channel,
// never lost. A baseline that is already terminal closes the stream right
// away instead of parking the subscriber on a document that will never
// publish again.
func (h *Hub) Subscribe(ctx context.Context, documentID string) (*Subscription, error) {
	entry := h.entryFor(documentID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	baseline := ""
	if h.opts.CurrentStatus != nil {
		status, err := h.opts.CurrentStatus(ctx, documentID)
		if err != nil {
			return nil, err
		}
		baseline = status
	}

	if entry.absorbed || docstate.Terminal(baseline) {
		ch := make(chan Frame, 1)
		if baseline != "" {
			ch <- baselineFrame(documentID, baseline)
		}
		close(ch)
		return &Subscription{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			C:          ch,
			hub:        h,
		}, nil
	}

	sub := &subscriber{
		id:         uuid.New().String(),
		ch:         make(chan Frame, h.opts.SubscriberBuffer),
		lastSeenAt: time.Now(),
	}
	entry.subs[sub.id] = sub

	if baseline != "" {
		sub.ch <- baselineFrame(documentID, baseline)
		sub.lastSent = baseline
	}

	return &Subscription{
		ID:         sub.id,
		DocumentID: documentID,
		C:          sub.ch,
		hub:        h,
	}, nil
}

func baselineFrame(documentID, status string) Frame {
	if status == docstate.STATUS_DELETED {
		return Frame{Event: EventDocumentDeleted, DocumentID: documentID}
	}
	return Frame{Event: EventStatusUpdate, DocumentID: documentID, Status: status}
}

// Publish pushes a status to every live subscriber of a document. Writes
// are non-blocking: a subscriber whose buffer is full is removed as dead
// so one stalled connection cannot hold up the rest. Terminal statuses
// schedule registry teardown after the grace period.
func (h *Hub) Publish(documentID, status string) {
	entry := h.lookup(documentID)
	if entry == nil {
		if terminal(status) {
			// No subscribers, still absorb so late subscribers see closure.
			h.absorbLater(documentID)
		}
		return
	}

	entry.mu.Lock()
	if entry.absorbed {
		entry.mu.Unlock()
		return
	}
	frame := Frame{Event: EventStatusUpdate, DocumentID: documentID, Status: status}
	for id, sub := range entry.subs {
		if !trySend(sub, frame) {
			log.Warnf("[StatusHub] Dropping dead subscriber %s for document %s", id, documentID)
			h.dropLocked(entry, id)
			continue
		}
		sub.lastSent = status
	}
	entry.mu.Unlock()

	if terminal(status) {
		h.absorbLater(documentID)
	}
}

// PublishDeleted notifies subscribers that the document is gone and closes
// them immediately, with no grace period.
func (h *Hub) PublishDeleted(documentID string) {
	entry := h.lookup(documentID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	if entry.absorbed {
		entry.mu.Unlock()
		return
	}
	frame := Frame{Event: EventDocumentDeleted, DocumentID: documentID}
	for id, sub := range entry.subs {
		trySend(sub, frame)
		h.dropLocked(entry, id)
	}
	entry.absorbed = true
	entry.mu.Unlock()
}

// SubscriberCount reports live subscribers for a document.
func (h *Hub) SubscriberCount(documentID string) int {
	entry := h.lookup(documentID)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.subs)
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sweepHeartbeats()
		}
	}
}

func (h *Hub) sweepHeartbeats() {
	h.mu.RLock()
	entries := make([]*docEntry, 0, len(h.docs))
	ids := make([]string, 0, len(h.docs))
	for id, entry := range h.docs {
		entries = append(entries, entry)
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for i, entry := range entries {
		entry.mu.Lock()
		for id, sub := range entry.subs {
			if trySend(sub, Frame{Event: EventHeartbeat}) {
				sub.missed = 0
				sub.lastSeenAt = time.Now()
				continue
			}
			sub.missed++
			if sub.missed >= h.opts.MaxMissedHeartbeats {
				log.Warnf("[StatusHub] Subscriber %s missed %d heartbeats on document %s, force closing", id, sub.missed, ids[i])
				h.dropLocked(entry, id)
			}
		}
		entry.mu.Unlock()
	}
}

// absorbLater marks the entry absorbed and closes every subscription after
// the terminal grace period. The entry stays behind as a tombstone so a
// late subscribe or publish still observes the absorbed state instead of
// recreating a live registry for a finished document.
func (h *Hub) absorbLater(documentID string) {
	entry := h.entryFor(documentID)

	entry.mu.Lock()
	if entry.absorbed {
		entry.mu.Unlock()
		return
	}
	entry.absorbed = true
	entry.mu.Unlock()

	time.AfterFunc(h.opts.TerminalGrace, func() {
		entry.mu.Lock()
		for id := range entry.subs {
			h.dropLocked(entry, id)
		}
		entry.mu.Unlock()
	})
}

func (h *Hub) unsubscribe(documentID, subID string) {
	entry := h.lookup(documentID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	h.dropLocked(entry, subID)
	entry.mu.Unlock()
}

// dropLocked removes a subscriber and closes its channel. Caller holds the
// entry lock.
func (h *Hub) dropLocked(entry *docEntry, subID string) {
	sub, ok := entry.subs[subID]
	if !ok {
		return
	}
	delete(entry.subs, subID)
	close(sub.ch)
}

func (h *Hub) entryFor(documentID string) *docEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.docs[documentID]
	if !ok {
		entry = &docEntry{subs: make(map[string]*subscriber)}
		h.docs[documentID] = entry
	}
	return entry
}

func (h *Hub) lookup(documentID string) *docEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.docs[documentID]
}

func trySend(sub *subscriber, frame Frame) bool {
	select {
	case sub.ch <- frame:
		return true
	default:
		return false
	}
}

func terminal(status string) bool {
	return status == docstate.STATUS_READY || status == docstate.STATUS_FAILED
}
