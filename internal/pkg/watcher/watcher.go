package watcher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docsignal/DocSignal/internal/pkg/docstate"
	"github.com/docsignal/DocSignal/internal/pkg/statushub"
)

// Client-visible failures. Business-logic errors never reach a watcher;
// the client only watches documents it already knows exist.
var (
	ErrConnectionLost = errors.New("watcher: connection lost")
	ErrWatchTimeout   = errors.New("watcher: timeout")
)

// State of the subscription state machine.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StatePolling
	StateTerminated
)

// DocumentStatus is the point-query response shape.
type DocumentStatus struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	FileName   string `json:"filename"`
}

// Options configure a watch.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout is advisory and client-local: it starts at the connected
	// frame and fires onError(ErrWatchTimeout) if no terminal update
	// arrived. Zero disables it.
	Timeout time.Duration
	// ForcePolling skips streaming entirely, for environments where
	// server push is unavailable.
	ForcePolling    bool
	PollInterval    time.Duration
	MaxPollAttempts int
	HTTPClient      *http.Client

	OnUpdate func(DocumentStatus)
	OnError  func(error)
	OnDelete func()
}

// Watcher is one live watch. Cancel is idempotent and safe to call
// concurrently with any in-flight suspension; it never leaks the
// underlying connection or timer.
type Watcher struct {
	documentID string
	opts       Options
	client     *http.Client

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	timer  *time.Timer
	body   io.Closer

	done     chan struct{}
	doneOnce sync.Once
}

// Watch opens a status subscription for a document. It streams from the
// hub's push interface, re-baselines through the point query on connect,
// and falls back to bounded polling when streaming is unavailable.
func Watch(ctx context.Context, documentID string, opts Options) (*Watcher, error) {
	if opts.OnUpdate == nil {
		return nil, errors.New("watcher: OnUpdate callback is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 150
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		documentID: documentID,
		opts:       opts,
		client:     client,
		state:      StateConnecting,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go w.run(ctx)
	return w, nil
}

// State returns the watcher's current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed when the watch terminates, whatever the path.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Cancel tears the watch down exactly once: it stops the timer, closes the
// stream connection, and moves the machine to Terminated.
func (w *Watcher) Cancel() {
	w.mu.Lock()
	w.state = StateTerminated
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	body := w.body
	w.body = nil
	w.mu.Unlock()

	w.cancel()
	if body != nil {
		body.Close()
	}
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run(ctx context.Context) {
	if w.opts.ForcePolling {
		w.setState(StatePolling)
		w.poll(ctx)
		return
	}

	if err := w.stream(ctx); err != nil {
		if w.State() == StateTerminated {
			return
		}
		if errors.Is(err, errStreamUnavailable) {
			// Legacy fallback: same contract shape over the point query.
			w.setState(StatePolling)
			w.poll(ctx)
			return
		}
		w.fail(ErrConnectionLost)
	}
}

var errStreamUnavailable = errors.New("watcher: stream unavailable")

func (w *Watcher) stream(ctx context.Context) error {
	url := fmt.Sprintf("%s/documents/%s/updates", strings.TrimRight(w.opts.BaseURL, "/"), w.documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errStreamUnavailable
	}
	req.Header.Set("Accept", "text/event-stream")
	if w.opts.APIKey != "" {
		req.Header.Set("X-API-Key", w.opts.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errStreamUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return errStreamUnavailable
	}

	w.mu.Lock()
	if w.state == StateTerminated {
		w.mu.Unlock()
		resp.Body.Close()
		return nil
	}
	w.body = resp.Body
	w.mu.Unlock()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var frame statushub.Frame
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &frame); err != nil {
			continue
		}

		switch frame.Event {
		case statushub.EventConnected:
			w.setState(StateStreaming)
			w.armTimeout()
			// Re-baseline: covers any update missed between connection
			// establishment and subscription registration.
			if terminal := w.refetch(ctx); terminal {
				w.Cancel()
				return nil
			}
		case statushub.EventStatusUpdate:
			if terminal := w.refetch(ctx); terminal {
				w.Cancel()
				return nil
			}
		case statushub.EventDocumentDeleted:
			if w.opts.OnDelete != nil {
				w.opts.OnDelete()
			}
			w.Cancel()
			return nil
		case statushub.EventHeartbeat:
			// Keep-alive only.
		}
	}

	if w.State() == StateTerminated {
		return nil
	}
	return ErrConnectionLost
}

// refetch pulls the current status via the point query, invokes OnUpdate,
// and reports whether the status was terminal.
func (w *Watcher) refetch(ctx context.Context) bool {
	status, err := w.fetchStatus(ctx)
	if err != nil {
		// Stream stays up; the next frame retries the fetch.
		return false
	}
	w.opts.OnUpdate(status)
	return docstate.Terminal(status.Status)
}

func (w *Watcher) fetchStatus(ctx context.Context) (DocumentStatus, error) {
	url := fmt.Sprintf("%s/documents/%s", strings.TrimRight(w.opts.BaseURL, "/"), w.documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DocumentStatus{}, err
	}
	if w.opts.APIKey != "" {
		req.Header.Set("X-API-Key", w.opts.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return DocumentStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DocumentStatus{}, fmt.Errorf("watcher: status query returned %d", resp.StatusCode)
	}

	var out DocumentStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DocumentStatus{}, err
	}
	return out, nil
}

// poll is the legacy fallback: fixed-interval point queries up to a
// bounded attempt count, with the same terminal stop condition.
func (w *Watcher) poll(ctx context.Context) {
	w.armTimeout()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < w.opts.MaxPollAttempts; attempt++ {
		status, err := w.fetchStatus(ctx)
		if err == nil {
			w.opts.OnUpdate(status)
			if docstate.Terminal(status.Status) {
				w.Cancel()
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	w.fail(ErrWatchTimeout)
}

func (w *Watcher) armTimeout() {
	if w.opts.Timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateTerminated || w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.opts.Timeout, func() {
		w.fail(ErrWatchTimeout)
	})
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	terminated := w.state == StateTerminated
	w.mu.Unlock()
	if terminated {
		return
	}
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
	w.Cancel()
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateTerminated {
		w.state = s
	}
}
