package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/consult"
)

// DefaultBufferSize is the per-observer queue depth. An observer that falls
// this far behind is disconnected rather than allowed to block publishing.
const DefaultBufferSize = 64

// SnapshotSource provides the initial-state payload sent to new observers.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (any, error)
}

// Observer is one connected dashboard sink. Messages arrive pre-encoded on
// the channel returned by Messages; a closed channel means the observer was
// disconnected (by Unsubscribe or by falling behind).
type Observer struct {
	id       string
	encoding Encoding

	// mu guards ch against a send racing a close: publishers queue through
	// send while Unsubscribe closes through close, and both take the lock.
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// ID returns the observer's unique id.
func (o *Observer) ID() string {
	return o.id
}

// Messages returns the observer's delivery channel.
func (o *Observer) Messages() <-chan []byte {
	return o.ch
}

func (o *Observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// send queues data without blocking. queued reports whether the message fit;
// open reports whether the observer is still connected.
func (o *Observer) send(data []byte) (queued, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false, false
	}
	select {
	case o.ch <- data:
		return true, true
	default:
		return false, true
	}
}

// Hub owns the observer set. Subscribe/unsubscribe are rare relative to
// publish, so the set lives behind a read-mostly lock and publish takes the
// read path.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer

	snapshot   SnapshotSource
	bufferSize int
	metrics    *Metrics
	timeNow    func() time.Time
}

// HubConfig configures a Hub. Snapshot is required; Metrics is optional.
type HubConfig struct {
	Snapshot   SnapshotSource
	BufferSize int
	Metrics    *Metrics
}

// NewHub creates a broadcast hub.
func NewHub(cfg HubConfig) *Hub {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		observers:  make(map[string]*Observer),
		snapshot:   cfg.Snapshot,
		bufferSize: size,
		metrics:    cfg.Metrics,
		timeNow:    time.Now,
	}
}

// SubscribeOptions controls a new observer's wire format.
type SubscribeOptions struct {
	Encoding Encoding
}

// Subscribe registers a new observer. The observer's first message is always
// the initial-state snapshot: it is queued while the hub's write lock is
// held, so no concurrently published event can precede it.
func (h *Hub) Subscribe(ctx context.Context, opts SubscribeOptions) (*Observer, error) {
	enc := opts.Encoding
	if enc == "" {
		enc = EncodingJSON
	}

	state, err := h.snapshot.Snapshot(ctx)
	if err != nil {
		// Best-effort: a failed snapshot degrades to an empty one rather
		// than refusing the subscription.
		slog.WarnContext(ctx, "initial state snapshot failed", "error", err)
		state = nil
	}

	initial, err := encode(Message{
		Type:  MessageInitialState,
		At:    h.timeNow(),
		State: state,
	}, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode initial state: %w", err)
	}

	obs := &Observer{
		id:       uuid.New().String(),
		encoding: enc,
		ch:       make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	obs.ch <- initial
	h.observers[obs.id] = obs
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetObserversConnected(h.Count())
	}
	return obs, nil
}

// Unsubscribe removes an observer and closes its channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(obs *Observer) {
	h.mu.Lock()
	_, ok := h.observers[obs.id]
	delete(h.observers, obs.id)
	h.mu.Unlock()

	if ok {
		obs.close()
		if h.metrics != nil {
			h.metrics.SetObserversConnected(h.Count())
		}
	}
}

// Publish fans an event out to all observers.
func (h *Hub) Publish(ev consult.Event) {
	h.broadcast(Message{
		Type:  MessageRealTimeEvent,
		At:    h.timeNow(),
		Event: &ev,
	})
}

// PublishAlert fans an alert out to all observers.
func (h *Hub) PublishAlert(a alert.Alert) {
	h.broadcast(Message{
		Type:  MessageAlert,
		At:    h.timeNow(),
		Alert: &a,
	})
}

// broadcast encodes the message once per encoding in use and delivers it
// without blocking. An observer whose queue is full is disconnected; its
// failure never reaches the other observers or the publisher.
func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	targets := make([]*Observer, 0, len(h.observers))
	for _, obs := range h.observers {
		targets = append(targets, obs)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	encoded := make(map[Encoding][]byte, 2)
	var overflowed []*Observer

	for _, obs := range targets {
		data, ok := encoded[obs.encoding]
		if !ok {
			var err error
			data, err = encode(msg, obs.encoding)
			if err != nil {
				slog.Error("failed to encode broadcast message",
					"error", err,
					"encoding", string(obs.encoding),
				)
				continue
			}
			encoded[obs.encoding] = data
		}

		if queued, open := obs.send(data); open && !queued {
			overflowed = append(overflowed, obs)
		}
	}

	if h.metrics != nil {
		h.metrics.IncBroadcasts(string(msg.Type))
	}

	for _, obs := range overflowed {
		slog.Warn("observer queue overflow, disconnecting",
			"observer_id", obs.id,
		)
		if h.metrics != nil {
			h.metrics.IncDroppedObservers()
		}
		h.Unsubscribe(obs)
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
