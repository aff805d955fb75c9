package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/consult"
)

// stubSnapshot returns a fixed initial state.
type stubSnapshot struct {
	state any
	err   error
}

func (s *stubSnapshot) Snapshot(_ context.Context) (any, error) {
	return s.state, s.err
}

func testEvent(sessionID string) consult.Event {
	return consult.Event{
		ID:        "ev-1",
		Type:      consult.EventFaceAnalysis,
		SessionID: sessionID,
		At:        time.Now(),
		Payload:   consult.FaceAnalysisPayload{FaceShape: "oval", Confidence: 0.9},
	}
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Expected valid JSON, got error %v", err)
	}
	return m
}

func TestHub_FirstMessageIsInitialState(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{state: map[string]any{"active_sessions": 3}}})

	// Publish before subscribing; the new observer must never see it.
	hub.Publish(testEvent("s0"))

	obs, err := hub.Subscribe(context.Background(), SubscribeOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer hub.Unsubscribe(obs)

	select {
	case data := <-obs.Messages():
		msg := decodeJSON(t, data)
		if msg["type"] != string(MessageInitialState) {
			t.Fatalf("Expected first message %s, got %v", MessageInitialState, msg["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("Expected initial state message")
	}

	// Nothing else may be queued.
	select {
	case data := <-obs.Messages():
		t.Fatalf("Expected no pre-subscription events, got %s", data)
	default:
	}
}

func TestHub_PublishReachesAllObservers(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}})

	ctx := context.Background()
	a, _ := hub.Subscribe(ctx, SubscribeOptions{})
	b, _ := hub.Subscribe(ctx, SubscribeOptions{})
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	// Drain the initial snapshots.
	<-a.Messages()
	<-b.Messages()

	hub.Publish(testEvent("s1"))

	for _, obs := range []*Observer{a, b} {
		select {
		case data := <-obs.Messages():
			msg := decodeJSON(t, data)
			if msg["type"] != string(MessageRealTimeEvent) {
				t.Errorf("Expected real_time_event, got %v", msg["type"])
			}
		case <-time.After(time.Second):
			t.Fatal("Expected event delivery")
		}
	}
}

func TestHub_PublishAlert(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}})

	obs, _ := hub.Subscribe(context.Background(), SubscribeOptions{})
	defer hub.Unsubscribe(obs)
	<-obs.Messages()

	hub.PublishAlert(alert.Alert{
		ID:        "a-1",
		Type:      alert.TypeLowFaceAnalysisAccuracy,
		Value:     0.5,
		Threshold: 0.7,
		SessionID: "s1",
		At:        time.Now(),
	})

	select {
	case data := <-obs.Messages():
		msg := decodeJSON(t, data)
		if msg["type"] != string(MessageAlert) {
			t.Fatalf("Expected alert message, got %v", msg["type"])
		}
		inner, ok := msg["alert"].(map[string]any)
		if !ok {
			t.Fatalf("Expected alert body, got %v", msg["alert"])
		}
		if inner["value"] != 0.5 {
			t.Errorf("Expected value 0.5, got %v", inner["value"])
		}
	case <-time.After(time.Second):
		t.Fatal("Expected alert delivery")
	}
}

func TestHub_SlowObserverIsDroppedInIsolation(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}, BufferSize: 2})

	ctx := context.Background()
	slow, _ := hub.Subscribe(ctx, SubscribeOptions{})
	fast, _ := hub.Subscribe(ctx, SubscribeOptions{})
	<-fast.Messages()

	// The slow observer never drains: its queue holds the snapshot plus one
	// event; the next publish overflows it.
	for i := 0; i < 5; i++ {
		hub.Publish(testEvent("s1"))
		// Keep the fast observer draining.
		select {
		case <-fast.Messages():
		case <-time.After(time.Second):
			t.Fatal("Fast observer starved by slow observer")
		}
	}

	if hub.Count() != 1 {
		t.Errorf("Expected slow observer dropped, count=%d", hub.Count())
	}

	// The dropped observer's channel must be closed after draining.
	for {
		if _, ok := <-slow.Messages(); !ok {
			break
		}
	}
}

func TestHub_UnsubscribeDuringPublish(t *testing.T) {
	// Tiny buffers force the overflow path while observers churn, so
	// publishers keep racing unsubscribes. A send after close would panic
	// and fail the run.
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}, BufferSize: 1})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish(testEvent("s1"))
				}
			}
		}()
	}

	for i := 0; i < 300; i++ {
		obs, err := hub.Subscribe(context.Background(), SubscribeOptions{})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		hub.Unsubscribe(obs)
	}

	close(stop)
	wg.Wait()

	if hub.Count() != 0 {
		t.Errorf("Expected 0 observers after churn, got %d", hub.Count())
	}
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}})

	obs, _ := hub.Subscribe(context.Background(), SubscribeOptions{})
	hub.Unsubscribe(obs)
	hub.Unsubscribe(obs)

	if hub.Count() != 0 {
		t.Errorf("Expected 0 observers, got %d", hub.Count())
	}
}

func TestHub_CBOREncoding(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{}})

	obs, err := hub.Subscribe(context.Background(), SubscribeOptions{Encoding: EncodingCBOR})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer hub.Unsubscribe(obs)

	data := <-obs.Messages()
	var msg map[string]any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Expected valid CBOR, got %v", err)
	}
	if msg["type"] != string(MessageInitialState) {
		t.Errorf("Expected initial_state, got %v", msg["type"])
	}
}

func TestHub_SnapshotFailureDegrades(t *testing.T) {
	hub := NewHub(HubConfig{Snapshot: &stubSnapshot{err: context.DeadlineExceeded}})

	obs, err := hub.Subscribe(context.Background(), SubscribeOptions{})
	if err != nil {
		t.Fatalf("Snapshot failure must not refuse subscription, got %v", err)
	}
	defer hub.Unsubscribe(obs)

	data := <-obs.Messages()
	msg := decodeJSON(t, data)
	if msg["type"] != string(MessageInitialState) {
		t.Errorf("Expected degraded initial state, got %v", msg["type"])
	}
}
