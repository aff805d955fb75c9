// Package broadcast fans out events and alerts to connected dashboard
// observers, with a best-effort initial-state snapshot on subscribe and
// bounded per-observer buffering so one slow observer never stalls
// ingestion.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/consult"
)

// MessageType tags the wire envelope.
type MessageType string

// Wire message types.
const (
	MessageInitialState  MessageType = "initial_state"
	MessageRealTimeEvent MessageType = "real_time_event"
	MessageAlert         MessageType = "alert"
)

// Message is the application-level envelope delivered to observers.
// Exactly one of State, Event, or Alert is set, matching Type.
type Message struct {
	Type  MessageType    `json:"type" cbor:"type"`
	At    time.Time      `json:"at" cbor:"at"`
	State any            `json:"state,omitempty" cbor:"state,omitempty"`
	Event *consult.Event `json:"event,omitempty" cbor:"event,omitempty"`
	Alert *alert.Alert   `json:"alert,omitempty" cbor:"alert,omitempty"`
}

// Encoding selects the observer's wire encoding.
type Encoding string

// Supported encodings. JSON is the default; CBOR serves bandwidth-
// constrained kiosk dashboards.
const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// encode serializes a message in the given encoding.
func encode(msg Message, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingCBOR:
		return cbor.Marshal(msg)
	case EncodingJSON, "":
		return json.Marshal(msg)
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}
