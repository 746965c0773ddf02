// Package messages defines the streaming envelope and the payloads carried by it.
package messages

import (
	"encoding/json"
	"math"
	"time"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// Type identifies the kind of message carried by an envelope
type Type string

// Inbound message types
const (
	TypeNodeUpsert    Type = "node-upsert"
	TypeEdgeUpsert    Type = "edge-upsert"
	TypeNodeRemove    Type = "node-remove"
	TypeEdgeRemove    Type = "edge-remove"
	TypeSnapshotFull  Type = "snapshot-full"
	TypeSnapshotPatch Type = "snapshot-patch"
	TypeHeartbeat     Type = "heartbeat"
	TypeJobProgress   Type = "job-progress"
)

// Outbound message types
const (
	TypeSubscribe     Type = "subscribe"
	TypeResyncRequest Type = "resync-request"
	TypePublish       Type = "publish"
)

// TopicAll matches every topic when registering handlers
const TopicAll = "*"

// Envelope is the unit of the streaming channel. Immutable once received.
type Envelope struct {
	Type      Type            `json:"type" validate:"required"`
	Topic     string          `json:"topic"`
	Seq       int64           `json:"seq" validate:"gte=0"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp float64         `json:"timestamp" validate:"gte=0"`
}

// Sequenced reports whether the envelope takes part in per-topic ordering.
// A zero seq marks an unsequenced message.
func (e Envelope) Sequenced() bool {
	return e.Seq > 0
}

// Time converts the millisecond timestamp to a time.Time. A zero timestamp yields the zero time.
func (e Envelope) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(e.Timestamp / 1000)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Decode parses a raw frame into an envelope
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, pkgerrors.NewProtocolError("undecodable frame").WithCause(err)
	}
	if err := validation.Struct(env); err != nil {
		return Envelope{}, pkgerrors.NewProtocolError("invalid envelope: " + err.Error())
	}
	if env.Sequenced() && env.Topic == "" {
		return Envelope{}, pkgerrors.NewProtocolError("sequenced message without topic")
	}
	return env, nil
}

// New builds an outbound envelope with a JSON-encoded payload
func New(t Type, topic string, payload interface{}, now time.Time) (Envelope, error) {
	env := Envelope{Type: t, Topic: topic, Timestamp: Millis(now)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, pkgerrors.Wrap(err, "encode payload")
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode serialises the envelope into a frame
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Millis converts t to fractional milliseconds since the epoch
func Millis(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e6
}

// DecodePayload unmarshals and validates the payload of env into T
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, pkgerrors.NewProtocolError("missing payload").
			WithDetail("type", string(env.Type))
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, pkgerrors.NewProtocolError("malformed payload").
			WithDetail("type", string(env.Type)).
			WithCause(err)
	}
	if err := validation.Struct(out); err != nil {
		return out, pkgerrors.NewProtocolError("invalid payload: "+err.Error()).
			WithDetail("type", string(env.Type))
	}
	return out, nil
}
