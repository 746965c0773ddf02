package messages

import (
	"encoding/json"
	"time"
)

// NodePayload carries a partial node. Absent fields leave the stored value untouched.
type NodePayload struct {
	ID         string                 `json:"id" validate:"required"`
	Category   *string                `json:"category,omitempty"`
	Label      *string                `json:"label,omitempty"`
	Importance *float64               `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Confidence *float64               `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Recency    *float64               `json:"recency,omitempty" validate:"omitempty,gte=0"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RecencyTime converts the millisecond recency to a time.Time
func (p NodePayload) RecencyTime() (time.Time, bool) {
	if p.Recency == nil {
		return time.Time{}, false
	}
	return Envelope{Timestamp: *p.Recency}.Time(), true
}

// EdgePayload carries an edge upsert
type EdgePayload struct {
	Source string   `json:"source" validate:"required"`
	Target string   `json:"target" validate:"required"`
	Weight *float64 `json:"weight,omitempty" validate:"omitempty,gte=0"`
	Type   string   `json:"type,omitempty"`
}

// NodeRemovePayload identifies a node to remove
type NodeRemovePayload struct {
	ID string `json:"id" validate:"required"`
}

// EdgeRemovePayload identifies an edge to remove
type EdgeRemovePayload struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Type   string `json:"type,omitempty"`
}

// SnapshotPayload replaces the graph and the cognitive snapshot wholesale.
// A nil Nodes slice means the snapshot carries metrics only.
type SnapshotPayload struct {
	Nodes   []NodePayload              `json:"nodes" validate:"dive"`
	Edges   []EdgePayload              `json:"edges" validate:"dive"`
	Metrics map[string]json.RawMessage `json:"metrics,omitempty"`
}

// HasGraph reports whether the snapshot replaces graph data
func (p SnapshotPayload) HasGraph() bool {
	return p.Nodes != nil || p.Edges != nil
}

// PatchPayload updates the cognitive snapshot incrementally
type PatchPayload struct {
	Set    map[string]json.RawMessage `json:"set,omitempty"`
	Delete []string                   `json:"delete,omitempty"`
}

// JobProgressPayload reports import job progress
type JobProgressPayload struct {
	ImportID        string  `json:"importId" validate:"required"`
	Status          string  `json:"status" validate:"required"`
	ProgressPercent float64 `json:"progressPercent" validate:"gte=0,lte=100"`
	Error           string  `json:"error,omitempty"`
}

// SubscribePayload is sent on every (re)connect
type SubscribePayload struct {
	SessionID string   `json:"sessionId"`
	Topics    []string `json:"topics"`
}

// ResyncRequestPayload asks the server for a snapshot-full on a topic
type ResyncRequestPayload struct {
	Topic   string `json:"topic"`
	LastSeq int64  `json:"lastSeq"`
}
