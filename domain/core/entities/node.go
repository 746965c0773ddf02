package entities

import (
	"maps"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
)

// DefaultCategory is assigned to nodes that arrive without a category
const DefaultCategory = "uncategorized"

// Node is a cognitive entity held by the graph model.
// Identity is ID; every other field is mutable through upserts.
type Node struct {
	ID         string                 `json:"id"`
	Category   string                 `json:"category"`
	Label      string                 `json:"label,omitempty"`
	Importance float64                `json:"importance"`
	Confidence float64                `json:"confidence"`
	Recency    time.Time              `json:"recency"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Kinematics are written by the layout engine only.
	Position valueobjects.Vector `json:"position"`
	Velocity valueobjects.Vector `json:"velocity"`

	// Pinned is written by the interaction layer only.
	Pinned bool `json:"pinned"`
}

// Clone returns a copy that shares no mutable state with n
func (n Node) Clone() Node {
	c := n
	if n.Attributes != nil {
		c.Attributes = maps.Clone(n.Attributes)
	}
	return c
}

// DisplayName returns the label, falling back to the id
func (n Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
