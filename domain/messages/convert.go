package messages

import (
	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/graph"
)

// NodeUpdate converts the payload into a partial model update
func (p NodePayload) NodeUpdate() graph.NodeUpdate {
	u := graph.NodeUpdate{
		ID:         p.ID,
		Category:   p.Category,
		Label:      p.Label,
		Importance: p.Importance,
		Confidence: p.Confidence,
		Attributes: p.Attributes,
	}
	if t, ok := p.RecencyTime(); ok {
		u.Recency = &t
	}
	return u
}

// EdgeUpdate converts the payload into a model update
func (p EdgePayload) EdgeUpdate() graph.EdgeUpdate {
	return graph.EdgeUpdate{
		Source: p.Source,
		Target: p.Target,
		Type:   entities.EdgeType(p.Type),
		Weight: p.Weight,
	}
}

// NodePayloadOf describes every data field of n. Kinematics and pin state
// stay local.
func NodePayloadOf(n entities.Node) NodePayload {
	category, label := n.Category, n.Label
	importance, confidence := n.Importance, n.Confidence
	p := NodePayload{
		ID:         n.ID,
		Category:   &category,
		Importance: &importance,
		Confidence: &confidence,
		Attributes: n.Attributes,
	}
	if label != "" {
		p.Label = &label
	}
	if !n.Recency.IsZero() {
		ms := Millis(n.Recency)
		p.Recency = &ms
	}
	return p
}

// EdgePayloadOf describes e
func EdgePayloadOf(e entities.Edge) EdgePayload {
	weight := e.Weight
	return EdgePayload{Source: e.Source, Target: e.Target, Weight: &weight, Type: string(e.Type)}
}
