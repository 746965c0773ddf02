package entities

import (
	"fmt"
	"strings"
)

// EdgeType represents the type of relationship between nodes
type EdgeType string

const (
	// EdgeTypeRelated represents a plain association and is the default
	EdgeTypeRelated EdgeType = "related"

	// EdgeTypeSupports represents evidential support
	EdgeTypeSupports EdgeType = "supports"

	// EdgeTypeContradicts represents a conflict between beliefs
	EdgeTypeContradicts EdgeType = "contradicts"

	// EdgeTypeDerivedFrom represents an inference step
	EdgeTypeDerivedFrom EdgeType = "derived_from"

	// EdgeTypeHierarchical represents a parent-child relationship
	EdgeTypeHierarchical EdgeType = "hierarchical"

	// EdgeTypeTemporal represents a time-based connection
	EdgeTypeTemporal EdgeType = "temporal"
)

// String returns the string representation of the edge type
func (e EdgeType) String() string {
	return string(e)
}

// EdgeKey identifies an edge by its endpoints and type
type EdgeKey struct {
	Source string
	Target string
	Type   EdgeType
}

// String renders the key as "source->target#type"
func (k EdgeKey) String() string {
	return k.Source + "->" + k.Target + "#" + string(k.Type)
}

// Touches reports whether id is one of the endpoints
func (k EdgeKey) Touches(id string) bool {
	return k.Source == id || k.Target == id
}

// Other returns the endpoint opposite to id
func (k EdgeKey) Other(id string) string {
	if k.Source == id {
		return k.Target
	}
	return k.Source
}

// ParseEdgeKey parses the String form of an EdgeKey
func ParseEdgeKey(s string) (EdgeKey, error) {
	arrow := strings.Index(s, "->")
	hash := strings.LastIndex(s, "#")
	if arrow <= 0 || hash < arrow+2 {
		return EdgeKey{}, fmt.Errorf("malformed edge key %q", s)
	}
	return EdgeKey{
		Source: s[:arrow],
		Target: s[arrow+2 : hash],
		Type:   EdgeType(s[hash+1:]),
	}, nil
}

// Edge connects two nodes of the graph model
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
	Weight float64  `json:"weight"`
}

// Key returns the identity of the edge
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Type: e.Type}
}
