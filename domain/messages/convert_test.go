package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
)

func TestNodePayloadOf(t *testing.T) {
	recency := time.UnixMilli(1_700_000_000_000).UTC()
	n := entities.Node{ID: "A", Category: "belief", Importance: 0.9, Confidence: 0.2, Recency: recency}

	u := NodePayloadOf(n).NodeUpdate()
	assert.Equal(t, "A", u.ID)
	require.NotNil(t, u.Category)
	assert.Equal(t, "belief", *u.Category)
	assert.Nil(t, u.Label, "empty label is left out")
	require.NotNil(t, u.Importance)
	assert.Equal(t, 0.9, *u.Importance)
	require.NotNil(t, u.Recency)
	assert.WithinDuration(t, recency, *u.Recency, time.Millisecond)

	assert.Nil(t, NodePayloadOf(entities.Node{ID: "B"}).Recency)
}

func TestEdgePayloadOf(t *testing.T) {
	e := entities.Edge{Source: "A", Target: "B", Type: entities.EdgeTypeSupports, Weight: 0.5}
	u := EdgePayloadOf(e).EdgeUpdate()
	assert.Equal(t, e.Key(), u.Key())
	require.NotNil(t, u.Weight)
	assert.Equal(t, 0.5, *u.Weight)
}
