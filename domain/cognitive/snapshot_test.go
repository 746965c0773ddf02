package cognitive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestSnapshotReplace(t *testing.T) {
	s := NewSnapshot()
	changed := s.Replace(map[string]json.RawMessage{"attention": raw(`0.5`), "memory": raw(`{"used":3}`)})
	assert.Equal(t, []string{"attention", "memory"}, changed)
	assert.Equal(t, uint64(1), s.Version())

	// Whitespace differences do not count as a change.
	changed = s.Replace(map[string]json.RawMessage{"attention": raw(`0.5`), "memory": raw(`{ "used": 3 }`)})
	assert.Empty(t, changed)
	assert.Equal(t, uint64(1), s.Version())

	changed = s.Replace(map[string]json.RawMessage{"attention": raw(`0.7`)})
	assert.Equal(t, []string{"attention", "memory"}, changed)
	assert.Equal(t, []string{"attention"}, s.Keys())
}

func TestSnapshotPatch(t *testing.T) {
	s := NewSnapshot()
	s.Replace(map[string]json.RawMessage{"attention": raw(`0.5`), "memory": raw(`1`)})

	changed := s.Patch(map[string]json.RawMessage{"attention": raw(`0.5`), "reasoning": raw(`"idle"`)}, []string{"memory", "absent"})
	assert.Equal(t, []string{"memory", "reasoning"}, changed)

	v, ok := s.Get("reasoning")
	assert.True(t, ok)
	assert.JSONEq(t, `"idle"`, string(v))
	_, ok = s.Get("memory")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}
