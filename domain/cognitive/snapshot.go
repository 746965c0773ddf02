// Package cognitive stores the keyed metrics published by backend subsystems.
package cognitive

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Snapshot maps a subsystem name to its latest JSON value
type Snapshot struct {
	values  map[string]json.RawMessage
	version uint64
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]json.RawMessage)}
}

// Replace swaps the whole mapping and returns every key that changed, appeared or vanished
func (s *Snapshot) Replace(values map[string]json.RawMessage) []string {
	var changed []string
	for k, old := range s.values {
		if v, ok := values[k]; !ok || !bytes.Equal(compact(old), compact(v)) {
			changed = append(changed, k)
		}
	}
	for k := range values {
		if _, ok := s.values[k]; !ok {
			changed = append(changed, k)
		}
	}

	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		next[k] = slices.Clone(v)
	}
	s.values = next
	if len(changed) > 0 {
		s.version++
	}
	slices.Sort(changed)
	return changed
}

// Patch sets and deletes individual keys and returns the keys that changed
func (s *Snapshot) Patch(set map[string]json.RawMessage, remove []string) []string {
	var changed []string
	for k, v := range set {
		if old, ok := s.values[k]; ok && bytes.Equal(compact(old), compact(v)) {
			continue
		}
		s.values[k] = slices.Clone(v)
		changed = append(changed, k)
	}
	for _, k := range remove {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			changed = append(changed, k)
		}
	}
	if len(changed) > 0 {
		s.version++
	}
	slices.Sort(changed)
	return changed
}

// Get returns the raw value for key
func (s *Snapshot) Get(key string) (json.RawMessage, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the sorted keys
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Values returns a copy of the mapping
func (s *Snapshot) Values() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		out[k] = slices.Clone(v)
	}
	return out
}

// Version increases whenever a key changes
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of keys
func (s *Snapshot) Len() int {
	return len(s.values)
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
