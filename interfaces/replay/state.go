package replay

import (
	"encoding/json"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/graph"
	"github.com/Steake/GodelOS-sub005/domain/messages"
)

// state is the server side view of everything replayed so far. It is owned
// by the hub goroutine.
type state struct {
	model   *graph.Model
	metrics map[string]json.RawMessage
	seq     map[string]int64

	// topics that carried graph or metrics messages
	graphTopics   map[string]bool
	metricsTopics map[string]bool
}

func newState() *state {
	return &state{
		model:         graph.NewModel(),
		metrics:       map[string]json.RawMessage{},
		seq:           map[string]int64{},
		graphTopics:   map[string]bool{},
		metricsTopics: map[string]bool{},
	}
}

// current returns the last sequence number issued on topic. Sequence 1 is
// the empty state every topic starts from, so a snapshot taken before any
// frame is still a sequenced message.
func (s *state) current(topic string) int64 {
	if s.seq[topic] == 0 {
		s.seq[topic] = 1
	}
	return s.seq[topic]
}

func (s *state) next(topic string) int64 {
	seq := s.current(topic) + 1
	s.seq[topic] = seq
	return seq
}

// apply folds a replayed frame into the state
func (s *state) apply(env messages.Envelope, stamp time.Time) error {
	switch env.Type {
	case messages.TypeNodeUpsert:
		s.graphTopics[env.Topic] = true
		p, err := messages.DecodePayload[messages.NodePayload](env)
		if err != nil {
			return err
		}
		_, err = s.model.UpsertNode(p.NodeUpdate(), stamp)
		return err

	case messages.TypeEdgeUpsert:
		s.graphTopics[env.Topic] = true
		p, err := messages.DecodePayload[messages.EdgePayload](env)
		if err != nil {
			return err
		}
		_, err = s.model.UpsertEdge(p.EdgeUpdate(), stamp)
		return err

	case messages.TypeNodeRemove:
		s.graphTopics[env.Topic] = true
		p, err := messages.DecodePayload[messages.NodeRemovePayload](env)
		if err != nil {
			return err
		}
		s.model.RemoveNode(p.ID)

	case messages.TypeEdgeRemove:
		s.graphTopics[env.Topic] = true
		p, err := messages.DecodePayload[messages.EdgeRemovePayload](env)
		if err != nil {
			return err
		}
		key := entities.EdgeKey{Source: p.Source, Target: p.Target, Type: entities.EdgeType(p.Type)}
		if key.Type == "" {
			key.Type = entities.EdgeTypeRelated
		}
		s.model.RemoveEdge(key)

	case messages.TypeSnapshotFull:
		p, err := messages.DecodePayload[messages.SnapshotPayload](env)
		if err != nil {
			return err
		}
		if p.Metrics != nil {
			s.metricsTopics[env.Topic] = true
			s.metrics = p.Metrics
		}
		if p.HasGraph() {
			s.graphTopics[env.Topic] = true
			nodes := make([]graph.NodeUpdate, 0, len(p.Nodes))
			for _, n := range p.Nodes {
				nodes = append(nodes, n.NodeUpdate())
			}
			edges := make([]graph.EdgeUpdate, 0, len(p.Edges))
			for _, e := range p.Edges {
				edges = append(edges, e.EdgeUpdate())
			}
			_, err = s.model.Replace(nodes, edges, stamp)
			return err
		}

	case messages.TypeSnapshotPatch:
		s.metricsTopics[env.Topic] = true
		p, err := messages.DecodePayload[messages.PatchPayload](env)
		if err != nil {
			return err
		}
		for k, v := range p.Set {
			s.metrics[k] = v
		}
		for _, k := range p.Delete {
			delete(s.metrics, k)
		}
	}
	return nil
}

// snapshot builds the snapshot-full answering a resync request on topic
func (s *state) snapshot(topic string, now time.Time) (messages.Envelope, error) {
	var p messages.SnapshotPayload
	if s.graphTopics[topic] {
		p.Nodes = make([]messages.NodePayload, 0, s.model.NodeCount())
		for n := range s.model.Nodes() {
			p.Nodes = append(p.Nodes, messages.NodePayloadOf(n))
		}
		p.Edges = make([]messages.EdgePayload, 0, s.model.EdgeCount())
		for e := range s.model.Edges() {
			p.Edges = append(p.Edges, messages.EdgePayloadOf(e))
		}
	}
	if s.metricsTopics[topic] {
		p.Metrics = make(map[string]json.RawMessage, len(s.metrics))
		for k, v := range s.metrics {
			p.Metrics[k] = v
		}
	}

	env, err := messages.New(messages.TypeSnapshotFull, topic, p, now)
	if err != nil {
		return messages.Envelope{}, err
	}
	env.Seq = s.current(topic)
	return env, nil
}
