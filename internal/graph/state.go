package graph

import (
	"fmt"
	"sort"

	"github.com/ppiankov/flowgate/internal/label"
)

// ValueState is the serialized form of one value.
type ValueState struct {
	ID        ValueID       `json:"id"`
	Op        string        `json:"op"`
	Labels    *label.Labels `json:"labels,omitempty"`
	Parents   []Edge        `json:"parents,omitempty"`
	Saturated bool          `json:"saturated,omitempty"`
}

// ContainerState is the serialized version chain of one container.
type ContainerState struct {
	ID       ContainerID        `json:"id"`
	Versions []ContainerVersion `json:"versions"`
}

// State is the serialized graph, sufficient to rebuild identical value
// identities after a snapshot round trip.
type State struct {
	Values     []ValueState     `json:"values"`
	Overflow   bool             `json:"overflow,omitempty"`
	Containers []ContainerState `json:"containers,omitempty"`
}

// Export captures the full graph state in deterministic order.
func (g *Graph) Export() State {
	st := State{Overflow: g.overflow}
	for i, n := range g.nodes {
		st.Values = append(st.Values, ValueState{
			ID:        ValueID(i + 1),
			Op:        n.op,
			Labels:    n.labels,
			Parents:   append([]Edge(nil), n.parents...),
			Saturated: n.saturated,
		})
	}
	ids := make([]string, 0, len(g.containers))
	for cid := range g.containers {
		ids = append(ids, string(cid))
	}
	sort.Strings(ids)
	for _, cid := range ids {
		st.Containers = append(st.Containers, ContainerState{
			ID:       ContainerID(cid),
			Versions: append([]ContainerVersion(nil), g.containers[ContainerID(cid)].versions...),
		})
	}
	return st
}

// Restore rebuilds a graph from exported state under the given limits.
// Value ids must be dense and ordered; anything else is a corrupt snapshot.
func Restore(st State, limits Limits) (*Graph, error) {
	g := New(limits)
	g.overflow = st.Overflow
	for i, v := range st.Values {
		if v.ID != ValueID(i+1) {
			return nil, fmt.Errorf("graph: snapshot value id %d out of sequence (want %d)", v.ID, i+1)
		}
		for _, e := range v.Parents {
			if e.Parent == NoValue || e.Parent >= v.ID {
				return nil, fmt.Errorf("graph: snapshot edge %d -> %d violates ordering", e.Parent, v.ID)
			}
		}
		g.nodes = append(g.nodes, &node{
			op:        v.Op,
			labels:    v.Labels,
			parents:   append([]Edge(nil), v.Parents...),
			saturated: v.Saturated,
		})
	}
	for _, cs := range st.Containers {
		c := &container{versions: append([]ContainerVersion(nil), cs.Versions...)}
		for _, ver := range c.versions {
			if _, err := g.node(ver.Node); err != nil {
				return nil, fmt.Errorf("graph: snapshot container %q references %d: %w", cs.ID, ver.Node, err)
			}
		}
		g.containers[cs.ID] = c
	}
	return g, nil
}
