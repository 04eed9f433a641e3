// Package graph owns the per-execution value dependency graph: stable
// value identities, append-only dependency edges, and container version
// chains. Edges only ever point from an older value to a newer one, so the
// graph is acyclic by construction. Mutation of collections is expressed
// as new container versions, never as provenance edits.
package graph

import (
	"fmt"

	"github.com/ppiankov/flowgate/internal/label"
)

// ValueID is a process-unique, monotonically assigned value identity.
// It is minted only by the graph and stable across snapshot round trips.
type ValueID uint64

// NoValue is the zero identity; real ids start at 1.
const NoValue ValueID = 0

// EdgeRole distinguishes data dependencies from control dependencies.
type EdgeRole uint8

const (
	RoleData EdgeRole = iota
	RoleControl
)

// String returns the wire name for an edge role.
func (r EdgeRole) String() string {
	if r == RoleControl {
		return "control"
	}
	return "data"
}

// Edge is one incoming dependency of a value.
type Edge struct {
	Parent ValueID  `json:"parent"`
	Role   EdgeRole `json:"role"`
}

// Limits are the graph-level ceilings. Breaching a ceiling never blocks
// recording; it marks the affected values so that summaries escalate to
// unknown-top instead of silently truncating provenance.
type Limits struct {
	MaxValues          int
	MaxParentsPerValue int
}

type node struct {
	op        string
	labels    *label.Labels // nil for purely derived values
	parents   []Edge
	saturated bool
}

// Graph is an append-only dependency graph owned by one execution.
// It is not safe for concurrent use; the owning execution serializes
// access (see the session package).
type Graph struct {
	limits     Limits
	nodes      []*node
	overflow   bool
	containers map[ContainerID]*container
	onNewEdges func(ValueID)
}

// New creates an empty graph with the given ceilings. Zero limits mean
// unlimited.
func New(limits Limits) *Graph {
	return &Graph{
		limits:     limits,
		containers: make(map[ContainerID]*container),
	}
}

// OnNewEdges registers a hook invoked whenever a value gains incoming
// edges after creation. The summary engine uses it for cache invalidation.
func (g *Graph) OnNewEdges(fn func(ValueID)) {
	g.onNewEdges = fn
}

// Len returns the number of recorded values.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Overflowed reports whether the value ceiling has been breached.
func (g *Graph) Overflowed() bool {
	return g.overflow
}

// Record appends a value with the given operation kind, optional own
// labels (nil for purely derived values), and incoming edges. All parents
// must already exist, which is what keeps the edge set acyclic: no edge
// can reference a value created after its child.
func (g *Graph) Record(op string, labels *label.Labels, parents []Edge) (ValueID, error) {
	id := ValueID(len(g.nodes) + 1)
	for _, e := range parents {
		if e.Parent == NoValue || e.Parent >= id {
			return NoValue, fmt.Errorf("graph: edge parent %d does not precede value %d", e.Parent, id)
		}
	}

	n := &node{op: op, labels: labels, parents: append([]Edge(nil), parents...)}
	if g.limits.MaxValues > 0 && len(g.nodes) >= g.limits.MaxValues {
		g.overflow = true
	}
	if g.overflow {
		n.saturated = true
	}
	if g.limits.MaxParentsPerValue > 0 && len(n.parents) > g.limits.MaxParentsPerValue {
		n.saturated = true
	}
	g.nodes = append(g.nodes, n)
	return id, nil
}

// AddParents appends incoming edges to an existing value. Parents must
// precede the child, preserving acyclicity. The summary cache hook fires
// so stale summaries for the child are dropped.
func (g *Graph) AddParents(child ValueID, parents []Edge) error {
	n, err := g.node(child)
	if err != nil {
		return err
	}
	for _, e := range parents {
		if e.Parent == NoValue || e.Parent >= child {
			return fmt.Errorf("graph: edge parent %d does not precede value %d", e.Parent, child)
		}
	}
	n.parents = append(n.parents, parents...)
	if g.limits.MaxParentsPerValue > 0 && len(n.parents) > g.limits.MaxParentsPerValue {
		n.saturated = true
	}
	if g.onNewEdges != nil {
		g.onNewEdges(child)
	}
	return nil
}

// Parents returns the incoming edges of a value.
func (g *Graph) Parents(id ValueID) ([]Edge, error) {
	n, err := g.node(id)
	if err != nil {
		return nil, err
	}
	return append([]Edge(nil), n.parents...), nil
}

// Labels returns the value's own label contribution, or nil for derived
// values whose labels come entirely from their ancestry.
func (g *Graph) Labels(id ValueID) (*label.Labels, error) {
	n, err := g.node(id)
	if err != nil {
		return nil, err
	}
	return n.labels, nil
}

// Op returns the operation kind recorded for a value.
func (g *Graph) Op(id ValueID) (string, error) {
	n, err := g.node(id)
	if err != nil {
		return "", err
	}
	return n.op, nil
}

// Saturated reports whether a value was recorded past a ceiling. Saturated
// values force their summaries, and the summaries of everything downstream,
// to unknown-top.
func (g *Graph) Saturated(id ValueID) bool {
	n, err := g.node(id)
	if err != nil {
		return false
	}
	return n.saturated
}

func (g *Graph) node(id ValueID) (*node, error) {
	if id == NoValue || int(id) > len(g.nodes) {
		return nil, fmt.Errorf("graph: unknown value %d", id)
	}
	return g.nodes[id-1], nil
}
