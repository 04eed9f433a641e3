// Package propagate turns the host VM's instrumentation events into
// dependency-graph updates. The engine is a deterministic function of
// event content and current graph state; it owns no hidden mutable state
// beyond the graph and the active control stack. In Strict mode the
// active control context is attached to every value write, so a later
// policy check can see that "whether this call happened" itself depends
// on sensitive data.
package propagate

import (
	"fmt"

	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
)

// Mode selects how control dependencies propagate.
type Mode string

const (
	Normal Mode = "normal"
	Strict Mode = "strict"
)

// ParseMode maps a string to a Mode. Fail-closed: unknown → Strict.
func ParseMode(s string) Mode {
	if s == string(Normal) {
		return Normal
	}
	return Strict
}

// CoverageGapError reports an operation that lacks IFC instrumentation.
// Propagation cannot proceed for that value; coverage gaps surface as
// structured failures, never as silent unlabeled propagation.
type CoverageGapError struct {
	Op string
}

func (e *CoverageGapError) Error() string {
	return fmt.Sprintf("propagate: operation %q lacks IFC instrumentation coverage", e.Op)
}

// instrumented is the closed set of operation kinds with propagation
// coverage. Anything else is a coverage gap.
var instrumented = map[string]bool{
	"const":       true,
	"binop":       true,
	"unop":        true,
	"compare":     true,
	"index":       true,
	"slice":       true,
	"attr":        true,
	"call":        true,
	"format":      true,
	"concat":      true,
	"contains":    true,
	"len":         true,
	"iter":        true,
	"build_list":  true,
	"build_map":   true,
	"build_tuple": true,
}

// InstrumentedOp reports whether op has propagation coverage.
func InstrumentedOp(op string) bool {
	return instrumented[op]
}

type pendingCall struct {
	Tool string          `json:"tool"`
	Args []graph.ValueID `json:"args"`
}

// Engine consumes the ordered event stream of one execution.
type Engine struct {
	mode       Mode
	g          *graph.Graph
	controls   []graph.ValueID
	callCounts map[string]int
	pending    map[string]pendingCall
}

// NewEngine creates a propagation engine over the given graph.
func NewEngine(g *graph.Graph, mode Mode) *Engine {
	return &Engine{
		mode:       mode,
		g:          g,
		callCounts: make(map[string]int),
		pending:    make(map[string]pendingCall),
	}
}

// Mode returns the propagation mode in force.
func (e *Engine) Mode() Mode {
	return e.mode
}

// controlEdges returns the strict-mode control context as edges, or nil
// in Normal mode.
func (e *Engine) controlEdges() []graph.Edge {
	if e.mode != Strict || len(e.controls) == 0 {
		return nil
	}
	edges := make([]graph.Edge, 0, len(e.controls))
	for _, c := range e.controls {
		edges = append(edges, graph.Edge{Parent: c, Role: graph.RoleControl})
	}
	return edges
}

// ValueCreated records a freshly labeled source value.
func (e *Engine) ValueCreated(labels label.Labels) (graph.ValueID, error) {
	return e.g.Record("source", &labels, e.controlEdges())
}

// OpResult records the output of an instrumented operation, with data
// edges from every input. Unsupported kinds fail with a CoverageGapError.
func (e *Engine) OpResult(op string, inputs []graph.ValueID) (graph.ValueID, error) {
	if !InstrumentedOp(op) {
		return graph.NoValue, &CoverageGapError{Op: op}
	}
	edges := make([]graph.Edge, 0, len(inputs))
	for _, in := range inputs {
		edges = append(edges, graph.Edge{Parent: in, Role: graph.RoleData})
	}
	edges = append(edges, e.controlEdges()...)
	return e.g.Record(op, nil, edges)
}

// ControlPush enters a branch governed by the given condition value.
func (e *Engine) ControlPush(cond graph.ValueID) error {
	if _, err := e.g.Op(cond); err != nil {
		return err
	}
	e.controls = append(e.controls, cond)
	return nil
}

// ControlPop leaves the innermost branch at its merge point.
func (e *Engine) ControlPop() error {
	if len(e.controls) == 0 {
		return fmt.Errorf("propagate: control pop with empty control stack")
	}
	e.controls = e.controls[:len(e.controls)-1]
	return nil
}

// ActiveControls returns a copy of the current control stack.
func (e *Engine) ActiveControls() []graph.ValueID {
	return append([]graph.ValueID(nil), e.controls...)
}

// WriteContainer records a container write, attaching the strict-mode
// control context to the new version.
func (e *Engine) WriteContainer(cid graph.ContainerID, written graph.ValueID) (graph.ContainerVersion, error) {
	return e.g.WriteContainer(cid, written, e.controlEdges())
}

// ReadContainer records a read of the container's current version.
func (e *Engine) ReadContainer(cid graph.ContainerID) (graph.ValueID, graph.ContainerVersion, error) {
	return e.g.ReadContainer(cid)
}

// ExternalCallRequested registers a pending external call. The caller
// must not resume guest execution until a policy decision is rendered;
// the session package enforces that sequencing.
func (e *Engine) ExternalCallRequested(callID, tool string, args []graph.ValueID) error {
	if callID == "" {
		return fmt.Errorf("propagate: external call with empty call id")
	}
	if _, dup := e.pending[callID]; dup {
		return fmt.Errorf("propagate: duplicate external call id %q", callID)
	}
	for _, a := range args {
		if _, err := e.g.Op(a); err != nil {
			return err
		}
	}
	e.pending[callID] = pendingCall{Tool: tool, Args: append([]graph.ValueID(nil), args...)}
	e.callCounts[tool]++
	return nil
}

// ExternalCallReturned records the result value of a previously allowed
// call. The result depends on the call's arguments, and in Strict mode on
// the control context active now.
func (e *Engine) ExternalCallReturned(callID string, labels label.Labels) (graph.ValueID, error) {
	call, ok := e.pending[callID]
	if !ok {
		return graph.NoValue, fmt.Errorf("propagate: external call return for unknown call id %q", callID)
	}
	delete(e.pending, callID)

	edges := make([]graph.Edge, 0, len(call.Args))
	for _, a := range call.Args {
		edges = append(edges, graph.Edge{Parent: a, Role: graph.RoleData})
	}
	edges = append(edges, e.controlEdges()...)
	return e.g.Record("external.result", &labels, edges)
}

// ExternalCallAborted drops a pending call that will not proceed. A
// later return for the same call id then fails instead of minting a
// result value for an effect that never happened.
func (e *Engine) ExternalCallAborted(callID string) error {
	if _, ok := e.pending[callID]; !ok {
		return fmt.Errorf("propagate: external call abort for unknown call id %q", callID)
	}
	delete(e.pending, callID)
	return nil
}

// PendingCall returns the registered call, if any.
func (e *Engine) PendingCall(callID string) (string, []graph.ValueID, bool) {
	c, ok := e.pending[callID]
	if !ok {
		return "", nil, false
	}
	return c.Tool, append([]graph.ValueID(nil), c.Args...), true
}

// CallCounts returns a copy of the per-tool call occurrence counters.
func (e *Engine) CallCounts() map[string]int {
	out := make(map[string]int, len(e.callCounts))
	for k, v := range e.callCounts {
		out[k] = v
	}
	return out
}
