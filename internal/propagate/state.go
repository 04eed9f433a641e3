package propagate

import (
	"sort"

	"github.com/ppiankov/flowgate/internal/graph"
)

// PendingState is the serialized form of one in-flight external call.
type PendingState struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	Args   []graph.ValueID `json:"args,omitempty"`
}

// State captures everything the engine holds outside the graph itself.
type State struct {
	Mode       Mode            `json:"mode"`
	Controls   []graph.ValueID `json:"controls,omitempty"`
	CallCounts map[string]int  `json:"call_counts,omitempty"`
	Pending    []PendingState  `json:"pending,omitempty"`
}

// Export captures engine state in deterministic order.
func (e *Engine) Export() State {
	st := State{
		Mode:       e.mode,
		Controls:   append([]graph.ValueID(nil), e.controls...),
		CallCounts: e.CallCounts(),
	}
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := e.pending[id]
		st.Pending = append(st.Pending, PendingState{CallID: id, Tool: c.Tool, Args: c.Args})
	}
	return st
}

// Restore rebuilds an engine over the given graph from exported state.
func Restore(g *graph.Graph, st State) *Engine {
	e := NewEngine(g, st.Mode)
	e.controls = append([]graph.ValueID(nil), st.Controls...)
	for k, v := range st.CallCounts {
		e.callCounts[k] = v
	}
	for _, p := range st.Pending {
		e.pending[p.CallID] = pendingCall{Tool: p.Tool, Args: append([]graph.ValueID(nil), p.Args...)}
	}
	return e
}
