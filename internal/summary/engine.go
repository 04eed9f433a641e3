// Package summary computes bounded, O(1)-comparable approximations of a
// value's transitive provenance, and depth-capped witness subgraphs for
// explaining decisions. When any analysis budget is exceeded the summary
// transitions permanently to unknown-top, the maximally conservative
// state: it absorbs through every dependent value and can never produce
// an allow downstream.
package summary

import (
	"sort"

	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
)

// DepCap bounds the explicit contributing-id set kept in a summary.
// Past the cap the set is marked truncated; the label union stays exact.
const DepCap = 32

// Summary is the fast-path approximation of one value's provenance.
type Summary struct {
	Unknown         bool
	Integrity       label.Integrity
	Confidentiality label.ConfSet
	Authority       label.AuthSet
	Deps            []graph.ValueID // capped; sorted; includes the value itself
	Truncated       bool            // dep set hit DepCap

	labeled bool // at least one labeled ancestor merged in
}

// UnknownTop returns the absorbing most-conservative summary.
func UnknownTop() Summary {
	return Summary{Unknown: true, Integrity: label.Integrity{Trust: label.Untrusted}}
}

// merge folds one labeled contribution into the accumulator.
func (s *Summary) merge(l label.Labels) {
	if !s.labeled {
		s.Integrity = l.Integrity
		s.Confidentiality = l.Confidentiality
		s.Authority = l.Authority
		s.labeled = true
		return
	}
	s.Integrity = label.MinIntegrity(s.Integrity, l.Integrity)
	s.Confidentiality = s.Confidentiality.Union(l.Confidentiality)
	s.Authority = s.Authority.Intersect(l.Authority)
}

// Combine merges summaries conservatively: any unknown input poisons the
// result, confidentiality unions, integrity takes the minimum.
func Combine(sums ...Summary) Summary {
	var out Summary
	for _, s := range sums {
		if s.Unknown {
			return UnknownTop()
		}
		if !out.labeled {
			out = s
			out.labeled = true
			continue
		}
		out.Integrity = label.MinIntegrity(out.Integrity, s.Integrity)
		out.Confidentiality = out.Confidentiality.Union(s.Confidentiality)
		out.Authority = out.Authority.Intersect(s.Authority)
		out.Deps = mergeDeps(out.Deps, s.Deps)
		if s.Truncated || len(out.Deps) > DepCap {
			out.Truncated = true
			if len(out.Deps) > DepCap {
				out.Deps = out.Deps[:DepCap]
			}
		}
	}
	return out
}

func mergeDeps(a, b []graph.ValueID) []graph.ValueID {
	seen := make(map[graph.ValueID]bool, len(a)+len(b))
	out := make([]graph.ValueID, 0, len(a)+len(b))
	for _, id := range append(append([]graph.ValueID{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Engine computes and caches summaries over one execution's graph.
type Engine struct {
	g       *graph.Graph
	budgets Budgets
	cache   map[graph.ValueID]Summary
	unknown map[graph.ValueID]bool // absorbing unknown-top states
}

// NewEngine builds a summary engine bound to a graph. It registers the
// graph's new-edge hook so cached summaries are invalidated whenever a
// value gains incoming edges.
func NewEngine(g *graph.Graph, budgets Budgets) *Engine {
	e := &Engine{
		g:       g,
		budgets: budgets,
		cache:   make(map[graph.ValueID]Summary),
		unknown: make(map[graph.ValueID]bool),
	}
	g.OnNewEdges(e.invalidate)
	return e
}

// Budgets returns the budgets in force.
func (e *Engine) Budgets() Budgets {
	return e.budgets
}

func (e *Engine) invalidate(graph.ValueID) {
	// A late edge extends not only that value's ancestry but the
	// ancestry of everything downstream of it. Children are not
	// indexed, so the sound response is to drop the whole cache and
	// rebuild lazily. Unknown-top states are absorbing and survive.
	e.cache = make(map[graph.ValueID]Summary)
}

// MarkUnknown forces a value into the absorbing unknown-top state.
// The snapshot codec uses it to restore saturation across resume.
func (e *Engine) MarkUnknown(id graph.ValueID) {
	e.unknown[id] = true
	delete(e.cache, id)
}

// UnknownValues returns all values pinned at unknown-top, sorted.
func (e *Engine) UnknownValues() []graph.ValueID {
	out := make([]graph.ValueID, 0, len(e.unknown))
	for id := range e.unknown {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Summarize computes the bounded summary of a value's transitive
// dependencies. The traversal is breadth-first over incoming edges and
// stops the moment a budget is exceeded, escalating to unknown-top.
func (e *Engine) Summarize(id graph.ValueID) Summary {
	if e.unknown[id] {
		return UnknownTop()
	}
	if s, ok := e.cache[id]; ok {
		return s
	}

	var acc Summary
	steps := 0
	visited := map[graph.ValueID]bool{id: true}
	queue := []graph.ValueID{id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if e.unknown[cur] || e.g.Saturated(cur) {
			return e.escalate(id)
		}

		steps++
		if steps > e.budgets.MaxClosureSteps || len(visited) > e.budgets.MaxValues {
			return e.escalate(id)
		}

		l, err := e.g.Labels(cur)
		if err != nil {
			return e.escalate(id)
		}
		if l != nil {
			acc.merge(*l)
		}
		// The value itself counts as a contributor, so a decision built
		// on this summary can always name it.
		if len(acc.Deps) < DepCap {
			acc.Deps = append(acc.Deps, cur)
		} else {
			acc.Truncated = true
		}

		parents, err := e.g.Parents(cur)
		if err != nil {
			return e.escalate(id)
		}
		if len(parents) > e.budgets.MaxParentsPerValue {
			return e.escalate(id)
		}
		for _, p := range parents {
			if !visited[p.Parent] {
				visited[p.Parent] = true
				queue = append(queue, p.Parent)
			}
		}
	}

	if !acc.labeled {
		// Pure program structure with no labeled ancestry.
		acc.Integrity = label.Integrity{Trust: label.Trusted}
		acc.labeled = true
	}
	sort.Slice(acc.Deps, func(i, j int) bool { return acc.Deps[i] < acc.Deps[j] })
	e.cache[id] = acc
	return acc
}

func (e *Engine) escalate(id graph.ValueID) Summary {
	e.unknown[id] = true
	delete(e.cache, id)
	return UnknownTop()
}

// Context is the execution-context summary evaluated at effect
// boundaries: the active control dependencies, their merged labels, and
// coarse effect counters. Structurally always present; strict mode is
// what makes policy consult it.
type Context struct {
	Controls   []graph.ValueID
	Labels     Summary
	CallCounts map[string]int
}

// ContextFor summarizes the given active control values.
func (e *Engine) ContextFor(controls []graph.ValueID, callCounts map[string]int) Context {
	sums := make([]Summary, 0, len(controls))
	for _, c := range controls {
		sums = append(sums, e.Summarize(c))
	}
	ctx := Context{
		Controls:   append([]graph.ValueID(nil), controls...),
		CallCounts: callCounts,
	}
	if len(sums) > 0 {
		ctx.Labels = Combine(sums...)
	} else {
		ctx.Labels = Summary{Integrity: label.Integrity{Trust: label.Trusted}, labeled: true}
	}
	return ctx
}
