package summary

import "github.com/ppiankov/flowgate/internal/graph"

// WitnessNode is one value in an explanation subgraph.
type WitnessNode struct {
	ID      graph.ValueID   `json:"id"`
	Op      string          `json:"op"`
	Depth   int             `json:"depth"`
	Parents []graph.ValueID `json:"parents,omitempty"`
}

// Witness is the bounded explicit subgraph retained for explainability.
// It is distinct from the fast-path summary: the summary answers "may this
// flow", the witness answers "show me why".
type Witness struct {
	Root      graph.ValueID `json:"root"`
	Nodes     []WitnessNode `json:"nodes,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Unknown   bool          `json:"unknown,omitempty"`
}

// Witness walks the ancestry of a value up to maxDepth levels (further
// capped by the witness budget) and returns the explicit subgraph. Values
// in the unknown-top state yield an unknown witness rather than a partial
// ancestry that could be mistaken for complete.
func (e *Engine) Witness(id graph.ValueID, maxDepth int) Witness {
	if e.unknown[id] {
		return Witness{Root: id, Unknown: true}
	}
	budgetDepth := e.budgets.MaxWitnessDepth
	if maxDepth <= 0 || maxDepth > budgetDepth {
		maxDepth = budgetDepth
	}

	w := Witness{Root: id}
	type item struct {
		id    graph.ValueID
		depth int
	}
	visited := map[graph.ValueID]bool{id: true}
	queue := []item{{id: id}}
	steps := 0
	budgetBreached := false

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > e.budgets.MaxClosureSteps {
			w.Truncated = true
			budgetBreached = true
			break
		}

		op, err := e.g.Op(cur.id)
		if err != nil {
			continue
		}
		parents, err := e.g.Parents(cur.id)
		if err != nil {
			continue
		}

		n := WitnessNode{ID: cur.id, Op: op, Depth: cur.depth}
		for _, p := range parents {
			n.Parents = append(n.Parents, p.Parent)
		}
		w.Nodes = append(w.Nodes, n)

		if cur.depth+1 > maxDepth {
			if len(parents) > 0 {
				w.Truncated = true
				if maxDepth == budgetDepth {
					budgetBreached = true
				}
			}
			continue
		}
		for _, p := range parents {
			if !visited[p.Parent] {
				visited[p.Parent] = true
				queue = append(queue, item{id: p.Parent, depth: cur.depth + 1})
			}
		}
	}

	// An ancestry the full budget could not cover exceeds what analysis
	// can explain. Fail closed: pin the value at unknown-top so later
	// checks cannot allow on the strength of an unexplainable flow. A
	// caller asking for a depth below the budget gets a truncated but
	// otherwise intact witness; that is a display choice, not a breach.
	if budgetBreached {
		e.escalate(id)
		w.Unknown = true
	}
	return w
}
