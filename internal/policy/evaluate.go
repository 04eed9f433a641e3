package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
	"github.com/ppiankov/flowgate/internal/summary"
)

// AuthorityChecker answers whether the execution holds a valid authority
// token granting a capability on a tool resource. A nil checker grants
// nothing.
type AuthorityChecker interface {
	HasAuthority(capability, tool string) bool
}

// Result is a rendered policy decision. Decisions are never anonymous:
// every non-allow carries the matched rule id and the implicated value
// ids. Explanations reference identifiers only, never raw argument
// content.
type Result struct {
	Action      Action          `json:"action"`
	RuleID      string          `json:"rule_id"`
	Tool        string          `json:"tool"`
	ValueIDs    []graph.ValueID `json:"value_ids,omitempty"`
	DraftID     string          `json:"draft_id,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
}

// Evaluate renders a decision for one effect boundary.
//
// The inputs are first reduced to a conservative combined summary: the
// union of all argument summaries, plus the context summary's labels in
// strict mode. Matching precedence, documented and fixed:
//
//  1. an unknown-top summary anywhere in the inputs denies outright
//     with rule id "budget.unknown_top", before any entry is consulted:
//     the denial reason is budget exhaustion, not a tag match, and no
//     rule can be trusted to have seen the full provenance;
//  2. an exact tool entry beats the wildcard "*" entry;
//  3. within the selected entry: required authority, then argument
//     rules, then context rules, then the entry's default decision;
//  4. no entry at all yields the document default action, which the
//     loader guarantees is never allow.
//
// Context rules fire only in strict mode; in normal mode the context
// summary carries no policy weight.
func (d *Document) Evaluate(tool string, args []summary.Summary, ctx summary.Context, auth AuthorityChecker) Result {
	combined := combineInputs(d.StrictMode, args, ctx)
	implicated := implicatedValues(args, ctx)

	if combined.Unknown {
		return Result{
			Action:      ActionDeny,
			RuleID:      "budget.unknown_top",
			Tool:        tool,
			ValueIDs:    implicated,
			Explanation: "provenance analysis exceeded its budget; unknown-top summaries cannot allow",
		}
	}

	tp := d.matchTool(tool)
	if tp == nil {
		return Result{
			Action:      ParseAction(d.DefaultAction),
			RuleID:      "default." + d.DefaultAction,
			Tool:        tool,
			ValueIDs:    implicated,
			Explanation: fmt.Sprintf("no policy signature for tool %q; document default %s", tool, d.DefaultAction),
		}
	}
	res := d.evaluateTool(tp, tool, combined, args, ctx, auth)
	res.ValueIDs = implicated
	return res
}

func (d *Document) matchTool(tool string) *ToolPolicy {
	var wildcard *ToolPolicy
	for i := range d.Tools {
		tp := &d.Tools[i]
		if tp.Tool == tool {
			return tp
		}
		if tp.Tool == "*" && wildcard == nil {
			wildcard = tp
		}
	}
	return wildcard
}

func (d *Document) evaluateTool(tp *ToolPolicy, tool string, combined summary.Summary, args []summary.Summary, ctx summary.Context, auth AuthorityChecker) Result {
	for _, cap := range tp.RequiredAuthority {
		if auth == nil || !auth.HasAuthority(cap, tool) {
			return Result{
				Action:      ActionDeny,
				RuleID:      ruleID(tp.Tool, "authority", cap),
				Tool:        tool,
				Explanation: fmt.Sprintf("no effective authority token grants %q on %q", cap, tool),
			}
		}
	}

	for _, ar := range tp.ArgRules {
		// Unknown-top inputs never reach this point; Evaluate denies
		// them before entry selection.
		target := combined
		if n, err := strconv.Atoi(ar.Arg); err == nil && n >= 0 && n < len(args) {
			target = args[n]
		}
		if ar.RequiresIntegrity != "" {
			required := label.ParseTrust(ar.RequiresIntegrity)
			if target.Integrity.Trust < required {
				return Result{
					Action:      ActionDeny,
					RuleID:      ruleID(tp.Tool, "arg", ar.Arg, "integrity"),
					Tool:        tool,
					Explanation: fmt.Sprintf("argument %s integrity %s is below required %s", ar.Arg, target.Integrity.Trust, ar.RequiresIntegrity),
				}
			}
		}
		if tag, hit := target.Confidentiality.ContainsAny(ar.ForbidsConfidentiality); hit {
			return Result{
				Action:      ActionDeny,
				RuleID:      ruleID(tp.Tool, "arg", ar.Arg, "confidentiality"),
				Tool:        tool,
				Explanation: fmt.Sprintf("argument %s carries forbidden confidentiality tag %s", ar.Arg, tag),
			}
		}
	}

	if cr := tp.ContextRules; cr != nil && d.StrictMode {
		if tag, hit := ctx.Labels.Confidentiality.ContainsAny(cr.ForbidConfidentiality); hit {
			return Result{
				Action:      ActionDeny,
				RuleID:      ruleID(tp.Tool, "context", "confidentiality"),
				Tool:        tool,
				Explanation: fmt.Sprintf("control context carries forbidden confidentiality tag %s", tag),
			}
		}
		if cr.DenyUntrusted && ctx.Labels.Integrity.Trust == label.Untrusted {
			return Result{
				Action:      ActionDeny,
				RuleID:      ruleID(tp.Tool, "context", "integrity"),
				Tool:        tool,
				Explanation: "control context is untrusted",
			}
		}
	}

	return Result{
		Action:      ParseAction(tp.DefaultDecision),
		RuleID:      ruleID(tp.Tool, "default", tp.DefaultDecision),
		Tool:        tool,
		Explanation: fmt.Sprintf("tool %q default decision %s", tool, tp.DefaultDecision),
	}
}

// combineInputs reduces the boundary inputs to one conservative summary.
// In strict mode the context labels join the union, so an argument rule
// also fires when the sensitivity arrived through control flow alone.
func combineInputs(strict bool, args []summary.Summary, ctx summary.Context) summary.Summary {
	sums := append([]summary.Summary(nil), args...)
	if strict {
		sums = append(sums, ctx.Labels)
	}
	if len(sums) == 0 {
		return summary.Summary{Integrity: label.Integrity{Trust: label.Trusted}}
	}
	return summary.Combine(sums...)
}

func implicatedValues(args []summary.Summary, ctx summary.Context) []graph.ValueID {
	seen := make(map[graph.ValueID]bool)
	var out []graph.ValueID
	add := func(id graph.ValueID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, a := range args {
		for _, id := range a.Deps {
			add(id)
		}
	}
	for _, id := range ctx.Controls {
		add(id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ruleID(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "*.")
		if p == "" {
			p = "all"
		}
		cleaned = append(cleaned, p)
	}
	return strings.Join(cleaned, ".")
}
