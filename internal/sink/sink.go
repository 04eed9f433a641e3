// Package sink enforces the LLM egress boundary at three points: a
// pre-dispatch policy check in the effect gateway, a transport guard at
// the adapter just before bytes leave the process, and a post-dispatch
// audit record linked to the call by execution and call ids. The guard
// is deliberately redundant with the pre-dispatch check: a payload that
// skipped redaction is blocked even if a gateway bug let it through.
package sink

import (
	"github.com/ppiankov/flowgate/internal/audit"
	"github.com/ppiankov/flowgate/internal/policy"
	"github.com/ppiankov/flowgate/internal/summary"
)

// CallPath classifies an LLM call. Planner calls carry trusted query
// decomposition; Quarantined calls transform untrusted tool output and
// never gain authority from doing so.
type CallPath string

const (
	Planner     CallPath = "planner"
	Quarantined CallPath = "quarantined"
)

// PreDispatchRequest carries what the gateway evaluates before any
// prompt content is emitted to a remote model.
type PreDispatchRequest struct {
	ExecutionID       string
	CallID            string
	Path              CallPath
	RedactionApplied  bool
	PayloadSummary    summary.Summary
	Context           summary.Context
}

// Decision is the pre-dispatch outcome.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// LLMSinkTool is the policy tool name the llm_sink signature binds to.
const LLMSinkTool = "llm_dispatch"

// PreDispatch evaluates the gateway check. Calls without required
// redaction are denied outright; otherwise the policy document decides
// on the payload's provenance summary. Anything other than an allow
// from the document denies the dispatch.
func PreDispatch(doc *policy.Document, auth policy.AuthorityChecker, req PreDispatchRequest) (Decision, policy.Result) {
	if !req.RedactionApplied {
		return Deny, policy.Result{
			Action:      policy.ActionDeny,
			RuleID:      "llm_sink.redaction_missing",
			Tool:        LLMSinkTool,
			Explanation: "payload dispatched without required redaction transforms",
		}
	}
	res := doc.Evaluate(LLMSinkTool, []summary.Summary{req.PayloadSummary}, req.Context, auth)
	if res.Action != policy.ActionAllow {
		return Deny, res
	}
	return Allow, res
}

// GuardCheck is the adapter-level transport check.
type GuardCheck struct {
	ExecutionID      string
	CallID           string
	RedactionApplied bool
}

// GuardOutcome is the transport guard result.
type GuardOutcome string

const (
	Passed  GuardOutcome = "passed"
	Blocked GuardOutcome = "blocked"
)

// TransportGuard blocks a payload whose required transforms were not
// applied. It runs in the adapter, independently of the gateway.
func TransportGuard(check GuardCheck) GuardOutcome {
	if check.RedactionApplied {
		return Passed
	}
	return Blocked
}

// AuditRecord builds the post-dispatch record for the chain. Both call
// paths emit one, allowed or not, linked by execution and call ids.
func AuditRecord(req PreDispatchRequest, res policy.Result, contentHash string) audit.Record {
	return audit.Record{
		ExecutionID: req.ExecutionID,
		CallID:      req.CallID,
		Tool:        LLMSinkTool,
		Decision:    string(res.Action),
		RuleID:      res.RuleID,
		ValueIDs:    res.ValueIDs,
		Labels:      []string{string(req.Path)},
		ContentHash: contentHash,
		Explanation: res.Explanation,
	}
}
