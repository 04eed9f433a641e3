package session

import (
	"testing"

	"github.com/ppiankov/flowgate/internal/authority"
	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
	"github.com/ppiankov/flowgate/internal/policy"
	"github.com/ppiankov/flowgate/internal/sink"
	"github.com/ppiankov/flowgate/internal/summary"
)

func testPolicy(strict bool) *policy.Document {
	return &policy.Document{
		SchemaVersion: policy.SchemaVersion,
		PolicyName:    "session-test",
		DefaultAction: "deny",
		StrictMode:    strict,
		Budgets:       summary.DefaultBudgets(),
		Tools: []policy.ToolPolicy{
			{
				Tool:            "send_email",
				SideEffectClass: string(policy.ExternalWrite),
				ArgRules: []policy.ArgRule{
					{Arg: "*", ForbidsConfidentiality: []string{"PII", "AUTH_SECRET"}},
				},
				DefaultDecision: "allow",
			},
			{
				Tool:            "wire_transfer",
				SideEffectClass: string(policy.ExternalWrite),
				DefaultDecision: "require_draft",
			},
			{
				Tool:            sink.LLMSinkTool,
				SideEffectClass: string(policy.LLMSink),
				ArgRules: []policy.ArgRule{
					{Arg: "*", ForbidsConfidentiality: []string{"AUTH_SECRET"}},
				},
				DefaultDecision: "allow",
			},
		},
	}
}

func newSession(t *testing.T, strict bool, cfg Config) *Session {
	t.Helper()
	cfg.Policy = testPolicy(strict)
	cfg.Subject = "agent-1"
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestPIIFlowsToEmailDenied(t *testing.T) {
	s := newSession(t, false, Config{})

	pii, err := s.ValueCreated(label.UntrustedExternal("PII"))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	greeting, err := s.ValueCreated(label.HostTrusted())
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	body, err := s.OpResult("concat", []graph.ValueID{greeting, pii})
	if err != nil {
		t.Fatalf("op: %v", err)
	}

	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{body})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionDeny {
		t.Fatalf("action = %s, want deny", res.Action)
	}

	// The decision is on the chain.
	recs := s.AuditChain().Records()
	if len(recs) != 1 || recs[0].Decision != "deny" {
		t.Fatalf("audit records = %+v", recs)
	}
	if recs[0].RuleID == "" {
		t.Error("audit record missing rule id")
	}
	if err := s.AuditChain().Verify(); err != nil {
		t.Fatalf("chain verify: %v", err)
	}
}

func TestDenyImplicatesArgumentValues(t *testing.T) {
	s := newSession(t, false, Config{})

	pii, err := s.ValueCreated(label.UntrustedExternal("PII"))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{pii})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionDeny {
		t.Fatalf("action = %s, want deny", res.Action)
	}

	found := false
	for _, id := range res.ValueIDs {
		if id == pii {
			found = true
		}
	}
	if !found {
		t.Fatalf("deny does not implicate the offending argument: %v", res.ValueIDs)
	}
	recs := s.AuditChain().Records()
	if len(recs) != 1 || len(recs[0].ValueIDs) == 0 {
		t.Errorf("audit record carries no implicated values: %+v", recs)
	}
}

func TestDeniedCallCannotReturn(t *testing.T) {
	s := newSession(t, false, Config{})

	pii, _ := s.ValueCreated(label.UntrustedExternal("PII"))
	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{pii})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionDeny {
		t.Fatalf("action = %s, want deny", res.Action)
	}

	if _, err := s.ExternalCallReturned("call-1", label.UntrustedExternal()); err == nil {
		t.Fatal("denied call still minted a result value")
	}
}

func TestStrictModeBranchTaintDeniesConstantArgs(t *testing.T) {
	s := newSession(t, true, Config{})

	secret, _ := s.ValueCreated(label.UntrustedExternal("AUTH_SECRET"))
	flag, err := s.OpResult("compare", []graph.ValueID{secret})
	if err != nil {
		t.Fatalf("op: %v", err)
	}
	if err := s.ControlPush(flag); err != nil {
		t.Fatalf("push: %v", err)
	}

	// The argument is a constant, clean by itself.
	constant, err := s.ValueCreated(label.HostTrusted())
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{constant})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionDeny {
		t.Fatalf("strict mode allowed a call conditioned on AUTH_SECRET: %s (%s)", res.Action, res.RuleID)
	}
}

func TestNormalModeBranchTaintAllowsConstantArgs(t *testing.T) {
	s := newSession(t, false, Config{})

	secret, _ := s.ValueCreated(label.UntrustedExternal("AUTH_SECRET"))
	if err := s.ControlPush(secret); err != nil {
		t.Fatalf("push: %v", err)
	}
	constant, _ := s.ValueCreated(label.HostTrusted())

	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{constant})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionAllow {
		t.Fatalf("normal mode denied a clean constant: %s (%s)", res.Action, res.RuleID)
	}
}

func TestGuestFailureUniform(t *testing.T) {
	s := newSession(t, false, Config{})
	if s.GuestFailure() != ErrExternalCallFailed {
		t.Error("guest failure is not the uniform error")
	}
}

func TestExternalCallReturnPropagates(t *testing.T) {
	s := newSession(t, false, Config{})

	arg, _ := s.ValueCreated(label.HostTrusted())
	res, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{arg})
	if err != nil || res.Action != policy.ActionAllow {
		t.Fatalf("boundary: %v %v", res, err)
	}

	result, err := s.ExternalCallReturned("call-1", label.UntrustedExternal("EMAIL"))
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	sum := s.Summarize(result)
	if !sum.Confidentiality.Contains("EMAIL") {
		t.Error("result labels lost")
	}
	if sum.Integrity.Trust != label.Untrusted {
		t.Error("external result not untrusted")
	}
}

func TestDraftLifecycle(t *testing.T) {
	s := newSession(t, false, Config{})

	arg, _ := s.ValueCreated(label.HostTrusted())
	res, err := s.EvaluateBoundary("call-1", "wire_transfer", []graph.ValueID{arg})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action != policy.ActionRequireDraft || res.DraftID == "" {
		t.Fatalf("result = %+v, want require_draft with a draft id", res)
	}

	commit, err := s.CommitDraft(res.DraftID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if commit.Action != policy.ActionAllow {
		t.Fatalf("commit action = %s", commit.Action)
	}
	if _, err := s.CommitDraft(res.DraftID); err == nil {
		t.Fatal("double commit accepted")
	}

	// Both phases audited, linked by the draft id.
	linked := 0
	for _, r := range s.AuditChain().Records() {
		if r.DraftID == res.DraftID {
			linked++
		}
	}
	if linked != 2 {
		t.Errorf("%d audited records reference the draft, want 2", linked)
	}
}

func TestDeclassifyRequiresAuthority(t *testing.T) {
	s := newSession(t, false, Config{})
	pii, _ := s.ValueCreated(label.UntrustedExternal("PII"))

	if _, err := s.Declassify(pii, "PII"); err == nil {
		t.Fatal("declassification without a token accepted")
	}
}

func TestDeclassifyWithToken(t *testing.T) {
	tok, err := authority.Mint(authority.MintRequest{
		ID:          "tok-d",
		Issuer:      "host",
		IssuerTrust: authority.HostTrusted,
		Subject:     "agent-1",
		Capability:  DeclassifyCapability,
		Scope:       []string{"PII"},
		IssuedAt:    0,
		ExpiresAt:   1 << 40,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	s := newSession(t, false, Config{Tokens: []*authority.Token{tok}})

	pii, _ := s.ValueCreated(label.UntrustedExternal("PII", "EMAIL"))
	out, err := s.Declassify(pii, "PII")
	if err != nil {
		t.Fatalf("declassify: %v", err)
	}
	sum := s.Summarize(out)
	if sum.Confidentiality.Contains("PII") {
		t.Error("tag survived declassification")
	}
	if !sum.Confidentiality.Contains("EMAIL") {
		t.Error("unrelated tag lost")
	}

	// The scoped token does not cover other tags.
	if _, err := s.Declassify(pii, "EMAIL"); err == nil {
		t.Fatal("out-of-scope declassification accepted")
	}
}

func TestDumpLoadDecisionEquivalence(t *testing.T) {
	s := newSession(t, true, Config{})

	pii, _ := s.ValueCreated(label.UntrustedExternal("PII"))
	clean, _ := s.ValueCreated(label.HostTrusted())
	mixed, err := s.OpResult("format", []graph.ValueID{pii, clean})
	if err != nil {
		t.Fatalf("op: %v", err)
	}

	before, err := s.EvaluateBoundary("call-1", "send_email", []graph.ValueID{mixed})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}

	data, err := s.DumpState()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	s2, err := LoadState(data, Config{Policy: testPolicy(true), Subject: "agent-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	after, err := s2.EvaluateBoundary("call-2", "send_email", []graph.ValueID{mixed})
	if err != nil {
		t.Fatalf("boundary after load: %v", err)
	}
	if after.Action != before.Action || after.RuleID != before.RuleID {
		t.Fatalf("decision drifted across dump/load: %s/%s vs %s/%s",
			before.Action, before.RuleID, after.Action, after.RuleID)
	}

	// The audit chain continues, not restarts.
	recs := s2.AuditChain().Records()
	if len(recs) != 2 {
		t.Fatalf("restored chain has %d records, want 2", len(recs))
	}
	if err := s2.AuditChain().Verify(); err != nil {
		t.Fatalf("restored chain verify: %v", err)
	}
}

func TestLoadRejectsPolicyMismatch(t *testing.T) {
	s := newSession(t, false, Config{})
	data, err := s.DumpState()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}

	other := testPolicy(true)
	other.PolicyName = "different"
	if _, err := LoadState(data, Config{Policy: other}); err == nil {
		t.Fatal("snapshot loaded under a different policy")
	}
}

func TestUnknownTopSurvivesDumpLoad(t *testing.T) {
	doc := testPolicy(false)
	doc.Budgets.MaxClosureSteps = 3
	s, err := New(Config{Policy: doc, Subject: "agent-1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	id, _ := s.ValueCreated(label.HostTrusted())
	for i := 0; i < 10; i++ {
		id, err = s.OpResult("concat", []graph.ValueID{id})
		if err != nil {
			t.Fatalf("op: %v", err)
		}
	}
	if !s.Summarize(id).Unknown {
		t.Fatal("deep chain did not escalate")
	}

	data, err := s.DumpState()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	s2, err := LoadState(data, Config{Policy: doc, Subject: "agent-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !s2.Summarize(id).Unknown {
		t.Fatal("unknown-top state lost across dump/load")
	}

	res, err := s2.EvaluateBoundary("call-1", "send_email", []graph.ValueID{id})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if res.Action == policy.ActionAllow {
		t.Fatal("unknown-top input allowed after restore")
	}
}

func TestLLMSinkEvaluation(t *testing.T) {
	s := newSession(t, false, Config{})

	secret, _ := s.ValueCreated(label.UntrustedExternal("AUTH_SECRET"))
	dec, res, err := s.EvaluateLLMSink("call-1", sink.Quarantined, secret, true, "sha256:abc")
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if dec != sink.Deny {
		t.Fatalf("secret payload dispatched: %s (%s)", dec, res.RuleID)
	}

	clean, _ := s.ValueCreated(label.HostTrusted())
	dec, res, err = s.EvaluateLLMSink("call-2", sink.Planner, clean, true, "sha256:def")
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if dec != sink.Allow {
		t.Fatalf("clean payload denied: %s", res.RuleID)
	}

	// Both dispatch attempts audited and linked.
	recs := s.AuditChain().Records()
	if len(recs) != 2 || recs[0].CallID != "call-1" || recs[1].CallID != "call-2" {
		t.Fatalf("audit records = %+v", recs)
	}
}

func TestAliasedContainerAcrossSession(t *testing.T) {
	s := newSession(t, false, Config{})

	v1, _ := s.ValueCreated(label.HostTrusted())
	v2, _ := s.ValueCreated(label.UntrustedExternal("PII"))

	cid := graph.ContainerID("shared-list")
	if _, err := s.WriteContainer(cid, v1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.WriteContainer(cid, v2); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ver, err := s.ReadContainer(cid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ver.Number != 2 {
		t.Fatalf("read version %d, want 2", ver.Number)
	}
	if !s.Summarize(got).Confidentiality.Contains("PII") {
		t.Error("read did not observe the second write's labels")
	}
}
