// Package session ties one guest execution to its dependency graph,
// propagation engine, policy document, authority set, and audit chain.
// The session is the only legal path from an ExternalCallRequested event
// to resumed guest execution: EvaluateBoundary is a mandatory suspension
// point, and its decision is appended to the audit chain before any
// effect can proceed.
//
// A session is confined to one execution. Nothing mutable is shared
// across sessions; callers serialize access per session.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/flowgate/internal/audit"
	"github.com/ppiankov/flowgate/internal/authority"
	"github.com/ppiankov/flowgate/internal/draft"
	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
	"github.com/ppiankov/flowgate/internal/policy"
	"github.com/ppiankov/flowgate/internal/propagate"
	"github.com/ppiankov/flowgate/internal/sink"
	"github.com/ppiankov/flowgate/internal/snapshot"
	"github.com/ppiankov/flowgate/internal/summary"
)

// ErrExternalCallFailed is the single error surfaced to guest-visible
// data for any call that does not proceed. A policy deny and a genuine
// external failure are indistinguishable from inside the execution; the
// audit chain holds the real reason.
var ErrExternalCallFailed = errors.New("session: external call failed")

// DeclassifyCapability is the authority capability required to remove a
// confidentiality tag.
const DeclassifyCapability = "declassify"

// Config assembles a session. Policy is required; everything else has a
// safe zero value.
type Config struct {
	ExecutionID string
	Subject     string
	Policy      *policy.Document
	PolicyHash  string
	Tokens      []*authority.Token
	Revoked     *authority.RevocationIndex
	AuditMax    int
	AuditSink   *audit.Sink
	Logger      *zap.Logger
	Now         func() int64
}

// Session owns the complete IFC state of one execution.
type Session struct {
	id      string
	subject string
	doc     *policy.Document
	docHash string
	g       *graph.Graph
	sums    *summary.Engine
	prop    *propagate.Engine
	tokens  []*authority.Token
	revoked *authority.RevocationIndex
	chain   *audit.Chain
	drafts  *draft.Store
	log     *zap.Logger
	now     func() int64
}

// New starts a fresh session. The propagation mode and analysis budgets
// come from the policy document, so one document fully determines how
// conservative the execution is.
func New(cfg Config) (*Session, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("session: policy document is required")
	}
	if cfg.ExecutionID == "" {
		cfg.ExecutionID = "exec-" + uuid.NewString()
	}
	if cfg.PolicyHash == "" {
		cfg.PolicyHash = cfg.Policy.Hash()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}

	b := cfg.Policy.Budgets
	g := graph.New(graph.Limits{MaxValues: b.MaxValues, MaxParentsPerValue: b.MaxParentsPerValue})
	mode := propagate.Normal
	if cfg.Policy.StrictMode {
		mode = propagate.Strict
	}
	return &Session{
		id:      cfg.ExecutionID,
		subject: cfg.Subject,
		doc:     cfg.Policy,
		docHash: cfg.PolicyHash,
		g:       g,
		sums:    summary.NewEngine(g, b),
		prop:    propagate.NewEngine(g, mode),
		tokens:  append([]*authority.Token(nil), cfg.Tokens...),
		revoked: cfg.Revoked,
		chain:   audit.NewChain(cfg.ExecutionID, cfg.AuditMax, cfg.AuditSink),
		drafts:  draft.NewStore(),
		log:     cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// ID returns the execution id.
func (s *Session) ID() string { return s.id }

// PolicyHash returns the hash of the governing policy document.
func (s *Session) PolicyHash() string { return s.docHash }

// AuditChain exposes the session's audit chain for inspection.
func (s *Session) AuditChain() *audit.Chain { return s.chain }

// ValueCreated records a freshly labeled source value.
func (s *Session) ValueCreated(labels label.Labels) (graph.ValueID, error) {
	return s.prop.ValueCreated(labels)
}

// OpResult records the output of an instrumented operation.
func (s *Session) OpResult(op string, inputs []graph.ValueID) (graph.ValueID, error) {
	return s.prop.OpResult(op, inputs)
}

// ControlPush enters a branch governed by the condition value.
func (s *Session) ControlPush(cond graph.ValueID) error {
	return s.prop.ControlPush(cond)
}

// ControlPop leaves the innermost branch.
func (s *Session) ControlPop() error {
	return s.prop.ControlPop()
}

// WriteContainer records a container write.
func (s *Session) WriteContainer(cid graph.ContainerID, written graph.ValueID) (graph.ContainerVersion, error) {
	return s.prop.WriteContainer(cid, written)
}

// ReadContainer records a read of the container's current version.
func (s *Session) ReadContainer(cid graph.ContainerID) (graph.ValueID, graph.ContainerVersion, error) {
	return s.prop.ReadContainer(cid)
}

// Summarize returns the bounded provenance summary of a value.
func (s *Session) Summarize(id graph.ValueID) summary.Summary {
	return s.sums.Summarize(id)
}

// Witness returns the depth-capped explanation subgraph for a value.
func (s *Session) Witness(id graph.ValueID) summary.Witness {
	return s.sums.Witness(id, s.sums.Budgets().MaxWitnessDepth)
}

// implicate merges the boundary's own input ids into a decision's
// implicated set. Summaries name the contributing ancestry, but an
// unknown-top summary carries no deps at all; the inputs themselves
// must still be named, decisions are never anonymous.
func implicate(ids, inputs []graph.ValueID) []graph.ValueID {
	seen := make(map[graph.ValueID]bool, len(ids)+len(inputs))
	out := append([]graph.ValueID(nil), ids...)
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range inputs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checker adapts the boundary-validated token set to the policy
// engine's authority interface, binding the session subject.
type checker struct {
	v       authority.BoundaryValidation
	subject string
}

func (c checker) HasAuthority(capability, tool string) bool {
	return c.v.HasAuthority(c.subject, capability, tool)
}

// boundaryAuthority validates the token set now and audits nothing by
// itself; stripped tokens travel in the returned validation.
func (s *Session) boundaryAuthority() authority.BoundaryValidation {
	return authority.ValidateAtBoundary(s.tokens, s.revoked, s.now())
}

// EvaluateBoundary is the mandatory suspension point for an external
// call. It registers the pending call, summarizes the arguments and the
// active control context, renders the policy decision, creates a draft
// when the decision requires one, and seals an audit record. The guest
// must not resume until this returns.
func (s *Session) EvaluateBoundary(callID, tool string, argIDs []graph.ValueID) (policy.Result, error) {
	if err := s.prop.ExternalCallRequested(callID, tool, argIDs); err != nil {
		return policy.Result{}, err
	}

	args := make([]summary.Summary, 0, len(argIDs))
	for _, id := range argIDs {
		args = append(args, s.sums.Summarize(id))
	}
	ctx := s.sums.ContextFor(s.prop.ActiveControls(), s.prop.CallCounts())
	val := s.boundaryAuthority()

	res := s.doc.Evaluate(tool, args, ctx, checker{v: val, subject: s.subject})
	res.ValueIDs = implicate(res.ValueIDs, argIDs)

	switch res.Action {
	case policy.ActionRequireDraft:
		d := s.drafts.Create(tool, callID, res.RuleID, argIDs)
		res.DraftID = d.ID
	case policy.ActionDeny:
		// A denied call is over; drop its registration so a return for
		// it cannot mint a result value. Draft and confirmation
		// outcomes keep the registration, the call may still proceed.
		if err := s.prop.ExternalCallAborted(callID); err != nil {
			return policy.Result{}, err
		}
	}

	if err := s.audit(callID, tool, res, args, val); err != nil {
		return policy.Result{}, err
	}
	s.log.Debug("boundary decision",
		zap.String("execution_id", s.id),
		zap.String("call_id", callID),
		zap.String("tool", tool),
		zap.String("action", string(res.Action)),
		zap.String("rule_id", res.RuleID))
	return res, nil
}

// GuestFailure returns the uniform error a denied or failed call
// surfaces to guest-visible data.
func (s *Session) GuestFailure() error {
	return ErrExternalCallFailed
}

// ExternalCallReturned records the labeled result of a call the policy
// allowed.
func (s *Session) ExternalCallReturned(callID string, labels label.Labels) (graph.ValueID, error) {
	return s.prop.ExternalCallReturned(callID, labels)
}

// CommitDraft performs the second phase of a drafted effect. The commit
// is policy-checked again against the current state of the execution;
// only an allow consumes the draft. The audit record references the
// draft id, linking both phases.
func (s *Session) CommitDraft(draftID string) (policy.Result, error) {
	d, err := s.drafts.Get(draftID)
	if err != nil {
		return policy.Result{}, err
	}
	if d.Status != draft.StatusPending {
		return policy.Result{}, fmt.Errorf("session: draft %q already %s", draftID, d.Status)
	}

	args := make([]summary.Summary, 0, len(d.ArgIDs))
	for _, id := range d.ArgIDs {
		args = append(args, s.sums.Summarize(id))
	}
	ctx := s.sums.ContextFor(s.prop.ActiveControls(), s.prop.CallCounts())
	val := s.boundaryAuthority()

	res := s.doc.Evaluate(d.Tool, args, ctx, checker{v: val, subject: s.subject})
	if res.Action == policy.ActionRequireDraft {
		// Drafting a draft commit would loop; the commit itself is the
		// confirmation step.
		res.Action = policy.ActionAllow
	}
	res.ValueIDs = implicate(res.ValueIDs, d.ArgIDs)
	res.DraftID = d.ID

	if res.Action == policy.ActionAllow {
		if _, err := s.drafts.MarkCommitted(draftID); err != nil {
			return policy.Result{}, err
		}
	}
	if res.Action == policy.ActionDeny {
		if _, _, pending := s.prop.PendingCall(d.CallID); pending {
			if err := s.prop.ExternalCallAborted(d.CallID); err != nil {
				return policy.Result{}, err
			}
		}
	}
	if err := s.audit(d.CallID, d.Tool, res, args, val); err != nil {
		return policy.Result{}, err
	}
	return res, nil
}

// DiscardDraft abandons a pending draft.
func (s *Session) DiscardDraft(draftID string) error {
	_, err := s.drafts.Discard(draftID)
	return err
}

// Drafts lists the session's drafts.
func (s *Session) Drafts() []draft.Draft {
	return s.drafts.List()
}

// Declassify removes one confidentiality tag from a value by minting a
// new value without it. It requires an effective authority token with
// the declassify capability scoped to the tag. The new value is a fresh
// root; the audit record preserves the lineage to the source value.
func (s *Session) Declassify(id graph.ValueID, tag string) (graph.ValueID, error) {
	val := s.boundaryAuthority()
	if !val.HasAuthority(s.subject, DeclassifyCapability, tag) {
		s.auditBestEffort(audit.Record{
			CallID:      "",
			Tool:        DeclassifyCapability,
			Decision:    string(policy.ActionDeny),
			RuleID:      "declassify.authority." + tag,
			ValueIDs:    []graph.ValueID{id},
			Explanation: fmt.Sprintf("no effective token grants %s for tag %s", DeclassifyCapability, tag),
		})
		return graph.NoValue, fmt.Errorf("session: no authority to declassify tag %q", tag)
	}

	src := s.sums.Summarize(id)
	if src.Unknown {
		return graph.NoValue, fmt.Errorf("session: value %d is unknown-top and cannot be declassified", id)
	}
	labels := label.Labels{
		Integrity:       src.Integrity,
		Confidentiality: src.Confidentiality.Without(tag),
		Authority:       src.Authority,
	}
	out, err := s.g.Record("declassify", &labels, nil)
	if err != nil {
		return graph.NoValue, err
	}
	if err := s.audit("", DeclassifyCapability, policy.Result{
		Action:      policy.ActionAllow,
		RuleID:      "declassify.authority." + tag,
		Tool:        DeclassifyCapability,
		ValueIDs:    []graph.ValueID{id, out},
		Explanation: fmt.Sprintf("tag %s removed; %d derived from %d", tag, out, id),
	}, nil, val); err != nil {
		return graph.NoValue, err
	}
	return out, nil
}

// EvaluateLLMSink runs the pre-dispatch gateway check for an LLM call
// over the payload value and seals the linked audit record.
func (s *Session) EvaluateLLMSink(callID string, path sink.CallPath, payload graph.ValueID, redacted bool, contentHash string) (sink.Decision, policy.Result, error) {
	req := sink.PreDispatchRequest{
		ExecutionID:      s.id,
		CallID:           callID,
		Path:             path,
		RedactionApplied: redacted,
		PayloadSummary:   s.sums.Summarize(payload),
		Context:          s.sums.ContextFor(s.prop.ActiveControls(), s.prop.CallCounts()),
	}
	val := s.boundaryAuthority()
	dec, res := sink.PreDispatch(s.doc, checker{v: val, subject: s.subject}, req)

	rec := sink.AuditRecord(req, res, contentHash)
	rec.ValueIDs = implicate(rec.ValueIDs, []graph.ValueID{payload})
	rec.PolicyHash = s.docHash
	if _, err := s.chain.Append(rec); err != nil {
		return sink.Deny, policy.Result{}, err
	}
	return dec, res, nil
}

// audit seals one boundary decision onto the chain. The record carries
// ids, tags, and hashes only.
func (s *Session) audit(callID, tool string, res policy.Result, args []summary.Summary, val authority.BoundaryValidation) error {
	var tags []string
	if len(args) > 0 {
		combined := summary.Combine(args...)
		tags = append([]string(nil), combined.Confidentiality...)
	}
	for _, inv := range val.Invalid {
		tags = append(tags, "token_"+string(inv.Reason)+":"+inv.ID)
	}
	_, err := s.chain.Append(audit.Record{
		CallID:      callID,
		Tool:        tool,
		Decision:    string(res.Action),
		RuleID:      res.RuleID,
		ValueIDs:    res.ValueIDs,
		Labels:      tags,
		PolicyHash:  s.docHash,
		DraftID:     res.DraftID,
		Explanation: res.Explanation,
	})
	return err
}

func (s *Session) auditBestEffort(r audit.Record) {
	r.PolicyHash = s.docHash
	if _, err := s.chain.Append(r); err != nil {
		s.log.Warn("audit append failed", zap.Error(err))
	}
}

// DumpState serializes the session for suspension. The summary cache is
// not persisted; summaries are recomputed on resume, except the
// absorbing unknown-top set, which travels explicitly.
func (s *Session) DumpState() ([]byte, error) {
	ids := make([]string, 0, len(s.tokens))
	for _, t := range s.tokens {
		ids = append(ids, t.ID)
	}
	return snapshot.Encode(snapshot.State{
		ExecutionID: s.id,
		PolicyHash:  s.docHash,
		Budgets:     s.sums.Budgets(),
		Graph:       s.g.Export(),
		Propagate:   s.prop.Export(),
		Audit:       s.chain.Export(),
		Drafts:      s.drafts.Export(),
		Unknown:     s.sums.UnknownValues(),
		TokenIDs:    ids,
	})
}

// LoadState resumes a suspended execution. The caller supplies the same
// policy document (verified by hash) and the current token set; tokens
// that expired or were revoked during suspension are stripped before the
// first post-resume decision.
func LoadState(data []byte, cfg Config) (*Session, error) {
	st, err := snapshot.Decode(data)
	if err != nil {
		return nil, err
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("session: policy document is required")
	}
	if cfg.PolicyHash == "" {
		cfg.PolicyHash = cfg.Policy.Hash()
	}
	if st.PolicyHash != "" && st.PolicyHash != cfg.PolicyHash {
		return nil, fmt.Errorf("session: snapshot policy hash %s does not match supplied %s", st.PolicyHash, cfg.PolicyHash)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}

	g, err := graph.Restore(st.Graph, graph.Limits{
		MaxValues:          st.Budgets.MaxValues,
		MaxParentsPerValue: st.Budgets.MaxParentsPerValue,
	})
	if err != nil {
		return nil, err
	}
	sums := summary.NewEngine(g, st.Budgets)
	for _, id := range st.Unknown {
		sums.MarkUnknown(id)
	}

	chain, err := audit.Restore(st.ExecutionID, st.Audit, cfg.AuditMax, cfg.AuditSink)
	if err != nil {
		return nil, err
	}

	val := authority.RevalidateOnRestore(cfg.Tokens, cfg.Revoked, cfg.Now())
	for _, inv := range val.Invalid {
		cfg.Logger.Info("token stripped on restore",
			zap.String("token_id", inv.ID),
			zap.String("reason", string(inv.Reason)))
	}

	return &Session{
		id:      st.ExecutionID,
		subject: cfg.Subject,
		doc:     cfg.Policy,
		docHash: cfg.PolicyHash,
		g:       g,
		sums:    sums,
		prop:    propagate.Restore(g, st.Propagate),
		tokens:  val.Effective,
		revoked: cfg.Revoked,
		chain:   chain,
		drafts:  draft.Restore(st.Drafts),
		log:     cfg.Logger,
		now:     cfg.Now,
	}, nil
}
