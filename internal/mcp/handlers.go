package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/flowgate/internal/audit"
	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
	"github.com/ppiankov/flowgate/internal/policy"
	"github.com/ppiankov/flowgate/internal/scenario"
	"github.com/ppiankov/flowgate/internal/session"
)

// --- Input/Output types ---

// CheckArg is one labeled argument for a dry-run decision.
type CheckArg struct {
	Integrity       string   `json:"integrity,omitempty" jsonschema:"integrity level (untrusted/trusted/verified)"`
	Confidentiality []string `json:"confidentiality,omitempty" jsonschema:"confidentiality tags carried by the value"`
}

// CheckInput defines parameters for the flowgate_check tool.
type CheckInput struct {
	Tool string     `json:"tool" jsonschema:"tool name the guest is about to call"`
	Args []CheckArg `json:"args,omitempty" jsonschema:"labeled argument values"`
}

// CheckOutput contains the rendered decision.
type CheckOutput struct {
	Action      string `json:"action"`
	RuleID      string `json:"rule_id"`
	Explanation string `json:"explanation,omitempty"`
	PolicyHash  string `json:"policy_hash"`
}

// ScenarioInput defines parameters for the flowgate_scenario tool.
type ScenarioInput struct {
	Path string `json:"path" jsonschema:"path to a scenario YAML file"`
}

// PolicyValidateInput defines parameters for flowgate_policy_validate.
type PolicyValidateInput struct {
	Path string `json:"path" jsonschema:"path to a policy document"`
}

// PolicyValidateOutput reports validation status and content hash.
type PolicyValidateOutput struct {
	Valid bool   `json:"valid"`
	Hash  string `json:"hash,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// AuditVerifyInput defines parameters for flowgate_audit_verify.
type AuditVerifyInput struct {
	Path string `json:"path" jsonschema:"path to a JSONL audit file"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	doc, hash := s.current()

	sess, err := session.New(session.Config{Policy: doc, PolicyHash: hash, Logger: s.log})
	if err != nil {
		return nil, CheckOutput{}, err
	}
	argIDs := make([]graph.ValueID, 0, len(input.Args))
	for _, a := range input.Args {
		id, err := sess.ValueCreated(label.Labels{
			Integrity:       label.Integrity{Trust: label.ParseTrust(a.Integrity)},
			Confidentiality: label.NewConfSet(a.Confidentiality...),
		})
		if err != nil {
			return nil, CheckOutput{}, err
		}
		argIDs = append(argIDs, id)
	}
	res, err := sess.EvaluateBoundary("mcp-check", input.Tool, argIDs)
	if err != nil {
		return nil, CheckOutput{}, err
	}

	out := CheckOutput{
		Action:      string(res.Action),
		RuleID:      res.RuleID,
		Explanation: res.Explanation,
		PolicyHash:  hash,
	}
	result := &mcpsdk.CallToolResult{IsError: res.Action == policy.ActionDeny}
	return result, out, nil
}

func (s *Server) handleScenario(ctx context.Context, req *mcpsdk.CallToolRequest, input ScenarioInput) (*mcpsdk.CallToolResult, *scenario.RunResult, error) {
	doc, hash := s.current()

	data, err := readScenario(input.Path)
	if err != nil {
		return nil, nil, err
	}
	result := scenario.Run(data, doc, hash)
	result.File = input.Path
	return &mcpsdk.CallToolResult{IsError: result.Failed > 0}, result, nil
}

func (s *Server) handlePolicyValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input PolicyValidateInput) (*mcpsdk.CallToolResult, PolicyValidateOutput, error) {
	doc, hash, err := policy.LoadFile(input.Path)
	if err != nil {
		out := PolicyValidateOutput{Error: err.Error()}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, PolicyValidateOutput{Valid: true, Hash: hash, Name: doc.PolicyName}, nil
}

func (s *Server) handleAuditVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditVerifyInput) (*mcpsdk.CallToolResult, audit.VerifyResult, error) {
	result := audit.VerifyFile(input.Path)
	return &mcpsdk.CallToolResult{IsError: !result.Valid}, result, nil
}

func readScenario(path string) (*scenario.Scenario, error) {
	s, err := scenario.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	return s, nil
}
