package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/flowgate/internal/policy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(policy.DefaultDocumentYAML()), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{PolicyPath: path})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func TestHandleCheckDeniesPII(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.handleCheck(context.Background(), nil, CheckInput{
		Tool: "send_email",
		Args: []CheckArg{{Integrity: "untrusted", Confidentiality: []string{"PII"}}},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Action != "deny" {
		t.Fatalf("action = %s, want deny", out.Action)
	}
	if out.RuleID == "" || out.PolicyHash == "" {
		t.Errorf("output missing linkage: %+v", out)
	}
}

func TestHandleCheckAllowsCleanRead(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.handleCheck(context.Background(), nil, CheckInput{
		Tool: "read_calendar",
		Args: []CheckArg{{Integrity: "trusted"}},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Action != "allow" {
		t.Fatalf("action = %s (%s), want allow", out.Action, out.RuleID)
	}
}

func TestHandleCheckUnknownToolFailsClosed(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.handleCheck(context.Background(), nil, CheckInput{Tool: "rm_rf"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Action != "deny" {
		t.Fatalf("unknown tool action = %s, want deny", out.Action)
	}
}

func TestHandlePolicyValidate(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	os.WriteFile(good, []byte(policy.DefaultDocumentYAML()), 0644)
	_, out, err := s.handlePolicyValidate(context.Background(), nil, PolicyValidateInput{Path: good})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.Valid || out.Hash == "" {
		t.Errorf("output = %+v", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("schema_version: 3"), 0644)
	result, out, err := s.handlePolicyValidate(context.Background(), nil, PolicyValidateInput{Path: bad})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.Valid || !result.IsError {
		t.Errorf("invalid policy reported valid: %+v", out)
	}
}

func TestSetPolicySwaps(t *testing.T) {
	s := newTestServer(t)
	doc, hash := s.current()

	next := *doc
	next.PolicyName = "swapped"
	s.SetPolicy(&next, "sha256:next")

	got, gotHash := s.current()
	if got.PolicyName != "swapped" || gotHash == hash {
		t.Error("policy swap did not take effect")
	}
}
