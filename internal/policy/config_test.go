package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
schema_version: 1
policy_name: test
default_action: deny
strict_mode: true
budgets:
  max_values: 1000
  max_parents_per_value: 16
  max_closure_steps: 500
  max_witness_depth: 8
tools:
  - tool: send_email
    side_effect_class: external_write
    arg_rules:
      - arg: "*"
        forbids_confidentiality: [PII]
    default_decision: allow
`

func TestLoadYAMLValid(t *testing.T) {
	doc, err := LoadYAML([]byte(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.PolicyName != "test" || len(doc.Tools) != 1 {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestLoadYAMLRejectsSchemaVersion2(t *testing.T) {
	bad := strings.Replace(validYAML, "schema_version: 1", "schema_version: 2", 1)
	doc, err := LoadYAML([]byte(bad))
	var verr *UnsupportedSchemaVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want UnsupportedSchemaVersionError", err)
	}
	if verr.Found != 2 {
		t.Errorf("found = %d, want 2", verr.Found)
	}
	// Nothing partially applied.
	if doc != nil {
		t.Error("document returned despite unsupported schema")
	}
}

func TestLoadYAMLRejectsUnknownField(t *testing.T) {
	bad := validYAML + "surprise_field: true\n"
	if _, err := LoadYAML([]byte(bad)); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestLoadYAMLRejectsDefaultAllow(t *testing.T) {
	bad := strings.Replace(validYAML, "default_action: deny", "default_action: allow", 1)
	if _, err := LoadYAML([]byte(bad)); err == nil {
		t.Fatal("default_action allow accepted; unknown tools would fail open")
	}
}

func TestLoadYAMLRejectsDuplicateTools(t *testing.T) {
	bad := validYAML + `
  - tool: send_email
    side_effect_class: external_write
    default_decision: deny
`
	if _, err := LoadYAML([]byte(bad)); err == nil {
		t.Fatal("duplicate tool policy accepted")
	}
}

func TestLoadYAMLRejectsUnknownDecision(t *testing.T) {
	bad := strings.Replace(validYAML, "default_decision: allow", "default_decision: maybe", 1)
	if _, err := LoadYAML([]byte(bad)); err == nil {
		t.Fatal("unknown decision accepted")
	}
}

func TestLoadYAMLRejectsZeroBudget(t *testing.T) {
	bad := strings.Replace(validYAML, "max_closure_steps: 500", "max_closure_steps: 0", 1)
	if _, err := LoadYAML([]byte(bad)); err == nil {
		t.Fatal("zero budget accepted")
	}
}

func TestLoadJSONRejectsUnknownField(t *testing.T) {
	data := `{"schema_version":1,"policy_name":"t","default_action":"deny",
		"budgets":{"max_values":1,"max_parents_per_value":1,"max_closure_steps":1,"max_witness_depth":1},
		"tools":[],"wat":1}`
	if _, err := LoadJSON([]byte(data)); err == nil {
		t.Fatal("unknown JSON field accepted")
	}
}

func TestLoadFileHashStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatal(err)
	}
	_, h1, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, h2, _ := LoadFile(path)
	if h1 != h2 {
		t.Errorf("hash unstable: %s vs %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Errorf("hash %q missing prefix", h1)
	}
}

func TestDefaultDocumentYAMLLoads(t *testing.T) {
	doc, err := LoadYAML([]byte(DefaultDocumentYAML()))
	if err != nil {
		t.Fatalf("starter policy does not load: %v", err)
	}
	if doc.DefaultAction != "deny" {
		t.Errorf("starter default_action = %q, want deny", doc.DefaultAction)
	}
}

func TestParseActionFailClosed(t *testing.T) {
	if ParseAction("approve") != ActionDeny {
		t.Error("unknown action must parse as deny")
	}
	if ParseAction("require_draft") != ActionRequireDraft {
		t.Error("require_draft should parse")
	}
}

func FuzzLoadPolicy(f *testing.F) {
	f.Add([]byte(validYAML))
	f.Add([]byte("schema_version: 2"))
	f.Add([]byte("{"))
	f.Fuzz(func(t *testing.T, data []byte) {
		doc, err := LoadYAML(data)
		if err == nil && doc.SchemaVersion != SchemaVersion {
			t.Fatalf("accepted document with schema_version %d", doc.SchemaVersion)
		}
		if err == nil && Action(doc.DefaultAction) == ActionAllow {
			t.Fatal("accepted fail-open default_action")
		}
	})
}
