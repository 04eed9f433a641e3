// Package policy loads declarative policy documents and renders
// fail-closed decisions at effect boundaries. Exactly one schema version
// is accepted at a time; anything else is rejected outright, never
// coerced or partially applied.
package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/flowgate/internal/summary"
)

// SchemaVersion is the single policy schema version accepted by loaders.
const SchemaVersion = 1

// UnsupportedSchemaVersionError rejects any schema version other than
// the canonical one. It is fatal to the load call and never defaulted.
type UnsupportedSchemaVersionError struct {
	Found int
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("policy: unsupported schema_version %d; only %d is accepted", e.Found, SchemaVersion)
}

// Action is a policy outcome kind.
type Action string

const (
	ActionAllow               Action = "allow"
	ActionDeny                Action = "deny"
	ActionRequireConfirmation Action = "require_confirmation"
	ActionRequireDraft        Action = "require_draft"
)

// ParseAction maps a string to an Action. Fail-closed: unknown → Deny.
func ParseAction(s string) Action {
	switch Action(s) {
	case ActionAllow, ActionDeny, ActionRequireConfirmation, ActionRequireDraft:
		return Action(s)
	default:
		return ActionDeny
	}
}

func knownAction(s string) bool {
	switch Action(s) {
	case ActionAllow, ActionDeny, ActionRequireConfirmation, ActionRequireDraft:
		return true
	default:
		return false
	}
}

// SideEffectClass classifies a tool's externally observable effect.
type SideEffectClass string

const (
	ExternalRead  SideEffectClass = "external_read"
	ExternalWrite SideEffectClass = "external_write"
	LLMSink       SideEffectClass = "llm_sink"
)

func knownSideEffect(s string) bool {
	switch SideEffectClass(s) {
	case ExternalRead, ExternalWrite, LLMSink:
		return true
	default:
		return false
	}
}

// ArgRule constrains the summaries of a tool call's arguments.
// Arg selects a zero-based argument position, or "*" for the combined
// summary of all arguments (plus context in strict mode).
type ArgRule struct {
	Arg                    string   `yaml:"arg" json:"arg"`
	RequiresIntegrity      string   `yaml:"requires_integrity,omitempty" json:"requires_integrity,omitempty"`
	ForbidsConfidentiality []string `yaml:"forbids_confidentiality,omitempty" json:"forbids_confidentiality,omitempty"`
}

// ContextRules constrains the execution-context summary of a call.
type ContextRules struct {
	ForbidConfidentiality []string `yaml:"forbid_confidentiality,omitempty" json:"forbid_confidentiality,omitempty"`
	DenyUntrusted         bool     `yaml:"deny_untrusted,omitempty" json:"deny_untrusted,omitempty"`
}

// ToolPolicy is the per-tool policy signature. Tool "*" matches any tool
// not covered by an exact entry.
type ToolPolicy struct {
	Tool              string        `yaml:"tool" json:"tool"`
	SideEffectClass   string        `yaml:"side_effect_class" json:"side_effect_class"`
	RequiredAuthority []string      `yaml:"required_authority,omitempty" json:"required_authority,omitempty"`
	ArgRules          []ArgRule     `yaml:"arg_rules,omitempty" json:"arg_rules,omitempty"`
	ContextRules      *ContextRules `yaml:"context_rules,omitempty" json:"context_rules,omitempty"`
	DefaultDecision   string        `yaml:"default_decision" json:"default_decision"`
}

// Document is a validated policy document.
type Document struct {
	SchemaVersion int             `yaml:"schema_version" json:"schema_version"`
	PolicyName    string          `yaml:"policy_name" json:"policy_name"`
	DefaultAction string          `yaml:"default_action" json:"default_action"`
	StrictMode    bool            `yaml:"strict_mode" json:"strict_mode"`
	Budgets       summary.Budgets `yaml:"budgets" json:"budgets"`
	Tools         []ToolPolicy    `yaml:"tools" json:"tools"`
}

// LoadYAML parses and validates a policy document from YAML. Unknown
// fields and unknown schema versions are rejected.
func LoadYAML(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: parse YAML: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadJSON parses and validates a policy document from JSON.
func LoadJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: parse JSON: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile loads a policy document from disk and returns it with the
// SHA-256 hash of the raw bytes, for audit linkage. JSON is selected by
// extension; everything else parses as YAML.
func LoadFile(path string) (*Document, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy: read %s: %w", path, err)
	}
	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	var doc *Document
	if filepath.Ext(path) == ".json" {
		doc, err = LoadJSON(data)
	} else {
		doc, err = LoadYAML(data)
	}
	if err != nil {
		return nil, "", err
	}
	return doc, hash, nil
}

// validate applies the fail-closed schema contract. The schema version
// is checked first so nothing of an unknown document is interpreted.
func (d *Document) validate() error {
	if d.SchemaVersion != SchemaVersion {
		return &UnsupportedSchemaVersionError{Found: d.SchemaVersion}
	}
	if d.PolicyName == "" {
		return fmt.Errorf("policy: policy_name must not be empty")
	}
	if !knownAction(d.DefaultAction) {
		return fmt.Errorf("policy: unknown default_action %q", d.DefaultAction)
	}
	if Action(d.DefaultAction) == ActionAllow {
		return fmt.Errorf("policy: default_action allow would fail open for unknown tools")
	}
	if !d.Budgets.Valid() {
		return fmt.Errorf("policy: budgets must all be positive")
	}
	seen := make(map[string]bool, len(d.Tools))
	for i, tp := range d.Tools {
		if tp.Tool == "" {
			return fmt.Errorf("policy: tools[%d] has empty tool name", i)
		}
		if seen[tp.Tool] {
			return fmt.Errorf("policy: duplicate tool policy for %q", tp.Tool)
		}
		seen[tp.Tool] = true
		if !knownSideEffect(tp.SideEffectClass) {
			return fmt.Errorf("policy: tools[%d] has unknown side_effect_class %q", i, tp.SideEffectClass)
		}
		if !knownAction(tp.DefaultDecision) {
			return fmt.Errorf("policy: tools[%d] has unknown default_decision %q", i, tp.DefaultDecision)
		}
		for j, ar := range tp.ArgRules {
			if ar.Arg == "" {
				return fmt.Errorf("policy: tools[%d].arg_rules[%d] has empty arg selector", i, j)
			}
			switch ar.RequiresIntegrity {
			case "", "trusted", "verified":
			default:
				return fmt.Errorf("policy: tools[%d].arg_rules[%d] has unknown integrity level %q", i, j, ar.RequiresIntegrity)
			}
		}
	}
	return nil
}

// Hash returns the SHA-256 of the document's canonical JSON form, for
// policies constructed in memory rather than loaded from disk.
func (d *Document) Hash() string {
	data, err := json.Marshal(d)
	if err != nil {
		return "sha256:" + hex.EncodeToString(make([]byte, 32))
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultDocumentYAML returns a commented starter policy for init.
func DefaultDocumentYAML() string {
	return `# flowgate policy document
#
# schema_version must be exactly 1; any other version is rejected at load.
# default_action applies to tools with no matching policy signature and
# must not be "allow" (unknown tools fail closed).
schema_version: 1
policy_name: personal_assistant_default
default_action: deny
strict_mode: true

# Budgets bound provenance analysis. Exceeding any budget escalates the
# affected value to unknown-top, which can never produce an allow.
budgets:
  max_values: 100000
  max_parents_per_value: 64
  max_closure_steps: 10000
  max_witness_depth: 32

# Tool signatures. Exact tool names take precedence over "*".
tools:
  - tool: send_email
    side_effect_class: external_write
    arg_rules:
      - arg: "*"
        forbids_confidentiality: [PII, AUTH_SECRET]
    default_decision: require_confirmation
  - tool: read_calendar
    side_effect_class: external_read
    default_decision: allow
`
}
