// Package scenario runs declarative YAML traces against a policy
// document: each case drives a fresh session through labeled sources,
// derived operations, branches, container writes, and external call
// boundaries, then compares the rendered decisions with expectations.
package scenario

// SourceStep creates a labeled source value bound to a name.
type SourceStep struct {
	Name            string   `yaml:"name"`
	Integrity       string   `yaml:"integrity,omitempty"`
	Confidentiality []string `yaml:"confidentiality,omitempty"`
}

// OpStep derives a value from named inputs via an instrumented op.
type OpStep struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Inputs []string `yaml:"inputs,omitempty"`
}

// BranchStep enters a branch governed by a named condition value.
type BranchStep struct {
	Cond string `yaml:"cond"`
}

// WriteStep writes a named value into a container.
type WriteStep struct {
	Container string `yaml:"container"`
	Value     string `yaml:"value"`
}

// ReadStep reads a container's current version into a new named value.
type ReadStep struct {
	Name      string `yaml:"name"`
	Container string `yaml:"container"`
}

// CallStep requests an external call and asserts the decision.
type CallStep struct {
	Tool   string   `yaml:"tool"`
	Args   []string `yaml:"args,omitempty"`
	Expect string   `yaml:"expect"`
}

// Step is one trace event. Exactly one field is set.
type Step struct {
	Source    *SourceStep `yaml:"source,omitempty"`
	Op        *OpStep     `yaml:"op,omitempty"`
	Branch    *BranchStep `yaml:"branch,omitempty"`
	EndBranch bool        `yaml:"endbranch,omitempty"`
	Write     *WriteStep  `yaml:"write,omitempty"`
	Read      *ReadStep   `yaml:"read,omitempty"`
	Call      *CallStep   `yaml:"call,omitempty"`
}

// Case is one independent trace. Each case runs in a fresh session.
type Case struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Scenario is a named collection of trace cases.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of one trace case.
type CaseResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Passed   bool   `json:"passed"`
	Tool     string `json:"tool,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
