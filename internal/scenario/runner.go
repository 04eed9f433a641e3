package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/label"
	"github.com/ppiankov/flowgate/internal/policy"
	"github.com/ppiankov/flowgate/internal/session"
)

// Run evaluates all cases against the given policy document. Each case
// gets a fresh session, so cases are independent.
func Run(s *Scenario, doc *policy.Document, hash string) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}
	for i, c := range s.Cases {
		cr := runCase(i, &c, doc, hash)
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result
}

func runCase(index int, c *Case, doc *policy.Document, hash string) CaseResult {
	cr := CaseResult{Index: index + 1, Name: c.Name}

	sess, err := session.New(session.Config{
		ExecutionID: fmt.Sprintf("scenario-%d", index),
		Policy:      doc,
		PolicyHash:  hash,
	})
	if err != nil {
		cr.Error = err.Error()
		return cr
	}

	values := make(map[string]graph.ValueID)
	calls := 0
	lookup := func(name string) (graph.ValueID, error) {
		id, ok := values[name]
		if !ok {
			return graph.NoValue, fmt.Errorf("unknown value name %q", name)
		}
		return id, nil
	}

	for si, st := range c.Steps {
		fail := func(err error) CaseResult {
			cr.Error = fmt.Sprintf("step %d: %v", si+1, err)
			return cr
		}
		switch {
		case st.Source != nil:
			labels := label.Labels{
				Integrity:       label.Integrity{Trust: label.ParseTrust(st.Source.Integrity)},
				Confidentiality: label.NewConfSet(st.Source.Confidentiality...),
			}
			id, err := sess.ValueCreated(labels)
			if err != nil {
				return fail(err)
			}
			values[st.Source.Name] = id

		case st.Op != nil:
			inputs := make([]graph.ValueID, 0, len(st.Op.Inputs))
			for _, n := range st.Op.Inputs {
				id, err := lookup(n)
				if err != nil {
					return fail(err)
				}
				inputs = append(inputs, id)
			}
			id, err := sess.OpResult(st.Op.Kind, inputs)
			if err != nil {
				return fail(err)
			}
			values[st.Op.Name] = id

		case st.Branch != nil:
			cond, err := lookup(st.Branch.Cond)
			if err != nil {
				return fail(err)
			}
			if err := sess.ControlPush(cond); err != nil {
				return fail(err)
			}

		case st.EndBranch:
			if err := sess.ControlPop(); err != nil {
				return fail(err)
			}

		case st.Write != nil:
			v, err := lookup(st.Write.Value)
			if err != nil {
				return fail(err)
			}
			if _, err := sess.WriteContainer(graph.ContainerID(st.Write.Container), v); err != nil {
				return fail(err)
			}

		case st.Read != nil:
			id, _, err := sess.ReadContainer(graph.ContainerID(st.Read.Container))
			if err != nil {
				return fail(err)
			}
			values[st.Read.Name] = id

		case st.Call != nil:
			args := make([]graph.ValueID, 0, len(st.Call.Args))
			for _, n := range st.Call.Args {
				id, err := lookup(n)
				if err != nil {
					return fail(err)
				}
				args = append(args, id)
			}
			calls++
			res, err := sess.EvaluateBoundary(fmt.Sprintf("call-%d", calls), st.Call.Tool, args)
			if err != nil {
				return fail(err)
			}
			cr.Tool = st.Call.Tool
			cr.Expected = strings.ToLower(st.Call.Expect)
			cr.Actual = string(res.Action)
			cr.RuleID = res.RuleID
			if cr.Actual != cr.Expected {
				return cr
			}

		default:
			return fail(fmt.Errorf("empty step"))
		}
	}

	cr.Passed = true
	return cr
}

// LoadFile parses a scenario YAML file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return &s, nil
}

// LoadAndRun loads a scenario YAML file and a policy document, then runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	s, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	doc, hash, err := policy.LoadFile(policyPath)
	if err != nil {
		return nil, err
	}

	result := Run(s, doc, hash)
	result.File = path
	return result, nil
}
