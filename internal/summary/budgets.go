package summary

// Budgets bound the cost of provenance analysis. Exceeding any one of them
// escalates the affected value's summary to unknown-top; none of them ever
// silently truncates tracked dependencies.
type Budgets struct {
	MaxValues          int `yaml:"max_values" json:"max_values"`
	MaxParentsPerValue int `yaml:"max_parents_per_value" json:"max_parents_per_value"`
	MaxClosureSteps    int `yaml:"max_closure_steps" json:"max_closure_steps"`
	MaxWitnessDepth    int `yaml:"max_witness_depth" json:"max_witness_depth"`
}

// DefaultBudgets returns the budgets used when a policy does not override
// them.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxValues:          100000,
		MaxParentsPerValue: 64,
		MaxClosureSteps:    10000,
		MaxWitnessDepth:    32,
	}
}

// Valid reports whether every budget is positive.
func (b Budgets) Valid() bool {
	return b.MaxValues > 0 && b.MaxParentsPerValue > 0 && b.MaxClosureSteps > 0 && b.MaxWitnessDepth > 0
}
