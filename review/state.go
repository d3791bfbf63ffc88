// Package review implements the code review operations and the default
// review graph run by the service.
package review

import "encoding/json"

// DefaultThreshold is the quality score a submission must reach.
const DefaultThreshold = 0.8

// Branchable numeric fields of State.
const (
	FieldQualityScore  = "quality_score"
	FieldThreshold     = "threshold"
	FieldIteration     = "iteration"
	FieldIssueCount    = "issue_count"
	FieldFunctionCount = "function_count"
)

// Issue is one problem found in the reviewed source.
type Issue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// State flows through the code review graph.
type State struct {
	Code         string         `json:"code"`
	Functions    []string       `json:"functions"`
	Complexity   map[string]int `json:"complexity"`
	Issues       []Issue        `json:"issues"`
	Suggestions  []string       `json:"suggestions"`
	QualityScore float64        `json:"quality_score"`
	Threshold    float64        `json:"threshold"`
	Iter         int            `json:"iteration"`
}

// NewState returns a state for code with the default threshold.
func NewState(code string) State {
	return State{Code: code, Threshold: DefaultThreshold}
}

// UnmarshalJSON applies DefaultThreshold when the document omits it.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	decoded := plain{Threshold: DefaultThreshold}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = State(decoded)
	return nil
}

// Iteration returns how many scoring passes the state went through.
func (s State) Iteration() int {
	return s.Iter
}

// WithIteration returns a copy of s with the iteration counter set.
func (s State) WithIteration(n int) State {
	s.Iter = n
	return s
}

// Field exposes the numeric fields a graph may branch on.
func (s State) Field(name string) (float64, bool) {
	switch name {
	case FieldQualityScore:
		return s.QualityScore, true
	case FieldThreshold:
		return s.Threshold, true
	case FieldIteration:
		return float64(s.Iter), true
	case FieldIssueCount:
		return float64(len(s.Issues)), true
	case FieldFunctionCount:
		return float64(len(s.Functions)), true
	}
	return 0, false
}

// Accepted reports whether the score meets the state's own threshold.
func (s State) Accepted() bool {
	return s.QualityScore >= s.Threshold
}
