package review

import (
	"github.com/songzhibin97/graph-engine/types"
	"github.com/songzhibin97/graph-engine/workflow"
)

// DefaultGraphID identifies the graph returned by DefaultGraph.
const DefaultGraphID = "code_review_default"

// Register adds the review operations to reg.
func Register(reg *workflow.Registry[State]) error {
	ops := map[string]workflow.Operation[State]{
		OpExtractFunctions: ExtractFunctions,
		OpCheckComplexity:  CheckComplexity,
		OpDetectIssues:     DetectIssues,
		OpSuggest:          SuggestImprovements,
	}
	for name, op := range ops {
		if err := reg.Register(name, op); err != nil {
			return err
		}
	}
	return nil
}

// DefaultGraph runs one review pass and finishes. The final node carries a
// quality_score >= threshold condition with no targets, so both outcomes end
// the run and a caller decides whether to resubmit.
func DefaultGraph() types.GraphDefinition {
	return types.GraphDefinition{
		ID:        DefaultGraphID,
		StartNode: "extract",
		Nodes: map[string]types.NodeConfig{
			"extract": {
				Name:      "extract",
				Operation: OpExtractFunctions,
				NextNode:  "complexity",
			},
			"complexity": {
				Name:      "complexity",
				Operation: OpCheckComplexity,
				NextNode:  "issues",
			},
			"issues": {
				Name:      "issues",
				Operation: OpDetectIssues,
				NextNode:  "suggest",
			},
			"suggest": {
				Name:           "suggest",
				Operation:      OpSuggest,
				ConditionField: FieldQualityScore,
				ConditionOp:    ">=",
				ConditionValue: types.Float(DefaultThreshold),
			},
		},
	}
}
