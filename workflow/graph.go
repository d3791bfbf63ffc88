package workflow

import (
	"fmt"

	"github.com/songzhibin97/graph-engine/rules"
	"github.com/songzhibin97/graph-engine/types"
)

// ValidateGraph checks a definition before it is stored. Every failure
// wraps types.ErrInvalidGraph.
func ValidateGraph(g types.GraphDefinition) error {
	if g.ID == "" {
		return invalid("graph id cannot be empty")
	}
	if len(g.Nodes) == 0 {
		return invalid("graph %s must have at least one node", g.ID)
	}
	if _, ok := g.Nodes[g.StartNode]; !ok {
		return invalid("start node %q not found in graph %s", g.StartNode, g.ID)
	}

	for key, node := range g.Nodes {
		if node.Name != key {
			return invalid("node %q is stored under key %q", node.Name, key)
		}
		if node.Operation == "" {
			return invalid("node %q has no operation", key)
		}
		if err := validateCondition(node); err != nil {
			return err
		}
		for _, edge := range []string{node.NextNode, node.NextOnSuccess, node.NextOnFailure} {
			if edge == "" {
				continue
			}
			if _, ok := g.Nodes[edge]; !ok {
				return invalid("node %q references unknown node %q", key, edge)
			}
		}
	}
	return nil
}

// validateCondition enforces the all-or-nothing branch triple.
func validateCondition(node types.NodeConfig) error {
	if !node.Conditional() {
		if node.ConditionOp != "" || node.ConditionValue != nil {
			return invalid("node %q sets a condition operator or value without a field", node.Name)
		}
		if node.NextOnSuccess != "" || node.NextOnFailure != "" {
			return invalid("node %q sets branch targets without a condition", node.Name)
		}
		return nil
	}
	if node.ConditionOp == "" || node.ConditionValue == nil {
		return invalid("node %q condition on %q needs both an operator and a value", node.Name, node.ConditionField)
	}
	if !rules.Supported(node.ConditionOp) {
		return invalid("node %q uses unsupported operator %q", node.Name, node.ConditionOp)
	}
	return nil
}

// NormalizeGraph fills node names from their map keys when left empty.
// The input is not modified.
func NormalizeGraph(g types.GraphDefinition) types.GraphDefinition {
	nodes := make(map[string]types.NodeConfig, len(g.Nodes))
	for key, node := range g.Nodes {
		if node.Name == "" {
			node.Name = key
		}
		nodes[key] = node
	}
	g.Nodes = nodes
	return g
}

// decideNext picks the successor of node given the state it produced.
// An empty result terminates the run.
func decideNext[S types.State](evaluator rules.Evaluator, node types.NodeConfig, state S) (string, error) {
	if !node.Conditional() {
		return node.NextNode, nil
	}
	if node.ConditionValue == nil {
		return "", invalid("node %q condition on %q has no value", node.Name, node.ConditionField)
	}

	value, ok := state.Field(node.ConditionField)
	if !ok {
		return "", invalid("node %q branches on unknown state field %q", node.Name, node.ConditionField)
	}

	passed, err := evaluator.Evaluate(node.ConditionOp, value, *node.ConditionValue)
	if err != nil {
		return "", fmt.Errorf("%w: node %q: %v", types.ErrInvalidGraph, node.Name, err)
	}
	if passed {
		return node.NextOnSuccess, nil
	}
	if node.NextOnFailure != "" {
		return node.NextOnFailure, nil
	}
	return node.NextNode, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidGraph, fmt.Sprintf(format, args...))
}
