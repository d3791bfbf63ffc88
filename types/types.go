package types

import (
	"errors"
	"time"
)

// Error taxonomy shared by every package. Callers match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidGraph = errors.New("invalid graph")
)

// State is the value threaded through a graph. The engine only reads the
// iteration counter and the numeric field named by a node's condition.
type State interface {
	Iteration() int
	Field(name string) (float64, bool)
}

// NodeConfig describes one node of a graph.
// An empty edge means "no outgoing edge".
type NodeConfig struct {
	Name      string `json:"name" yaml:"name"`
	Operation string `json:"operation" yaml:"operation"`
	NextNode  string `json:"next_node,omitempty" yaml:"next_node,omitempty"`

	// Optional branch. Either all of field/op/value are set or none.
	ConditionField string   `json:"condition_field,omitempty" yaml:"condition_field,omitempty"`
	ConditionOp    string   `json:"condition_op,omitempty" yaml:"condition_op,omitempty"`
	ConditionValue *float64 `json:"condition_value,omitempty" yaml:"condition_value,omitempty"`
	NextOnSuccess  string   `json:"next_on_success,omitempty" yaml:"next_on_success,omitempty"`
	NextOnFailure  string   `json:"next_on_failure,omitempty" yaml:"next_on_failure,omitempty"`
}

// Conditional reports whether the node routes on a state field.
func (n NodeConfig) Conditional() bool {
	return n.ConditionField != ""
}

// GraphDefinition is a named directed graph of nodes.
type GraphDefinition struct {
	ID        string                `json:"id" yaml:"id"`
	StartNode string                `json:"start_node" yaml:"start_node"`
	Nodes     map[string]NodeConfig `json:"nodes" yaml:"nodes"`
}

// LogEntry records one executed node.
type LogEntry[S State] struct {
	Node          string    `json:"node"`
	Timestamp     time.Time `json:"timestamp"`
	StateSnapshot S         `json:"state_snapshot"`
}

// Run is the execution record of one traversal of a graph.
type Run[S State] struct {
	RunID       string        `json:"run_id"`
	GraphID     string        `json:"graph_id"`
	CurrentNode string        `json:"current_node"`
	State       S             `json:"state"`
	Log         []LogEntry[S] `json:"log"`
	Finished    bool          `json:"finished"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

// Float returns a pointer to v, handy for ConditionValue literals.
func Float(v float64) *float64 {
	return &v
}
