package models

// Workflow constraints.
const (
	// MaxWorkflowDepth is the maximum nesting level for child workflows.
	MaxWorkflowDepth = 10
	// MaxTasksPerWorkflow bounds the size of a single workflow graph.
	MaxTasksPerWorkflow = 1000
)

// Task timeout bounds in seconds.
const (
	DefaultTaskTimeout = 300
	MinTaskTimeout     = 1
	MaxTaskTimeout     = 3600
)

// Retry defaults.
const (
	DefaultRetryDelay      = 1
	DefaultMaxRetries      = 5
	ExponentialBackoffBase = 2
	MaxExponentialBackoff  = 300
)

// WorkflowRetentionDays is how long terminal workflows are kept before the
// retention sweep deletes them (cascading over their tasks).
const WorkflowRetentionDays = 30
