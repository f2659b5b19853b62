package flowgraph

import "errors"

var (
	ErrNodeNotFound        = errors.New("flowgraph: node not found")
	ErrUnknownNodeType     = errors.New("flowgraph: unknown node type")
	ErrInvalidData         = errors.New("flowgraph: invalid node data")
	ErrDerivedData         = errors.New("flowgraph: output node data is derived")
	ErrNotExecutable       = errors.New("flowgraph: node is not executable")
	ErrNotOutputNode       = errors.New("flowgraph: node is not an output node")
	ErrRunInProgress       = errors.New("flowgraph: run already in progress")
	ErrUserMessageRequired = errors.New("flowgraph: user message is required")
	ErrInvalidImage        = errors.New("flowgraph: invalid image")
	ErrWorkflowNotFound    = errors.New("flowgraph: workflow not found")
	ErrForbidden           = errors.New("flowgraph: workflow belongs to another owner")
	ErrSessionNotFound     = errors.New("flowgraph: session not found")
)
