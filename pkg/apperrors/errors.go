package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrCircularDependency = errors.New("circular dependency")
	ErrMaxDepthExceeded   = errors.New("max workflow nesting depth exceeded")
	ErrMaxRetryExceeded   = errors.New("max retries exceeded")
	ErrWorkflowExecution  = errors.New("workflow execution error")
)
