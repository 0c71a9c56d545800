// Package fallback turns pipeline failures into canned replies and decides
// when a conversation should be handed to human support.
package fallback

import "fmt"

// Category names a family of interchangeable canned replies.
type Category string

const (
	GeneralError         Category = "general_error"
	InputValidationError Category = "input_validation_error"
	AgentError           Category = "agent_error"
	TimeoutError         Category = "timeout_error"
	TooManyErrors        Category = "too_many_errors"
	OffTopic             Category = "off_topic"
	ProductNotAvailable  Category = "product_not_available"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	GeneralError,
	InputValidationError,
	AgentError,
	TimeoutError,
	TooManyErrors,
	OffTopic,
	ProductNotAvailable,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Failure is a processing failure the worker hands to the manager.
// The set of implementations is closed to this package.
type Failure interface {
	Category() Category
	isFailure()
}

// GeneralFailure is any orchestrator error without a more specific kind.
type GeneralFailure struct{ Err error }

// AgentFailure is an error raised by a named product agent.
type AgentFailure struct {
	Agent  string
	Detail string
}

// TimeoutFailure means the orchestrator did not answer before the deadline.
type TimeoutFailure struct{}

// EmptyReply means the orchestrator returned no text.
type EmptyReply struct{}

// InvalidInput means the message could not be understood as a request.
type InvalidInput struct{ Reason string }

func (GeneralFailure) Category() Category { return GeneralError }
func (AgentFailure) Category() Category   { return AgentError }
func (TimeoutFailure) Category() Category { return TimeoutError }
func (EmptyReply) Category() Category     { return GeneralError }
func (InvalidInput) Category() Category   { return InputValidationError }

func (GeneralFailure) isFailure() {}
func (AgentFailure) isFailure()   {}
func (TimeoutFailure) isFailure() {}
func (EmptyReply) isFailure()     {}
func (InvalidInput) isFailure()   {}

func (f GeneralFailure) String() string {
	if f.Err == nil {
		return "general failure"
	}
	return "general failure: " + f.Err.Error()
}

func (f AgentFailure) String() string {
	return fmt.Sprintf("agent %s failed: %s", f.Agent, f.Detail)
}
