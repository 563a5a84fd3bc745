// Package gwerrors defines the sentinel errors the gateway's decision
// engine can produce, plus a wrapping type that carries enough context to
// render a policy-denial response without string-matching on messages.
package gwerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per §7 error kind. Compare with errors.Is.
var (
	ErrAuthMissing   = errors.New("missing x-api-key header")
	ErrAuthInvalid   = errors.New("invalid API key")
	ErrAuthRevoked   = errors.New("API key has been revoked")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrTunnelUnknown = errors.New("invalid tunnel config")

	ErrMethodNotAllowed      = errors.New("method not allowed")
	ErrPathNotAllowed        = errors.New("path not allowed")
	ErrBadJSON               = errors.New("invalid JSON payload")
	ErrCommandNotWhitelisted = errors.New("command not in whitelist")
	ErrForbiddenKeyword      = errors.New("forbidden keyword detected")
	ErrStrictModeEmpty       = errors.New("no commands allowed in strict mode")

	ErrPipelineWrongStep  = errors.New("pipeline step out of order")
	ErrPipelineRunMissing = errors.New("pipeline run not found")
	ErrPipelineTerminal   = errors.New("pipeline run already terminal")
	ErrPipelineConfigGone = errors.New("pipeline config no longer exists")
	ErrPipelineNoSteps    = errors.New("tunnel has no pipeline steps")

	ErrNotFound = errors.New("not found")
	ErrBodyRead = errors.New("body read error")
	ErrInternal = errors.New("internal error")
)

// DecisionError carries the structured context a policy denial needs to
// render its {error, reason, tunnel, agent, expected_command?} body.
type DecisionError struct {
	Err             error
	Reason          string
	Tunnel          string
	Agent           string
	ExpectedCommand string
	ReceivedCommand string
	HasExpected     bool
}

func (e *DecisionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "denied"
}

func (e *DecisionError) Unwrap() error {
	return e.Err
}

// New builds a DecisionError wrapping a sentinel with a human-readable reason.
func New(err error, reason string) *DecisionError {
	return &DecisionError{Err: err, Reason: reason}
}

// WithTunnel sets the tunnel/agent context for the response body.
func (e *DecisionError) WithTunnel(tunnel, agent string) *DecisionError {
	e.Tunnel = tunnel
	e.Agent = agent
	return e
}

// WithExpected records the expected-vs-received command for a
// PipelineWrongStep denial.
func (e *DecisionError) WithExpected(expected, received string) *DecisionError {
	e.ExpectedCommand = expected
	e.ReceivedCommand = received
	e.HasExpected = true
	return e
}

// Op wraps an error with an operation name for logging context, mirroring
// the framework's FrameworkError shape without dragging in a Kind/ID taxonomy
// the gateway doesn't need.
type Op struct {
	Name string
	Err  error
}

func (o *Op) Error() string {
	return fmt.Sprintf("%s: %v", o.Name, o.Err)
}

func (o *Op) Unwrap() error {
	return o.Err
}

// Wrap annotates err with the operation that produced it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Op{Name: op, Err: err}
}
