// Unified error handling for the step generation core
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import "fmt"

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Step queue errors
	ErrQueueClock    ErrorCode = "QUEUE_CLOCK"
	ErrQueueOverflow ErrorCode = "QUEUE_OVERFLOW"
	ErrQueueCompress ErrorCode = "QUEUE_COMPRESS"

	// Kinematics errors
	ErrKinematics     ErrorCode = "KINEMATICS"
	ErrKinematicsCalc ErrorCode = "KINEMATICS_CALC"

	// Motion errors
	ErrMotion ErrorCode = "MOTION"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Queue errors

// QueueClockError creates an error for a step clock scheduled in the past
func QueueClockError(oid int, clock, lastClock uint64) *HostError {
	return New(ErrQueueClock,
		fmt.Sprintf("stepper oid %d: step clock %d not after previous %d", oid, clock, lastClock)).
		SetContext("oid", oid).
		SetContext("clock", clock).
		SetContext("last_clock", lastClock)
}

// QueueOverflowError creates an error for a step outside the scheduling window
func QueueOverflowError(oid int, clock, queueClock uint64) *HostError {
	return New(ErrQueueOverflow,
		fmt.Sprintf("stepper oid %d: step clock %d exceeds scheduling window from %d", oid, clock, queueClock)).
		SetContext("oid", oid).
		SetContext("clock", clock)
}

// QueueCompressError creates an error for a failed compression pass
func QueueCompressError(oid int, reason string) *HostError {
	return New(ErrQueueCompress,
		fmt.Sprintf("stepper oid %d: %s", oid, reason)).
		SetContext("oid", oid)
}

// Kinematics errors

// KinematicsError creates a general kinematics error
func KinematicsError(message string) *HostError {
	return New(ErrKinematics, message)
}

// Runtime errors

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}
