// Package apperr defines the closed error taxonomy shared by every core
// package. Transport adapters (tool dispatcher, HTTP API) map these kinds to
// their own wire representations instead of re-deriving them from bare
// fmt.Errorf text.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a machine-parsable error code from the closed set in spec §4.J/§6.
type Code string

const (
	CodeAgentNotFound       Code = "AGENT_NOT_FOUND"
	CodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	CodeMessageNotFound     Code = "MESSAGE_NOT_FOUND"
	CodeReservationNotFound Code = "RESERVATION_NOT_FOUND"
	CodeProductNotFound     Code = "PRODUCT_NOT_FOUND"
	CodeBuildSlotNotFound   Code = "BUILD_SLOT_NOT_FOUND"
	CodeCapabilityDenied    Code = "CAPABILITY_DENIED"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeReservationConflict Code = "RESERVATION_CONFLICT"
	CodeConflict            Code = "CONFLICT"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeLockTimeout         Code = "LOCK_TIMEOUT"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// NotFound carries the identifier that was looked up plus Levenshtein-ranked
// suggestions, per spec §4.E/§7.
type NotFound struct {
	Kind        string
	Identifier  string
	Suggestions []string
}

func (e *NotFound) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s not found: %q", e.Kind, e.Identifier)
	}
	return fmt.Sprintf("%s not found: %q (did you mean: %v?)", e.Kind, e.Identifier, e.Suggestions)
}

func (e *NotFound) Code() Code {
	switch e.Kind {
	case "project":
		return CodeProjectNotFound
	case "agent":
		return CodeAgentNotFound
	case "message":
		return CodeMessageNotFound
	case "reservation":
		return CodeReservationNotFound
	case "product":
		return CodeProductNotFound
	case "build_slot":
		return CodeBuildSlotNotFound
	default:
		return CodeInternal
	}
}

// Validation describes a single bad input field.
type Validation struct {
	Field      string
	Value      string
	Reason     string
	Suggestion string
}

func (e *Validation) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("invalid %s %q: %s (try: %s)", e.Field, e.Value, e.Reason, e.Suggestion)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *Validation) Code() Code { return CodeInvalidInput }

// Conflict signals a unique-constraint or concurrent state-transition failure
// (duplicate agent, build slot already held).
type Conflict struct {
	Kind    string
	Message string
}

func (e *Conflict) Error() string { return e.Message }
func (e *Conflict) Code() Code    { return CodeConflict }

// CapabilityDenied signals a mutating call attempted without the required
// capability.
type CapabilityDenied struct {
	AgentName  string
	Capability string
}

func (e *CapabilityDenied) Error() string {
	return fmt.Sprintf("agent %q lacks capability %q", e.AgentName, e.Capability)
}

func (e *CapabilityDenied) Code() Code { return CodeCapabilityDenied }

// Quota signals an attachment-size or rate-limit violation.
type Quota struct {
	Message string
}

func (e *Quota) Error() string { return e.Message }
func (e *Quota) Code() Code    { return CodeQuotaExceeded }

// LockTimeout is reserved for filesystem-lock failures; carries the PID
// holding the conflicting lock when known.
type LockTimeout struct {
	HolderPID int
	Message   string
}

func (e *LockTimeout) Error() string { return e.Message }
func (e *LockTimeout) Code() Code    { return CodeLockTimeout }

// Storage wraps a database I/O or migration failure.
type Storage struct {
	Op  string
	Err error
}

func (e *Storage) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *Storage) Unwrap() error { return e.Err }
func (e *Storage) Code() Code    { return CodeInternal }

// Archive wraps a Git archive failure.
type Archive struct {
	Op  string
	Err error
}

func (e *Archive) Error() string { return fmt.Sprintf("archive: %s: %v", e.Op, e.Err) }
func (e *Archive) Unwrap() error { return e.Err }
func (e *Archive) Code() Code    { return CodeInternal }

// Internal is the catch-all for invariant violations that should never
// surface to a caller as anything more specific.
type Internal struct {
	Message string
	Err     error
}

func (e *Internal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("internal: %s", e.Message)
}
func (e *Internal) Unwrap() error { return e.Err }
func (e *Internal) Code() Code    { return CodeInternal }

// Coder is implemented by every error type in this package.
type Coder interface {
	error
	Code() Code
}

// CodeOf extracts the machine-parsable code from err, defaulting to
// CodeInternal for errors that don't implement Coder.
func CodeOf(err error) Code {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}
