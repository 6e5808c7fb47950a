// Package command implements the operator-facing command surface
// (spec.md §6): a synchronous facade over the Approval, Rebalance, Risk
// and Ingestor engines that every command names an idempotency key and
// a requester for, and that reports a stable error code plus a
// human-readable message distinct from any internal exception text
// (spec.md §7's "user-visible failures").
package command

import "fmt"

// Code is the closed set of stable, caller-facing error codes. Callers
// branch on Code, never on Error()'s message text.
type Code string

const (
	// CodeRuleNotMatched mirrors spec.md §7's RuleNotMatched: no
	// approval rule's conditions held for the request.
	CodeRuleNotMatched Code = "RuleNotMatched"

	// CodeUnsupportedReference mirrors spec.md §7's
	// UnsupportedReference: a resolved ticket pointed at a
	// reference_type the result processor does not know how to settle.
	CodeUnsupportedReference Code = "UnsupportedReference"

	// CodeValidationError covers bad input, acting on an already-acted
	// or already-terminal ticket/plan, and similar caller mistakes
	// (spec.md §7's ValidationError) — never retried.
	CodeValidationError Code = "ValidationError"

	// CodeInternal covers everything else (store/engine failures not
	// attributable to the caller's input).
	CodeInternal Code = "InternalError"
)

// Error is the stable, caller-facing error every command returns in
// place of a raw engine/store error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// Status is a command result's terminal-or-in-flight lifecycle state.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusInFlight  Status = "IN_FLIGHT"
)

// Result is the lifecycle envelope every command response embeds:
// terminal/in-flight status plus any entity IDs the command created or
// acted on (spec.md §6: "responses report the terminal or in-flight
// status and any created entity IDs").
type Result struct {
	Status    Status
	EntityIDs map[string]uint64
	Detail    string
}
