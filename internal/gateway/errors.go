package gateway

import "github.com/pkg/errors"

// Typed error kinds per SPEC_FULL.md §7. Callers compare with errors.Is;
// wrapped context is added with errors.Wrap before returning.
var (
	// ErrTransientRPC covers RPC failures expected to succeed on retry.
	ErrTransientRPC = errors.New("transient rpc error")
	// ErrRPCTimeout is a context deadline on an RPC call.
	ErrRPCTimeout = errors.New("rpc timeout")
	// ErrRPCRateLimited signals the node asked the caller to back off.
	ErrRPCRateLimited = errors.New("rpc rate limited")
	// ErrReorgDropped names a tx whose block was reorged out before
	// reaching the required confirmations; no gateway path returns it.
	ErrReorgDropped = errors.New("transaction dropped by reorg")
	// ErrRejectedByPolicy is returned by Send when the key service refuses
	// to sign (per-tx/day cap, role mismatch).
	ErrRejectedByPolicy = errors.New("rejected by signer policy")
	// ErrSendTimeout is returned by Send when confirmation did not arrive
	// within the deadline.
	ErrSendTimeout = errors.New("send timeout")
	// ErrReceiptFailed is returned when a receipt lands with status 0.
	ErrReceiptFailed = errors.New("receipt status failed")
	// ErrNonceExhausted signals the signer's nonce series could not
	// advance (stuck mempool, competing sender).
	ErrNonceExhausted = errors.New("nonce exhausted")
	// ErrSimulationReverted names a dry-run call that reverts; Simulate
	// reports a revert as SimResult.Reverted with a nil error instead.
	ErrSimulationReverted = errors.New("simulation reverted")
	// ErrDecodeError covers ABI decode failures against a known event.
	ErrDecodeError = errors.New("decode error")
	// ErrUnknownEvent is returned when a log comes from a contract with no
	// registered decoder; a log whose topic0 is not in that contract's
	// ABI is reported as ErrDecodeError.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrDeadlineExceeded wraps any external call whose context deadline
	// elapsed; treated as transient unless the caller says otherwise.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// IsTransient reports whether err represents a condition that a caller's
// retry policy should treat as retryable.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrTransientRPC),
		errors.Is(err, ErrRPCTimeout),
		errors.Is(err, ErrRPCRateLimited),
		errors.Is(err, ErrDeadlineExceeded):
		return true
	default:
		return false
	}
}
