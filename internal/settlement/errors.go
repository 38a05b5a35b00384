package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The settlement error taxonomy. Every type answers Retryable(), and the single
// most important contract in this package is the distinction it encodes:
// "nothing happened, you may retry" versus "something may have happened, poll
// the record instead of resubmitting". Resubmitting a transfer that actually
// reached the chain is a double-spend.

type ValidationReason string

const (
	ReasonBadAddress        ValidationReason = "bad-address"
	ReasonSelfTransfer      ValidationReason = "self-transfer"
	ReasonUnsupportedAsset  ValidationReason = "unsupported-asset"
	ReasonNonPositiveAmount ValidationReason = "non-positive-amount"
	ReasonMemoTooLong       ValidationReason = "memo-too-long"
)

// ValidationError is raised before anything is reserved or written. Caller can
// fix the input; retrying the same input will fail the same way.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Retryable() bool { return false }

// InsufficientBalanceError means the reservation was refused; the available
// balance was left untouched.
type InsufficientBalanceError struct {
	Asset     string
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s", e.Asset, e.Requested)
}

func (e *InsufficientBalanceError) Retryable() bool { return false }

// InfrastructureError wraps transient failures in our own plumbing (database,
// signer lookup). These may succeed if repeated.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Retryable() bool { return true }

// FailedError means the transfer reached its failed state and the reservation
// was released. A fresh attempt under a new or the same idempotency key is
// allowed; retrying this exact attempt is not.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transfer failed: %s", e.Reason)
}

func (e *FailedError) Retryable() bool { return false }

// RecordError tags any post-reservation error with the transfer record id, so
// the caller can poll the authoritative outcome instead of re-issuing the
// request blindly.
type RecordError struct {
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func (e *RecordError) Retryable() bool {
	if r, ok := e.Err.(interface{ Retryable() bool }); ok {
		return r.Retryable()
	}
	return false
}
