package chain

import (
	"context"
	"fmt"

	"github.com/chukwuka-eze/stablepay/internal/signer"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MaxTransactionSize is the chain's hard cap on a serialized transaction.
// Anything bigger is rejected by every node, so we fail fast before signing.
const MaxTransactionSize = 1232

type TxStatus int

const (
	StatusPending TxStatus = iota
	StatusConfirmed
	StatusRejected
)

func (s TxStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// TransferRequest carries everything the client needs to build a chain-native
// transfer. It deliberately knows nothing about internal accounts or balances;
// the settlement engine resolves those before calling down here.
type TransferRequest struct {
	FromAddress string
	ToAddress   string
	Asset       Asset
	Amount      decimal.Decimal
	Memo        string
}

// SignedTx is a fully signed transaction plus its signature in wire form.
// On this chain the signature doubles as the transaction reference, so it is
// known before broadcast. That is what lets us persist the idempotency anchor
// ahead of submission.
type SignedTx struct {
	Tx        *solana.Transaction
	Signature string
}

// Client is the narrow surface the settlement engine talks to. All operations
// are stateless; confirmation lookups by signature are idempotent, so broadcast
// can be at-least-once.
type Client interface {
	EstimateFee(ctx context.Context, req *TransferRequest) (decimal.Decimal, error)
	BuildAndSign(ctx context.Context, req *TransferRequest, sgn signer.Signer) (*SignedTx, error)
	Broadcast(ctx context.Context, stx *SignedTx) (string, error)
	PollStatus(ctx context.Context, txSignature string) (TxStatus, error)
}

// PayloadTooLargeError means the serialized transaction would exceed the chain
// limit. Raised before any signature is requested; signing is rate-limited and
// a payload that is too big today will be too big on every retry.
type PayloadTooLargeError struct {
	Size int
	Max  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("serialized transaction is %d bytes, chain limit is %d", e.Size, e.Max)
}

func (e *PayloadTooLargeError) Retryable() bool { return false }

// UnavailableError wraps transport-level failures talking to the chain: we do
// not know what, if anything, the chain saw. Resolution belongs to the
// reconciliation sweep, never to a blind resubmit.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("chain unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Retryable() bool { return true }

// RejectedError is a definitive no from the chain: the transaction was seen and
// refused. Funds reserved for it are safe to release.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain rejected transaction during %s: %s", e.Op, e.Reason)
}

func (e *RejectedError) Retryable() bool { return false }
