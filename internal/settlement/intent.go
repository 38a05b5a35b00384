package settlement

import (
	"github.com/shopspring/decimal"
)

// MaxMemoLength bounds the memo in runes. Enforced at validation so the bound
// holds for every caller, not just the HTTP surface.
const MaxMemoLength = 120

// TransferIntent is the caller's immutable description of a transfer. The
// engine never mutates it; all progress is tracked on the persisted record.
type TransferIntent struct {
	IdempotencyKey     string
	SourceAddress      string
	DestinationAddress string
	Asset              string
	Amount             decimal.Decimal
	Memo               string
}
