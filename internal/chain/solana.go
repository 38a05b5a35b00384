package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/chukwuka-eze/stablepay/internal/signer"

	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
)

// defaultFeeLamports is used when the node cannot quote a fee for the message.
// One signature costs 5000 lamports on current fee schedules.
const defaultFeeLamports = 5000

type SolanaClient struct {
	rpc *rpc.Client
}

var _ Client = (*SolanaClient)(nil)

func NewSolanaClient(endpoint string) *SolanaClient {
	return &SolanaClient{
		rpc: rpc.New(endpoint),
	}
}

func (c *SolanaClient) EstimateFee(ctx context.Context, req *TransferRequest) (decimal.Decimal, error) {
	tx, err := c.buildTransaction(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return decimal.Zero, err
	}

	out, err := c.rpc.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(message), rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, &UnavailableError{Op: "estimate-fee", Err: err}
	}

	lamports := uint64(defaultFeeLamports)
	if out != nil && out.Value != nil {
		lamports = *out.Value
	}

	// fees are always quoted in the native asset regardless of what is being moved
	return decimal.New(int64(lamports), -9), nil
}

func (c *SolanaClient) BuildAndSign(ctx context.Context, req *TransferRequest, sgn signer.Signer) (*SignedTx, error) {
	tx, err := c.buildTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}

	// size check happens against the fully serialized form, one signature slot
	// plus the message, and must come before the signer is consulted
	serializedSize := 1 + solana.SignatureLength + len(message)
	if serializedSize > MaxTransactionSize {
		return nil, &PayloadTooLargeError{Size: serializedSize, Max: MaxTransactionSize}
	}

	sig, err := sgn.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	tx.Signatures = []solana.Signature{sig}

	return &SignedTx{
		Tx:        tx,
		Signature: sig.String(),
	}, nil
}

func (c *SolanaClient) Broadcast(ctx context.Context, stx *SignedTx) (string, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, stx.Tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// the node saw the transaction and said no; this is a definitive
			// rejection, not a transport failure
			return "", &RejectedError{Op: "broadcast", Reason: rpcErr.Message}
		}
		return "", &UnavailableError{Op: "broadcast", Err: err}
	}

	return sig.String(), nil
}

func (c *SolanaClient) PollStatus(ctx context.Context, txSignature string) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(txSignature)
	if err != nil {
		return StatusPending, fmt.Errorf("malformed transaction signature: %w", err)
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return StatusPending, &UnavailableError{Op: "poll-status", Err: err}
	}

	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		// the chain has no opinion yet; unknown is not negative
		return StatusPending, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return StatusRejected, nil
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StatusConfirmed, nil
	}

	return StatusPending, nil
}

func (c *SolanaClient) buildTransaction(ctx context.Context, req *TransferRequest) (*solana.Transaction, error) {
	from, err := solana.PublicKeyFromBase58(req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("bad source address: %w", err)
	}

	to, err := solana.PublicKeyFromBase58(req.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("bad destination address: %w", err)
	}

	units := req.Amount.Shift(req.Asset.Decimals).BigInt()
	if !units.IsUint64() {
		return nil, fmt.Errorf("amount %s does not fit the asset's base units", req.Amount)
	}

	var instructions []solana.Instruction

	if req.Asset.Native {
		instructions = append(instructions,
			system.NewTransferInstruction(units.Uint64(), from, to).Build(),
		)
	} else {
		sourceATA, _, err := solana.FindAssociatedTokenAddress(from, req.Asset.Mint)
		if err != nil {
			return nil, err
		}

		destATA, _, err := solana.FindAssociatedTokenAddress(to, req.Asset.Mint)
		if err != nil {
			return nil, err
		}

		// a recipient who has never held this token has no token account on
		// chain yet; creating it is part of this settlement and is paid for by
		// the sender
		exists, err := c.accountExists(ctx, destATA)
		if err != nil {
			return nil, err
		}
		if !exists {
			instructions = append(instructions,
				ata.NewCreateInstruction(from, to, req.Asset.Mint).Build(),
			)
		}

		instructions = append(instructions,
			token.NewTransferCheckedInstruction(
				units.Uint64(),
				uint8(req.Asset.Decimals),
				sourceATA,
				req.Asset.Mint,
				destATA,
				from,
				nil,
			).Build(),
		)
	}

	if req.Memo != "" {
		instructions = append(instructions, solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{solana.Meta(from).SIGNER()},
			[]byte(req.Memo),
		))
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, &UnavailableError{Op: "fetch-blockhash", Err: err}
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(from))
	if err != nil {
		return nil, err
	}

	return tx, nil
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &UnavailableError{Op: "account-lookup", Err: err}
	}

	return true, nil
}
