package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/chukwuka-eze/stablepay/internal/cache"
	"github.com/chukwuka-eze/stablepay/internal/chain"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/signer"
	"github.com/chukwuka-eze/stablepay/internal/stream"
)

const (
	defaultConfirmTimeout = 45 * time.Second
	defaultPollInterval   = 2 * time.Second

	// idempotency keys outlive the synchronous flow so replays hit the cache
	// fast path instead of the transfer table
	idempotencyTTL = 24 * time.Hour

	reconcileBatchSize = 50
)

// Engine drives a transfer from intent to a terminal record. The persisted
// record is the single source of truth; the engine itself holds no state, so
// any instance can pick up any record.
type Engine struct {
	Transfers repository.TransferRepository
	Resolver  *Resolver
	Chain     chain.Client
	Signers   signer.Vault
	Idem      cache.Store
	Events    stream.EventSink
	Logger    *slog.Logger

	// ConfirmTimeout bounds the synchronous wait for confirmation. Past it the
	// record stays in broadcast and the reconciliation sweep finishes the job.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func New(engine *Engine) *Engine {
	if engine.ConfirmTimeout == 0 {
		engine.ConfirmTimeout = defaultConfirmTimeout
	}
	if engine.PollInterval == 0 {
		engine.PollInterval = defaultPollInterval
	}
	return engine
}

// Settle runs the full lifecycle for one intent: replay check, validation,
// reservation, sign, broadcast, and a bounded wait for confirmation.
//
// The returned record is always meaningful, even alongside a non-nil error.
// A record in broadcast with a nil error means the outcome is not yet known
// and the caller should poll; it does not mean failure, and it must never be
// answered with a resubmit under a fresh idempotency key.
func (e *Engine) Settle(ctx context.Context, intent *TransferIntent) (*repository.TransferRecord, error) {
	if record, found, err := e.replayOf(intent.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		e.Logger.Info("idempotent replay", "idempotency_key", intent.IdempotencyKey, "transfer_id", record.ID, "status", record.Status)
		return record, nil
	}

	asset, source, destination, err := e.validate(intent)
	if err != nil {
		return nil, err
	}

	req := &chain.TransferRequest{
		FromAddress: source.Address,
		ToAddress:   destination.Address,
		Asset:       *asset,
		Amount:      intent.Amount,
		Memo:        intent.Memo,
	}

	// nothing is reserved yet, so a fee-estimation failure is a clean abort
	fee, err := e.Chain.EstimateFee(ctx, req)
	if err != nil {
		return nil, &InfrastructureError{Op: "fee estimation", Err: err}
	}

	record, replayed, err := e.reserve(intent, source.ID, destination.ID, fee)
	if err != nil {
		return nil, err
	}
	if replayed {
		e.Logger.Info("idempotent replay", "idempotency_key", intent.IdempotencyKey, "transfer_id", record.ID, "status", record.Status)
		return record, nil
	}

	return e.execute(ctx, record, req, source.Address)
}

// execute takes a reserved record through signing, broadcast and the bounded
// confirmation wait. Every error past this point carries the record id.
func (e *Engine) execute(ctx context.Context, record *repository.TransferRecord, req *chain.TransferRequest, sourceAddress string) (*repository.TransferRecord, error) {
	sgn, err := e.Signers.SignerFor(sourceAddress)
	if err != nil {
		return e.fail(record, fmt.Sprintf("no signing key for source address: %v", err))
	}

	stx, err := e.Chain.BuildAndSign(ctx, req, sgn)
	if err != nil {
		// nothing signed has left the process, so releasing the hold is safe
		// whether the cause is an oversized payload or an unreachable node
		return e.fail(record, err.Error())
	}

	claimed, err := e.Transfers.ClaimBroadcast(record.ID, stx.Signature)
	if err != nil {
		return record, &RecordError{RecordID: record.ID, Err: &InfrastructureError{Op: "broadcast claim", Err: err}}
	}
	if !claimed {
		// a concurrent cancellation won the race; the hold is already released
		current, _, err := e.Transfers.GetOne(record.ID)
		if err != nil {
			return record, &RecordError{RecordID: record.ID, Err: &InfrastructureError{Op: "record reload", Err: err}}
		}
		return current, nil
	}
	record.Status = repository.TransferStatusBroadcast
	record.TxSignature = sql.NullString{String: stx.Signature, Valid: true}
	e.emit(stream.TopicSettlementEvents, record.ID, repository.TransferStatusReserved, repository.TransferStatusBroadcast)

	_, err = e.Chain.Broadcast(ctx, stx)
	if err != nil {
		var rejected *chain.RejectedError
		if errors.As(err, &rejected) {
			return e.fail(record, rejected.Reason)
		}

		// ambiguous: the chain may or may not have seen the transaction. The
		// record stays in broadcast and the sweep resolves it by signature.
		e.Logger.Warn("broadcast outcome unknown, leaving for reconciliation",
			"transfer_id", record.ID, "tx_signature", stx.Signature, "error", err)
		return e.reload(record)
	}

	return e.awaitConfirmation(ctx, record, stx.Signature)
}

// awaitConfirmation polls the chain until the transaction settles or the
// confirmation window closes. A timeout is not a failure; the record simply
// stays in broadcast for the sweep.
func (e *Engine) awaitConfirmation(ctx context.Context, record *repository.TransferRecord, txSignature string) (*repository.TransferRecord, error) {
	deadline := time.Now().Add(e.ConfirmTimeout)
	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.Chain.PollStatus(ctx, txSignature)
		if err != nil {
			e.Logger.Warn("status poll failed", "transfer_id", record.ID, "error", err)
		} else {
			switch status {
			case chain.StatusConfirmed:
				return e.confirm(record)
			case chain.StatusRejected:
				return e.fail(record, "transaction rejected by chain")
			}
		}

		if time.Now().After(deadline) {
			e.Logger.Info("confirmation window closed, leaving for reconciliation",
				"transfer_id", record.ID, "tx_signature", txSignature)
			return e.reload(record)
		}

		select {
		case <-ctx.Done():
			return e.reload(record)
		case <-ticker.C:
		}
	}
}

// Cancel releases a reservation that has not yet been handed to the chain.
// The returned bool reports whether this call performed the cancellation.
func (e *Engine) Cancel(id string) (*repository.TransferRecord, bool, error) {
	cancelled, err := e.Transfers.Cancel(id)
	if err != nil {
		return nil, false, &InfrastructureError{Op: "cancellation", Err: err}
	}
	if cancelled {
		e.emit(stream.TopicSettlementEvents, id, repository.TransferStatusReserved, repository.TransferStatusCancelled)
	}

	record, found, err := e.Transfers.GetOne(id)
	if err != nil {
		return nil, false, &InfrastructureError{Op: "record reload", Err: err}
	}
	if !found {
		return nil, false, nil
	}

	return record, cancelled, nil
}

// ReconcileStuck resolves records left in broadcast past the confirmation
// window by asking the chain what became of their signatures. It returns the
// number of records moved to a terminal state.
func (e *Engine) ReconcileStuck(ctx context.Context) (int, error) {
	records, err := e.Transfers.FindStuckBroadcast(e.ConfirmTimeout, reconcileBatchSize)
	if err != nil {
		return 0, &InfrastructureError{Op: "stuck record scan", Err: err}
	}

	resolved := 0
	for i := range records {
		record := &records[i]
		if !record.TxSignature.Valid {
			// cannot happen through ClaimBroadcast, but a record we cannot
			// identify on chain must not be guessed at
			e.Logger.Error("broadcast record without signature", "transfer_id", record.ID)
			continue
		}

		status, err := e.Chain.PollStatus(ctx, record.TxSignature.String)
		if err != nil {
			e.Logger.Warn("reconciliation poll failed", "transfer_id", record.ID, "error", err)
			continue
		}

		switch status {
		case chain.StatusConfirmed:
			if err := e.Transfers.Confirm(record.ID); err != nil {
				e.Logger.Error("reconciliation confirm failed", "transfer_id", record.ID, "error", err)
				continue
			}
			e.emit(stream.TopicSettlementEvents, record.ID, repository.TransferStatusBroadcast, repository.TransferStatusConfirmed)
			resolved++
		case chain.StatusRejected:
			if err := e.Transfers.Fail(record.ID, "transaction rejected by chain"); err != nil {
				e.Logger.Error("reconciliation fail transition failed", "transfer_id", record.ID, "error", err)
				continue
			}
			e.emit(stream.TopicSettlementEvents, record.ID, repository.TransferStatusBroadcast, repository.TransferStatusFailed)
			resolved++
		default:
			// still pending on chain, leave it for the next sweep
		}

		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
	}

	return resolved, nil
}

// replayOf returns the record a repeated idempotency key should resolve to.
// Failed and cancelled records do not block a fresh attempt under the same key.
func (e *Engine) replayOf(key string) (*repository.TransferRecord, bool, error) {
	if id, err := e.Idem.Get(key); err == nil {
		record, found, err := e.Transfers.GetOne(id)
		if err != nil {
			return nil, false, &InfrastructureError{Op: "idempotency lookup", Err: err}
		}
		if found && replayable(record) {
			return record, true, nil
		}
	} else if !errors.Is(err, cache.ErrNotFound) {
		e.Logger.Warn("idempotency cache read failed", "error", err)
	}

	record, found, err := e.Transfers.GetLatestByIdempotencyKey(key)
	if err != nil {
		return nil, false, &InfrastructureError{Op: "idempotency lookup", Err: err}
	}
	if found && replayable(record) {
		return record, true, nil
	}

	return nil, false, nil
}

func replayable(record *repository.TransferRecord) bool {
	return record.Status != repository.TransferStatusFailed && record.Status != repository.TransferStatusCancelled
}

func (e *Engine) validate(intent *TransferIntent) (*chain.Asset, *repository.Account, *repository.Account, error) {
	if !intent.Amount.IsPositive() {
		return nil, nil, nil, &ValidationError{Reason: ReasonNonPositiveAmount, Detail: fmt.Sprintf("amount %s must be greater than zero", intent.Amount)}
	}

	asset, supported := chain.AssetBySymbol(intent.Asset)
	if !supported {
		return nil, nil, nil, &ValidationError{Reason: ReasonUnsupportedAsset, Detail: fmt.Sprintf("asset %q is not supported", intent.Asset)}
	}

	if utf8.RuneCountInString(intent.Memo) > MaxMemoLength {
		return nil, nil, nil, &ValidationError{Reason: ReasonMemoTooLong, Detail: fmt.Sprintf("memo exceeds %d characters", MaxMemoLength)}
	}

	source, err := e.Resolver.Resolve(intent.SourceAddress)
	if err != nil {
		return nil, nil, nil, err
	}

	destination, err := e.Resolver.Resolve(intent.DestinationAddress)
	if err != nil {
		return nil, nil, nil, err
	}

	if source.ID == destination.ID {
		return nil, nil, nil, &ValidationError{Reason: ReasonSelfTransfer, Detail: "source and destination resolve to the same account"}
	}

	return &asset, source, destination, nil
}

// reserve inserts the record and takes the balance hold. The partial unique
// index on the idempotency key is the durable backstop behind the replay
// check: when two requests carrying the same key race past replayOf, exactly
// one insert succeeds and the loser resolves to the winner's record with
// replayed set.
func (e *Engine) reserve(intent *TransferIntent, sourceID, destinationID string, fee decimal.Decimal) (record *repository.TransferRecord, replayed bool, err error) {
	record, err = e.Transfers.CreateReserved(&repository.TransferRecord{
		IdempotencyKey:       intent.IdempotencyKey,
		SourceAccountID:      sourceID,
		DestinationAccountID: destinationID,
		Asset:                intent.Asset,
		Amount:               intent.Amount,
		Fee:                  fee,
		Memo:                 nullString(intent.Memo),
	})
	if errors.Is(err, repository.ErrInsufficientFunds) {
		return nil, false, &InsufficientBalanceError{Asset: intent.Asset, Requested: intent.Amount}
	}
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		existing, found, lookupErr := e.Transfers.GetLatestByIdempotencyKey(intent.IdempotencyKey)
		if lookupErr != nil || !found {
			return nil, false, &InfrastructureError{Op: "reservation", Err: err}
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, &InfrastructureError{Op: "reservation", Err: err}
	}

	e.emit(stream.TopicSettlementEvents, record.ID, "validated", repository.TransferStatusReserved)

	// best effort; the durable anchor is the unique record row
	if err := e.Idem.Set(intent.IdempotencyKey, record.ID, idempotencyTTL); err != nil {
		e.Logger.Warn("idempotency cache write failed", "transfer_id", record.ID, "error", err)
	}

	return record, false, nil
}

// confirm flips the record and emits the transition. The repository treats a
// duplicate confirm as a no-op, so the engine and the sweep can race safely.
func (e *Engine) confirm(record *repository.TransferRecord) (*repository.TransferRecord, error) {
	if err := e.Transfers.Confirm(record.ID); err != nil {
		return record, &RecordError{RecordID: record.ID, Err: &InfrastructureError{Op: "confirmation", Err: err}}
	}

	e.emit(stream.TopicSettlementEvents, record.ID, repository.TransferStatusBroadcast, repository.TransferStatusConfirmed)
	return e.reload(record)
}

func (e *Engine) fail(record *repository.TransferRecord, reason string) (*repository.TransferRecord, error) {
	fromState := record.Status
	if err := e.Transfers.Fail(record.ID, reason); err != nil {
		return record, &RecordError{RecordID: record.ID, Err: &InfrastructureError{Op: "failure transition", Err: err}}
	}

	e.emit(stream.TopicSettlementEvents, record.ID, fromState, repository.TransferStatusFailed)

	current, err := e.reload(record)
	if err != nil {
		return current, err
	}
	return current, &RecordError{RecordID: record.ID, Err: &FailedError{Reason: reason}}
}

func (e *Engine) reload(record *repository.TransferRecord) (*repository.TransferRecord, error) {
	current, found, err := e.Transfers.GetOne(record.ID)
	if err != nil || !found {
		return record, nil
	}
	return current, nil
}

func (e *Engine) emit(topic, entityID, fromState, toState string) {
	event := stream.Event{
		Type:      "state-transition",
		Entity:    "transfer",
		EntityID:  entityID,
		FromState: fromState,
		ToState:   toState,
		At:        time.Now().UTC(),
	}

	if err := e.Events.EmitEvent(topic, event); err != nil {
		e.Logger.Error("event emission failed", "entity_id", entityID, "to_state", toState, "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
