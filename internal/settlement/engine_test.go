package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/cache"
	"github.com/chukwuka-eze/stablepay/internal/chain"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/signer"
	"github.com/chukwuka-eze/stablepay/internal/stream"

	"github.com/gagliardetto/solana-go"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeTransferRepo mirrors the repository's transactional semantics in memory,
// including the balance bookkeeping, so engine tests exercise real state
// transitions rather than canned answers.
type fakeTransferRepo struct {
	mu       sync.Mutex
	seq      int
	records  map[string]*repository.TransferRecord
	balances map[string]*fakeBalance
}

type fakeBalance struct {
	available decimal.Decimal
	reserved  decimal.Decimal
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{
		records:  make(map[string]*repository.TransferRecord),
		balances: make(map[string]*fakeBalance),
	}
}

func (f *fakeTransferRepo) balanceKey(accountID, asset string) string {
	return accountID + "/" + asset
}

func (f *fakeTransferRepo) setBalance(accountID, asset string, available decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[f.balanceKey(accountID, asset)] = &fakeBalance{available: available, reserved: decimal.Zero}
}

func (f *fakeTransferRepo) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeTransferRepo) balance(accountID, asset string) (decimal.Decimal, decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[f.balanceKey(accountID, asset)]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	return b.available, b.reserved
}

func (f *fakeTransferRepo) CreateReserved(record *repository.TransferRecord) (*repository.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// mirrors the partial unique index: the insert and the hold roll back
	// together, so a duplicate key leaves the balance untouched
	for _, existing := range f.records {
		if existing.IdempotencyKey == record.IdempotencyKey &&
			existing.Status != repository.TransferStatusFailed &&
			existing.Status != repository.TransferStatusCancelled {
			return nil, repository.ErrDuplicateIdempotencyKey
		}
	}

	b, ok := f.balances[f.balanceKey(record.SourceAccountID, record.Asset)]
	if !ok || b.available.LessThan(record.Amount) {
		return nil, repository.ErrInsufficientFunds
	}

	b.available = b.available.Sub(record.Amount)
	b.reserved = b.reserved.Add(record.Amount)

	f.seq++
	created := *record
	created.ID = fmt.Sprintf("tr-%d", f.seq)
	created.Status = repository.TransferStatusReserved
	created.CreatedAt = time.Now()
	created.ReservedAt = created.CreatedAt

	f.records[created.ID] = &created

	out := created
	return &out, nil
}

func (f *fakeTransferRepo) ClaimBroadcast(id, txSignature string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok || record.Status != repository.TransferStatusReserved {
		return false, nil
	}

	record.Status = repository.TransferStatusBroadcast
	record.TxSignature = sql.NullString{String: txSignature, Valid: true}
	record.BroadcastAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeTransferRepo) Confirm(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok {
		return fmt.Errorf("transfer record %s not found", id)
	}
	if record.Status == repository.TransferStatusConfirmed {
		return nil
	}
	if record.Status != repository.TransferStatusBroadcast {
		return repository.ErrInvalidTransition
	}

	src := f.balances[f.balanceKey(record.SourceAccountID, record.Asset)]
	src.reserved = src.reserved.Sub(record.Amount)

	dstKey := f.balanceKey(record.DestinationAccountID, record.Asset)
	if _, ok := f.balances[dstKey]; !ok {
		f.balances[dstKey] = &fakeBalance{available: decimal.Zero, reserved: decimal.Zero}
	}
	dst := f.balances[dstKey]
	dst.available = dst.available.Add(record.Amount)

	record.Status = repository.TransferStatusConfirmed
	record.ConfirmedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (f *fakeTransferRepo) Fail(id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok {
		return fmt.Errorf("transfer record %s not found", id)
	}
	if record.Status == repository.TransferStatusFailed {
		return nil
	}
	if record.Status != repository.TransferStatusReserved && record.Status != repository.TransferStatusBroadcast {
		return repository.ErrInvalidTransition
	}

	src := f.balances[f.balanceKey(record.SourceAccountID, record.Asset)]
	src.available = src.available.Add(record.Amount)
	src.reserved = src.reserved.Sub(record.Amount)

	record.Status = repository.TransferStatusFailed
	record.FailureReason = sql.NullString{String: reason, Valid: true}
	record.FailedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (f *fakeTransferRepo) Cancel(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok || record.Status != repository.TransferStatusReserved || record.TxSignature.Valid {
		return false, nil
	}

	src := f.balances[f.balanceKey(record.SourceAccountID, record.Asset)]
	src.available = src.available.Add(record.Amount)
	src.reserved = src.reserved.Sub(record.Amount)

	record.Status = repository.TransferStatusCancelled
	record.CancelledAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeTransferRepo) GetOne(id string) (*repository.TransferRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok {
		return nil, false, nil
	}
	out := *record
	return &out, true, nil
}

func (f *fakeTransferRepo) GetLatestByIdempotencyKey(key string) (*repository.TransferRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *repository.TransferRecord
	for _, record := range f.records {
		if record.IdempotencyKey != key {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	out := *latest
	return &out, true, nil
}

func (f *fakeTransferRepo) GetAllByAccount(accountID string, limit, offset int) ([]repository.TransferRecord, bool, error) {
	return nil, false, nil
}

func (f *fakeTransferRepo) FindStuckBroadcast(olderThan time.Duration, limit int) ([]repository.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var stuck []repository.TransferRecord
	for _, record := range f.records {
		if record.Status == repository.TransferStatusBroadcast && record.BroadcastAt.Valid && record.BroadcastAt.Time.Before(cutoff) {
			stuck = append(stuck, *record)
		}
	}
	return stuck, nil
}

type fakeAccountRepo struct {
	accounts map[string]*repository.Account // keyed by address
}

func (f *fakeAccountRepo) GetByAddress(address string) (*repository.Account, bool, error) {
	account, ok := f.accounts[address]
	if !ok {
		return nil, false, nil
	}
	return account, true, nil
}

func (f *fakeAccountRepo) Insert(account *repository.Account, tx *sqlx.Tx) (string, error) {
	return "", nil
}
func (f *fakeAccountRepo) GetOne(id string) (*repository.Account, bool, error) {
	return nil, false, nil
}
func (f *fakeAccountRepo) GetByUserID(userID string) (*repository.Account, bool, error) {
	return nil, false, nil
}
func (f *fakeAccountRepo) AddressExists(address string) (bool, error) { return false, nil }
func (f *fakeAccountRepo) CreateWithUser(user *repository.User, account *repository.Account, seedAssets []string) (*repository.User, *repository.Account, error) {
	return nil, nil, nil
}
func (f *fakeAccountRepo) UpdateAddresses(id string, primary string, secondary sql.NullString) error {
	return nil
}
func (f *fakeAccountRepo) Suspend(id string) error { return nil }

// stubChain lets each test script the chain's behavior.
type stubChain struct {
	mu             sync.Mutex
	buildErr       error
	broadcastErr   error
	pollStatus     chain.TxStatus
	feeDelay       time.Duration
	broadcastCalls int
	signSeq        int
}

func (s *stubChain) EstimateFee(ctx context.Context, req *chain.TransferRequest) (decimal.Decimal, error) {
	if s.feeDelay > 0 {
		time.Sleep(s.feeDelay)
	}
	return decimal.New(5000, -9), nil
}

func (s *stubChain) BuildAndSign(ctx context.Context, req *chain.TransferRequest, sgn signer.Signer) (*chain.SignedTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	s.signSeq++
	return &chain.SignedTx{Signature: fmt.Sprintf("sig-%d", s.signSeq)}, nil
}

func (s *stubChain) Broadcast(ctx context.Context, stx *chain.SignedTx) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastCalls++
	if s.broadcastErr != nil {
		return "", s.broadcastErr
	}
	return stx.Signature, nil
}

func (s *stubChain) PollStatus(ctx context.Context, txSignature string) (chain.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollStatus, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *captureSink) EmitEvent(topic string, event stream.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) transitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, event := range c.events {
		out[i] = event.FromState + ">" + event.ToState
	}
	return out
}

type engineFixture struct {
	engine    *Engine
	transfers *fakeTransferRepo
	chain     *stubChain
	sink      *captureSink
	srcKey    solana.PrivateKey
	src       *repository.Account
	dst       *repository.Account
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	srcKey := solana.NewWallet().PrivateKey
	dstKey := solana.NewWallet().PrivateKey

	src := &repository.Account{ID: "acc-src", UserID: "user-1", Address: srcKey.PublicKey().String(), Status: repository.AccountActiveStatus}
	dst := &repository.Account{ID: "acc-dst", UserID: "user-2", Address: dstKey.PublicKey().String(), Status: repository.AccountActiveStatus}

	transfers := newFakeTransferRepo()
	transfers.setBalance(src.ID, "USDC", decimal.NewFromInt(100))
	transfers.setBalance(dst.ID, "USDC", decimal.Zero)

	stub := &stubChain{pollStatus: chain.StatusConfirmed}
	sink := &captureSink{}

	engine := New(&Engine{
		Transfers: transfers,
		Resolver: &Resolver{Accounts: &fakeAccountRepo{accounts: map[string]*repository.Account{
			src.Address: src,
			dst.Address: dst,
		}}},
		Chain:          stub,
		Signers:        signer.NewLocalVaultFromKeys(srcKey),
		Idem:           cache.NewMemory(),
		Events:         sink,
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, nil)),
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})

	return &engineFixture{
		engine:    engine,
		transfers: transfers,
		chain:     stub,
		sink:      sink,
		srcKey:    srcKey,
		src:       src,
		dst:       dst,
	}
}

func (fx *engineFixture) intent(key string, amount int64) *TransferIntent {
	return &TransferIntent{
		IdempotencyKey:     key,
		SourceAddress:      fx.src.Address,
		DestinationAddress: fx.dst.Address,
		Asset:              "USDC",
		Amount:             decimal.NewFromInt(amount),
	}
}

func TestSettle_ConfirmsTransfer(t *testing.T) {
	fx := newEngineFixture(t)

	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))
	require.NoError(t, err)
	require.Equal(t, repository.TransferStatusConfirmed, record.Status)
	require.True(t, record.TxSignature.Valid)

	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(50).Equal(available))
	require.True(t, reserved.IsZero())

	dstAvailable, _ := fx.transfers.balance(fx.dst.ID, "USDC")
	require.True(t, decimal.NewFromInt(50).Equal(dstAvailable))

	require.Equal(t, []string{
		"validated>reserved",
		"reserved>broadcast",
		"broadcast>confirmed",
	}, fx.sink.transitions())
}

func TestSettle_IdempotentReplay(t *testing.T) {
	fx := newEngineFixture(t)

	first, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))
	require.NoError(t, err)

	second, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, fx.chain.broadcastCalls)

	// balances moved exactly once
	available, _ := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(50).Equal(available))
}

func TestSettle_ReplayAllowedAfterFailure(t *testing.T) {
	fx := newEngineFixture(t)
	fx.chain.broadcastErr = &chain.RejectedError{Op: "broadcast", Reason: "blockhash expired"}

	_, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))
	require.Error(t, err)

	// a failed attempt does not pin the key; the retry succeeds
	fx.chain.broadcastErr = nil
	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))
	require.NoError(t, err)
	require.Equal(t, repository.TransferStatusConfirmed, record.Status)
}

func TestSettle_InsufficientBalance(t *testing.T) {
	fx := newEngineFixture(t)

	_, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 150))

	var balanceErr *InsufficientBalanceError
	require.ErrorAs(t, err, &balanceErr)

	// the refused reservation left the balance untouched
	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
	require.Equal(t, 0, fx.chain.broadcastCalls)
}

func TestSettle_ValidationFailures(t *testing.T) {
	fx := newEngineFixture(t)

	tests := []struct {
		name   string
		mutate func(intent *TransferIntent)
		reason ValidationReason
	}{
		{
			name:   "non-positive amount",
			mutate: func(intent *TransferIntent) { intent.Amount = decimal.Zero },
			reason: ReasonNonPositiveAmount,
		},
		{
			name:   "unsupported asset",
			mutate: func(intent *TransferIntent) { intent.Asset = "DOGE" },
			reason: ReasonUnsupportedAsset,
		},
		{
			name:   "malformed destination",
			mutate: func(intent *TransferIntent) { intent.DestinationAddress = "not-an-address" },
			reason: ReasonBadAddress,
		},
		{
			name:   "unknown destination",
			mutate: func(intent *TransferIntent) { intent.DestinationAddress = solana.NewWallet().PublicKey().String() },
			reason: ReasonBadAddress,
		},
		{
			name:   "self transfer",
			mutate: func(intent *TransferIntent) { intent.DestinationAddress = fx.src.Address },
			reason: ReasonSelfTransfer,
		},
		{
			name:   "memo too long",
			mutate: func(intent *TransferIntent) { intent.Memo = strings.Repeat("x", MaxMemoLength+1) },
			reason: ReasonMemoTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := fx.intent("key-"+tt.name, 10)
			tt.mutate(intent)

			_, err := fx.engine.Settle(context.Background(), intent)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tt.reason, validationErr.Reason)
			require.False(t, validationErr.Retryable())
		})
	}

	// none of the rejected intents touched the balance
	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
}

func TestSettle_PayloadTooLargeFailsBeforeBroadcast(t *testing.T) {
	fx := newEngineFixture(t)
	fx.chain.buildErr = &chain.PayloadTooLargeError{Size: 2000, Max: chain.MaxTransactionSize}

	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))

	var recordErr *RecordError
	require.ErrorAs(t, err, &recordErr)
	require.False(t, recordErr.Retryable())
	require.Equal(t, repository.TransferStatusFailed, record.Status)
	require.Equal(t, 0, fx.chain.broadcastCalls)

	// the hold was released
	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
}

func TestSettle_BroadcastRejectedReleasesHold(t *testing.T) {
	fx := newEngineFixture(t)
	fx.chain.broadcastErr = &chain.RejectedError{Op: "broadcast", Reason: "insufficient fee"}

	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))

	var recordErr *RecordError
	require.ErrorAs(t, err, &recordErr)
	require.Equal(t, record.ID, recordErr.RecordID)
	require.Equal(t, repository.TransferStatusFailed, record.Status)

	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
}

func TestSettle_BroadcastAmbiguityLeavesRecordInBroadcast(t *testing.T) {
	fx := newEngineFixture(t)
	fx.chain.broadcastErr = &chain.UnavailableError{Op: "broadcast", Err: fmt.Errorf("connection reset")}

	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))

	// ambiguity is not an error; the caller polls and the sweep resolves
	require.NoError(t, err)
	require.Equal(t, repository.TransferStatusBroadcast, record.Status)

	// the hold stays in place until the chain answers
	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(50).Equal(available))
	require.True(t, decimal.NewFromInt(50).Equal(reserved))
}

func TestSettle_ConfirmationTimeoutLeavesRecordInBroadcast(t *testing.T) {
	fx := newEngineFixture(t)
	fx.chain.pollStatus = chain.StatusPending
	fx.engine.ConfirmTimeout = 10 * time.Millisecond

	record, err := fx.engine.Settle(context.Background(), fx.intent("key-1", 50))

	require.NoError(t, err)
	require.Equal(t, repository.TransferStatusBroadcast, record.Status)
}

func TestSettle_ConcurrentReservationsSingleWinner(t *testing.T) {
	fx := newEngineFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.engine.Settle(context.Background(), fx.intent(fmt.Sprintf("key-%d", i), 60))
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			var balanceErr *InsufficientBalanceError
			require.ErrorAs(t, err, &balanceErr)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	// exactly one 60 left the account
	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(40).Equal(available))
	require.True(t, reserved.IsZero())
}

func TestSettle_ConcurrentDuplicateKeySingleReservation(t *testing.T) {
	fx := newEngineFixture(t)

	// stretch the window between the replay check and the reservation so both
	// requests pass the check before either inserts
	fx.chain.feeDelay = 5 * time.Millisecond

	var wg sync.WaitGroup
	records := make([]*repository.TransferRecord, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = fx.engine.Settle(context.Background(), fx.intent("key-1", 25))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, records[0].ID, records[1].ID)

	// one record, one hold, one broadcast
	require.Equal(t, 1, fx.transfers.recordCount())
	require.Equal(t, 1, fx.chain.broadcastCalls)
	available, _ := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(75).Equal(available))
}

func TestCancel_BeforeBroadcast(t *testing.T) {
	fx := newEngineFixture(t)

	record, err := fx.transfers.CreateReserved(&repository.TransferRecord{
		IdempotencyKey:       "key-1",
		SourceAccountID:      fx.src.ID,
		DestinationAccountID: fx.dst.ID,
		Asset:                "USDC",
		Amount:               decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	current, cancelled, err := fx.engine.Cancel(record.ID)
	require.NoError(t, err)
	require.True(t, cancelled)
	require.Equal(t, repository.TransferStatusCancelled, current.Status)

	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
}

func TestCancel_RefusedAfterBroadcastClaim(t *testing.T) {
	fx := newEngineFixture(t)

	record, err := fx.transfers.CreateReserved(&repository.TransferRecord{
		IdempotencyKey:       "key-1",
		SourceAccountID:      fx.src.ID,
		DestinationAccountID: fx.dst.ID,
		Asset:                "USDC",
		Amount:               decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	claimed, err := fx.transfers.ClaimBroadcast(record.ID, "sig-1")
	require.NoError(t, err)
	require.True(t, claimed)

	current, cancelled, err := fx.engine.Cancel(record.ID)
	require.NoError(t, err)
	require.False(t, cancelled)
	require.Equal(t, repository.TransferStatusBroadcast, current.Status)

	// the hold is still in place
	_, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(30).Equal(reserved))
}

func TestReconcileStuck_ResolvesBySignature(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.ConfirmTimeout = time.Nanosecond

	confirmable, err := fx.transfers.CreateReserved(&repository.TransferRecord{
		IdempotencyKey:       "key-1",
		SourceAccountID:      fx.src.ID,
		DestinationAccountID: fx.dst.ID,
		Asset:                "USDC",
		Amount:               decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	_, err = fx.transfers.ClaimBroadcast(confirmable.ID, "sig-confirm")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	fx.chain.pollStatus = chain.StatusConfirmed
	resolved, err := fx.engine.ReconcileStuck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	current, found, err := fx.transfers.GetOne(confirmable.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, repository.TransferStatusConfirmed, current.Status)

	dstAvailable, _ := fx.transfers.balance(fx.dst.ID, "USDC")
	require.True(t, decimal.NewFromInt(40).Equal(dstAvailable))
}

func TestReconcileStuck_ReleasesRejected(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.ConfirmTimeout = time.Nanosecond

	record, err := fx.transfers.CreateReserved(&repository.TransferRecord{
		IdempotencyKey:       "key-1",
		SourceAccountID:      fx.src.ID,
		DestinationAccountID: fx.dst.ID,
		Asset:                "USDC",
		Amount:               decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	_, err = fx.transfers.ClaimBroadcast(record.ID, "sig-reject")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	fx.chain.pollStatus = chain.StatusRejected
	resolved, err := fx.engine.ReconcileStuck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	current, _, err := fx.transfers.GetOne(record.ID)
	require.NoError(t, err)
	require.Equal(t, repository.TransferStatusFailed, current.Status)

	available, reserved := fx.transfers.balance(fx.src.ID, "USDC")
	require.True(t, decimal.NewFromInt(100).Equal(available))
	require.True(t, reserved.IsZero())
}
