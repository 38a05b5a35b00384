package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type TransferRecord struct {
	ID                   string          `db:"id"`
	IdempotencyKey       string          `db:"idempotency_key"`
	SourceAccountID      string          `db:"source_account_id"`
	DestinationAccountID string          `db:"destination_account_id"`
	Asset                string          `db:"asset"`
	Amount               decimal.Decimal `db:"amount"`
	Fee                  decimal.Decimal `db:"fee"`
	Memo                 sql.NullString  `db:"memo"`
	Status               string          `db:"status"`
	TxSignature          sql.NullString  `db:"tx_signature"`
	FailureReason        sql.NullString  `db:"failure_reason"`
	CreatedAt            time.Time       `db:"created_at"`
	ReservedAt           time.Time       `db:"reserved_at"`
	BroadcastAt          sql.NullTime    `db:"broadcast_at"`
	ConfirmedAt          sql.NullTime    `db:"confirmed_at"`
	FailedAt             sql.NullTime    `db:"failed_at"`
	CancelledAt          sql.NullTime    `db:"cancelled_at"`
}

// define possible transfer record status
const (
	TransferStatusReserved  = "reserved"
	TransferStatusBroadcast = "broadcast"
	TransferStatusConfirmed = "confirmed"
	TransferStatusFailed    = "failed"
	TransferStatusCancelled = "cancelled"
)

// IsTerminal reports whether the record has reached a state it can never leave.
func (t *TransferRecord) IsTerminal() bool {
	switch t.Status {
	case TransferStatusConfirmed, TransferStatusFailed, TransferStatusCancelled:
		return true
	}
	return false
}

var (
	// ErrInsufficientFunds is returned by CreateReserved when the source balance
	// cannot cover the requested amount. The available balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrInvalidTransition is returned when a record is asked to move to a state
	// its current state does not permit. Terminal records never transition again.
	ErrInvalidTransition = errors.New("transfer record state does not permit this transition")

	// ErrDuplicateIdempotencyKey is returned by CreateReserved when another
	// request already holds a live record for the same idempotency key. The
	// insert and the balance hold roll back together; the caller resolves to
	// the existing record.
	ErrDuplicateIdempotencyKey = errors.New("a live transfer record already exists for this idempotency key")
)

// activeKeyConstraint is the partial unique index that admits at most one
// non-terminal record per idempotency key.
const activeKeyConstraint = "transfer_records_active_key_uidx"

type TransferRepository interface {
	// CreateReserved checks and decrements the source `available` balance under a
	// row lock and inserts the transfer record in the same transaction. A crash
	// between the two leaves neither: funds are never held without a record that
	// explains the hold. A partial unique index on the idempotency key makes the
	// insert the durable replay backstop; losing that race returns
	// ErrDuplicateIdempotencyKey with the hold rolled back.
	CreateReserved(record *TransferRecord) (*TransferRecord, error)

	// ClaimBroadcast moves reserved → broadcast and stores the chain signature.
	// The claim is conditional on the record still being reserved, which is what
	// makes a concurrent cancellation race safe: exactly one of the two wins.
	ClaimBroadcast(id, txSignature string) (bool, error)

	// Confirm commits the reservation: source `reserved` is debited for good and
	// the destination `available` is credited, in the same transaction that flips
	// the record to confirmed. Safe to call twice; the second call is a no-op.
	Confirm(id string) error

	// Fail releases the reservation back to `available` and records the reason.
	Fail(id, reason string) error

	// Cancel releases the reservation only if the record has not been
	// claimed for broadcast. Returns false once the chain has been handed the
	// transaction, because from that point the chain is the source of truth.
	Cancel(id string) (bool, error)

	GetOne(id string) (*TransferRecord, bool, error)
	GetLatestByIdempotencyKey(key string) (*TransferRecord, bool, error)
	GetAllByAccount(accountID string, limit, offset int) ([]TransferRecord, bool, error)

	// FindStuckBroadcast returns records that have sat in broadcast longer than
	// olderThan, for the reconciliation sweep. Confirm/Fail are guarded by the
	// record row lock, so two sweepers racing on the same record stay consistent.
	FindStuckBroadcast(olderThan time.Duration, limit int) ([]TransferRecord, error)
}

type TransferRepositoryImpl struct {
	db *sqlx.DB
}

func NewTransferRepository(db *sqlx.DB) TransferRepository {
	return &TransferRepositoryImpl{db: db}
}

func (repo *TransferRepositoryImpl) CreateReserved(record *TransferRecord) (*TransferRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer tx.Rollback()

	// the row lock serialises concurrent reservations against the same source
	// balance; whoever gets here second sees the decremented available amount
	var balance Balance

	query := `
		SELECT account_id, asset, available, reserved FROM balances
		WHERE account_id = $1 AND asset = $2 FOR UPDATE`

	err = tx.GetContext(ctx, &balance, query, record.SourceAccountID, record.Asset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}

	if balance.Available.LessThan(record.Amount) {
		return nil, ErrInsufficientFunds
	}

	query = `
		UPDATE balances
		SET available = available - $1, reserved = reserved + $1, updated_at = NOW()
		WHERE account_id = $2 AND asset = $3`

	_, err = tx.ExecContext(ctx, query, record.Amount, record.SourceAccountID, record.Asset)
	if err != nil {
		return nil, err
	}

	var created TransferRecord

	query = `
		INSERT INTO transfer_records
			(idempotency_key, source_account_id, destination_account_id, asset, amount, fee, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`

	err = tx.GetContext(ctx, &created, query,
		record.IdempotencyKey,
		record.SourceAccountID,
		record.DestinationAccountID,
		record.Asset,
		record.Amount,
		record.Fee,
		record.Memo,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == activeKeyConstraint {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &created, nil
}

func (repo *TransferRepositoryImpl) ClaimBroadcast(id, txSignature string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	query := `
		UPDATE transfer_records
		SET status = $1, tx_signature = $2, broadcast_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := repo.db.ExecContext(ctx, query, TransferStatusBroadcast, txSignature, id, TransferStatusReserved)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (repo *TransferRepositoryImpl) Confirm(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	record, err := lockRecord(ctx, tx, id)
	if err != nil {
		return err
	}

	if record.Status == TransferStatusConfirmed {
		// settlement engine and reconciliation sweep can both land here
		return nil
	}
	if record.Status != TransferStatusBroadcast {
		return fmt.Errorf("%w: %s → confirmed", ErrInvalidTransition, record.Status)
	}

	// convert the source hold into a real debit ...
	query := `
		UPDATE balances SET reserved = reserved - $1, updated_at = NOW()
		WHERE account_id = $2 AND asset = $3`

	_, err = tx.ExecContext(ctx, query, record.Amount, record.SourceAccountID, record.Asset)
	if err != nil {
		return err
	}

	// ... and credit the destination in the same transaction
	query = `
		INSERT INTO balances (account_id, asset, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, asset)
		DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = NOW()`

	_, err = tx.ExecContext(ctx, query, record.DestinationAccountID, record.Asset, record.Amount)
	if err != nil {
		return err
	}

	query = `
		UPDATE transfer_records SET status = $1, confirmed_at = NOW()
		WHERE id = $2`

	_, err = tx.ExecContext(ctx, query, TransferStatusConfirmed, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (repo *TransferRepositoryImpl) Fail(id, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	record, err := lockRecord(ctx, tx, id)
	if err != nil {
		return err
	}

	if record.Status == TransferStatusFailed {
		return nil
	}
	if record.Status != TransferStatusReserved && record.Status != TransferStatusBroadcast {
		return fmt.Errorf("%w: %s → failed", ErrInvalidTransition, record.Status)
	}

	err = releaseReservation(ctx, tx, record)
	if err != nil {
		return err
	}

	query := `
		UPDATE transfer_records SET status = $1, failure_reason = $2, failed_at = NOW()
		WHERE id = $3`

	_, err = tx.ExecContext(ctx, query, TransferStatusFailed, reason, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (repo *TransferRepositoryImpl) Cancel(id string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}

	defer tx.Rollback()

	record, err := lockRecord(ctx, tx, id)
	if err != nil {
		return false, err
	}

	// once a signature has been claimed the transaction may already be on the
	// chain, so cancellation is no longer our call to make
	if record.Status != TransferStatusReserved || record.TxSignature.Valid {
		return false, nil
	}

	err = releaseReservation(ctx, tx, record)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE transfer_records SET status = $1, cancelled_at = NOW()
		WHERE id = $2`

	_, err = tx.ExecContext(ctx, query, TransferStatusCancelled, id)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return true, nil
}

func (repo *TransferRepositoryImpl) GetOne(id string) (*TransferRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var record TransferRecord

	query := `SELECT * FROM transfer_records WHERE id = $1`

	err := repo.db.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &record, true, nil
}

func (repo *TransferRepositoryImpl) GetLatestByIdempotencyKey(key string) (*TransferRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var record TransferRecord

	query := `
		SELECT * FROM transfer_records WHERE idempotency_key = $1
		ORDER BY created_at DESC LIMIT 1`

	err := repo.db.GetContext(ctx, &record, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &record, true, nil
}

func (repo *TransferRepositoryImpl) GetAllByAccount(accountID string, limit, offset int) ([]TransferRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var records []TransferRecord

	query := `
		SELECT * FROM transfer_records
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	err := repo.db.SelectContext(ctx, &records, query, accountID, limit, offset)
	if err != nil {
		return nil, false, err
	}

	return records, len(records) > 0, nil
}

func (repo *TransferRepositoryImpl) FindStuckBroadcast(olderThan time.Duration, limit int) ([]TransferRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var records []TransferRecord

	query := `
		SELECT * FROM transfer_records
		WHERE status = $1 AND broadcast_at < $2
		ORDER BY broadcast_at ASC
		LIMIT $3`

	err := repo.db.SelectContext(ctx, &records, query, TransferStatusBroadcast, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	return records, nil
}

func lockRecord(ctx context.Context, tx *sqlx.Tx, id string) (*TransferRecord, error) {
	var record TransferRecord

	query := `SELECT * FROM transfer_records WHERE id = $1 FOR UPDATE`

	err := tx.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer record %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func releaseReservation(ctx context.Context, tx *sqlx.Tx, record *TransferRecord) error {
	query := `
		UPDATE balances
		SET available = available + $1, reserved = reserved - $1, updated_at = NOW()
		WHERE account_id = $2 AND asset = $3`

	_, err := tx.ExecContext(ctx, query, record.Amount, record.SourceAccountID, record.Asset)
	return err
}
