package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type Balance struct {
	AccountID string          `db:"account_id"`
	Asset     string          `db:"asset"`
	Available decimal.Decimal `db:"available"`
	Reserved  decimal.Decimal `db:"reserved"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Balances are never written directly. The only mutations go through the
// reserve/commit/release cycle owned by the TransferRepository, so `available`
// and `reserved` can never drift from the transfer records that explain them.
type BalanceRepository interface {
	Get(accountID, asset string) (*Balance, bool, error)
	GetAllByAccount(accountID string) ([]Balance, bool, error)
}

type BalanceRepositoryImpl struct {
	db *sqlx.DB
}

func NewBalanceRepository(db *sqlx.DB) BalanceRepository {
	return &BalanceRepositoryImpl{db: db}
}

func (repo *BalanceRepositoryImpl) Get(accountID, asset string) (*Balance, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var balance Balance

	query := `
        SELECT account_id, asset, available, reserved, updated_at
		FROM balances WHERE account_id = $1 AND asset = $2`

	err := repo.db.GetContext(ctx, &balance, query, accountID, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &balance, true, nil
}

func (repo *BalanceRepositoryImpl) GetAllByAccount(accountID string) ([]Balance, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var balances []Balance

	query := `
        SELECT account_id, asset, available, reserved, updated_at
		FROM balances WHERE account_id = $1 ORDER BY asset`

	err := repo.db.SelectContext(ctx, &balances, query, accountID)
	if err != nil {
		return nil, false, err
	}

	return balances, len(balances) > 0, nil
}
