package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type Account struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	Address          string         `db:"address"`
	SecondaryAddress sql.NullString `db:"secondary_address"`
	Status           string         `db:"status"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        sql.NullTime   `db:"updated_at"`
}

const (
	AccountActiveStatus    = "active"
	AccountSuspendedStatus = "suspended"
)

type AccountRepository interface {
	Insert(account *Account, tx *sqlx.Tx) (string, error)
	GetOne(id string) (*Account, bool, error)
	GetByUserID(userID string) (*Account, bool, error)
	GetByAddress(address string) (*Account, bool, error)
	AddressExists(address string) (bool, error)

	// CreateWithUser provisions the user row, the account bound to its primary
	// address, and zero balances for the seed assets in one transaction.
	// Either everything lands or nothing does; a failure after the user insert
	// must not leave a user without a usable account.
	CreateWithUser(user *User, account *Account, seedAssets []string) (*User, *Account, error)

	UpdateAddresses(id string, primary string, secondary sql.NullString) error
	Suspend(id string) error
}

type AccountRepositoryImpl struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &AccountRepositoryImpl{db: db}
}

func (repo *AccountRepositoryImpl) Insert(account *Account, tx *sqlx.Tx) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var id string

	query := `
		INSERT INTO accounts (user_id, address, secondary_address)
		VALUES ($1, $2, $3)
		RETURNING id`
	if tx != nil {
		err := tx.QueryRowContext(ctx, query,
			account.UserID,
			account.Address,
			account.SecondaryAddress,
		).Scan(&id)
		if err != nil {
			return "", err
		}
	} else {
		err := repo.db.GetContext(ctx, &id, query,
			account.UserID,
			account.Address,
			account.SecondaryAddress,
		)
		if err != nil {
			return "", err
		}
	}

	return id, nil
}

func (repo *AccountRepositoryImpl) GetOne(id string) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var account Account

	query := `SELECT * FROM accounts WHERE id = $1`

	err := repo.db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	return &account, true, err
}

func (repo *AccountRepositoryImpl) GetByUserID(userID string) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var account Account

	query := `SELECT * FROM accounts WHERE user_id = $1 AND status = $2`

	err := repo.db.GetContext(ctx, &account, query, userID, AccountActiveStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	return &account, true, err
}

func (repo *AccountRepositoryImpl) GetByAddress(address string) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var account Account

	query := `SELECT * FROM accounts WHERE address = $1`

	err := repo.db.GetContext(ctx, &account, query, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	return &account, true, err
}

func (repo *AccountRepositoryImpl) AddressExists(address string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var exists bool

	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE address = $1)`

	err := repo.db.GetContext(ctx, &exists, query, address)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (repo *AccountRepositoryImpl) CreateWithUser(user *User, account *Account, seedAssets []string) (*User, *Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	// always make sure it rolls back, if there is an error
	// ...and the transaction is not committed
	defer tx.Rollback()

	var created User
	query := `
		INSERT INTO users (provider_subject, email)
		VALUES ($1, $2)
		RETURNING *`

	err = tx.GetContext(ctx, &created, query, user.ProviderSubject, user.Email)
	if err != nil {
		return nil, nil, err
	}

	var boundAccount Account
	query = `
		INSERT INTO accounts (user_id, address, secondary_address)
		VALUES ($1, $2, $3)
		RETURNING *`

	err = tx.GetContext(ctx, &boundAccount, query, created.ID, account.Address, account.SecondaryAddress)
	if err != nil {
		return nil, nil, err
	}

	// every account starts with a zero balance row per supported asset, so balance
	// reads never have to special-case a missing row
	query = `
		INSERT INTO balances (account_id, asset)
		VALUES ($1, $2)`
	for _, asset := range seedAssets {
		_, err = tx.ExecContext(ctx, query, boundAccount.ID, asset)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	return &created, &boundAccount, nil
}

func (repo *AccountRepositoryImpl) UpdateAddresses(id string, primary string, secondary sql.NullString) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	query := `UPDATE accounts SET address = $1, secondary_address = $2, updated_at = NOW() WHERE id = $3`

	_, err := repo.db.ExecContext(ctx, query, primary, secondary, id)
	return err
}

func (repo *AccountRepositoryImpl) Suspend(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	query := `UPDATE accounts SET status = $1, updated_at = NOW() WHERE id = $2`

	_, err := repo.db.ExecContext(ctx, query, AccountSuspendedStatus, id)
	return err
}
