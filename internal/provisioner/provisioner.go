// Package provisioner creates the user row, its account, and the zero balance
// rows as one atomic unit, and keeps the account's address material current.
// The one state it must never produce is a user without a usable account.
package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/chain"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/retry"
	"github.com/chukwuka-eze/stablepay/internal/stream"

	"github.com/lib/pq"
)

const (
	provisionAttempts = 3
	provisionBackoff  = 200 * time.Millisecond

	pqUniqueViolation = "23505"
)

// Identity is what the external auth provider asserts about the caller.
type Identity struct {
	ProviderSubject string
	Email           string
}

// WalletAddressSet is the address material bound to an account. The ed25519
// address is the account's on-chain identity and is required; the secp256k1
// address is an optional secondary binding for external systems.
type WalletAddressSet struct {
	Ed25519   string
	Secp256k1 string
}

type Provisioner struct {
	Users    repository.UserRepository
	Accounts repository.AccountRepository
	Events   stream.EventSink
	Logger   *slog.Logger
}

// Provision is idempotent on the provider subject. A new subject gets a user,
// an account, and seed balances in one transaction; a known subject gets its
// address material reconciled, with zero writes when nothing changed.
func (p *Provisioner) Provision(ctx context.Context, identity *Identity, addresses *WalletAddressSet) (*repository.User, *repository.Account, error) {
	if err := validateAddresses(addresses); err != nil {
		return nil, nil, err
	}

	var (
		user    *repository.User
		account *repository.Account
	)

	// the whole lookup-or-create attempt is retried, so a concurrent create of
	// the same subject resolves itself: the next attempt finds the winner's row
	// and takes the update path
	err := retry.Do(ctx, provisionAttempts, provisionBackoff, retry.IsRetryable, func() error {
		var err error
		user, account, err = p.provisionOnce(identity, addresses)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return user, account, nil
}

func (p *Provisioner) provisionOnce(identity *Identity, addresses *WalletAddressSet) (*repository.User, *repository.Account, error) {
	user, found, err := p.Users.GetBySubject(identity.ProviderSubject)
	if err != nil {
		return nil, nil, &InfrastructureError{Op: "user lookup", Err: err}
	}

	if found {
		account, err := p.reconcileAddresses(user, addresses)
		if err != nil {
			return nil, nil, err
		}
		return user, account, nil
	}

	created, account, err := p.Accounts.CreateWithUser(
		&repository.User{ProviderSubject: identity.ProviderSubject, Email: identity.Email},
		&repository.Account{Address: addresses.Ed25519, SecondaryAddress: nullString(addresses.Secp256k1)},
		chain.AssetSymbols(),
	)
	if err != nil {
		return nil, nil, classifyCreateError(err, addresses)
	}

	p.emit(account.ID, "", "provisioned")
	p.Logger.Info("account provisioned", "user_id", created.ID, "account_id", account.ID, "address", account.Address)

	return created, account, nil
}

// reconcileAddresses applies the submitted address set to an existing account.
// Identical material is a no-op; changed material is rebound after checking the
// new primary address is not claimed elsewhere.
func (p *Provisioner) reconcileAddresses(user *repository.User, addresses *WalletAddressSet) (*repository.Account, error) {
	account, found, err := p.Accounts.GetByUserID(user.ID)
	if err != nil {
		return nil, &InfrastructureError{Op: "account lookup", Err: err}
	}
	if !found {
		// provisioning is atomic, so a user without an active account means the
		// account was suspended out from under them
		return nil, &AddressValidationError{Field: "account", Detail: "no active account for this user"}
	}

	secondary := nullString(addresses.Secp256k1)
	if account.Address == addresses.Ed25519 && account.SecondaryAddress == secondary {
		return account, nil
	}

	if account.Address != addresses.Ed25519 {
		taken, err := p.Accounts.AddressExists(addresses.Ed25519)
		if err != nil {
			return nil, &InfrastructureError{Op: "address check", Err: err}
		}
		if taken {
			return nil, &AddressConflictError{Address: addresses.Ed25519}
		}
	}

	if err := p.Accounts.UpdateAddresses(account.ID, addresses.Ed25519, secondary); err != nil {
		return nil, classifyCreateError(err, addresses)
	}

	account.Address = addresses.Ed25519
	account.SecondaryAddress = secondary

	p.emit(account.ID, "provisioned", "addresses-rotated")
	p.Logger.Info("account addresses updated", "account_id", account.ID, "address", account.Address)

	return account, nil
}

func validateAddresses(addresses *WalletAddressSet) error {
	if addresses.Ed25519 == "" {
		return &AddressValidationError{Field: "ed25519", Detail: "primary address is required"}
	}
	if !chain.IsValidAddress(addresses.Ed25519) {
		return &AddressValidationError{Field: "ed25519", Detail: fmt.Sprintf("%q is not a valid address", addresses.Ed25519)}
	}
	if addresses.Secp256k1 != "" && !chain.IsValidSecondaryAddress(addresses.Secp256k1) {
		return &AddressValidationError{Field: "secp256k1", Detail: fmt.Sprintf("%q is not a valid address", addresses.Secp256k1)}
	}
	return nil
}

// classifyCreateError sorts a storage error into the provisioning taxonomy.
// A unique violation on the address column is a permanent conflict; one on the
// provider subject means we lost a race and the next attempt finds the winner.
func classifyCreateError(err error, addresses *WalletAddressSet) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		if strings.Contains(pqErr.Constraint, "address") {
			return &AddressConflictError{Address: addresses.Ed25519}
		}
		return &InfrastructureError{Op: "provisioning", Err: err}
	}

	return &InfrastructureError{Op: "provisioning", Err: err}
}

func (p *Provisioner) emit(accountID, fromState, toState string) {
	event := stream.Event{
		Type:      "state-transition",
		Entity:    "account",
		EntityID:  accountID,
		FromState: fromState,
		ToState:   toState,
		At:        time.Now().UTC(),
	}

	if err := p.Events.EmitEvent(stream.TopicProvisionEvents, event); err != nil {
		p.Logger.Error("event emission failed", "account_id", accountID, "to_state", toState, "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
