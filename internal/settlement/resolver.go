package settlement

import (
	"fmt"

	"github.com/chukwuka-eze/stablepay/internal/chain"
	"github.com/chukwuka-eze/stablepay/internal/repository"
)

// Resolver maps on-chain addresses to custodial accounts. Only active accounts
// may take part in a transfer.
type Resolver struct {
	Accounts repository.AccountRepository
}

func (rs *Resolver) Resolve(address string) (*repository.Account, error) {
	if !chain.IsValidAddress(address) {
		return nil, &ValidationError{Reason: ReasonBadAddress, Detail: fmt.Sprintf("%q is not a valid address", address)}
	}

	account, found, err := rs.Accounts.GetByAddress(address)
	if err != nil {
		return nil, &InfrastructureError{Op: "account lookup", Err: err}
	}
	if !found {
		return nil, &ValidationError{Reason: ReasonBadAddress, Detail: "address is not bound to an account"}
	}
	if account.Status != repository.AccountActiveStatus {
		return nil, &ValidationError{Reason: ReasonBadAddress, Detail: "account is not active"}
	}

	return account, nil
}
