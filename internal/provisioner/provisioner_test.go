package provisioner

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/stream"

	"github.com/gagliardetto/solana-go"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// fakeStore backs both repositories with shared in-memory state so the test
// can assert what was and was not written.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*repository.User    // by provider subject
	accounts map[string]*repository.Account // by user id

	createErrs  []error // consumed one per CreateWithUser call
	createCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*repository.User),
		accounts: make(map[string]*repository.Account),
	}
}

type fakeUserRepo struct{ store *fakeStore }

func (f *fakeUserRepo) Insert(user *repository.User, tx *sqlx.Tx) (string, error) { return "", nil }

func (f *fakeUserRepo) GetOne(id string) (*repository.User, bool, error) { return nil, false, nil }

func (f *fakeUserRepo) Suspend(id string) error { return nil }

func (f *fakeUserRepo) GetBySubject(providerSubject string) (*repository.User, bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	user, ok := f.store.users[providerSubject]
	if !ok {
		return nil, false, nil
	}
	out := *user
	return &out, true, nil
}

type fakeAccountRepo struct{ store *fakeStore }

func (f *fakeAccountRepo) Insert(account *repository.Account, tx *sqlx.Tx) (string, error) {
	return "", nil
}
func (f *fakeAccountRepo) GetOne(id string) (*repository.Account, bool, error) {
	return nil, false, nil
}
func (f *fakeAccountRepo) GetByAddress(address string) (*repository.Account, bool, error) {
	return nil, false, nil
}
func (f *fakeAccountRepo) Suspend(id string) error { return nil }

func (f *fakeAccountRepo) GetByUserID(userID string) (*repository.Account, bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	account, ok := f.store.accounts[userID]
	if !ok {
		return nil, false, nil
	}
	out := *account
	return &out, true, nil
}

func (f *fakeAccountRepo) AddressExists(address string) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, account := range f.store.accounts {
		if account.Address == address {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccountRepo) CreateWithUser(user *repository.User, account *repository.Account, seedAssets []string) (*repository.User, *repository.Account, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	f.store.createCalls++
	if len(f.store.createErrs) > 0 {
		err := f.store.createErrs[0]
		f.store.createErrs = f.store.createErrs[1:]
		if err != nil {
			// nothing is written on a failed attempt
			return nil, nil, err
		}
	}

	for _, existing := range f.store.accounts {
		if existing.Address == account.Address {
			return nil, nil, &pq.Error{Code: "23505", Constraint: "accounts_address_key"}
		}
	}

	f.store.seq++
	created := &repository.User{
		ID:              account.Address[:8],
		ProviderSubject: user.ProviderSubject,
		Email:           user.Email,
		Status:          repository.UserActiveStatus,
	}
	bound := &repository.Account{
		ID:               created.ID + "-acc",
		UserID:           created.ID,
		Address:          account.Address,
		SecondaryAddress: account.SecondaryAddress,
		Status:           repository.AccountActiveStatus,
	}

	f.store.users[created.ProviderSubject] = created
	f.store.accounts[created.ID] = bound

	outUser, outAccount := *created, *bound
	return &outUser, &outAccount, nil
}

func (f *fakeAccountRepo) UpdateAddresses(id string, primary string, secondary sql.NullString) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	f.store.updateCalls++
	for _, account := range f.store.accounts {
		if account.ID == id {
			account.Address = primary
			account.SecondaryAddress = secondary
			return nil
		}
	}
	return sql.ErrNoRows
}

type discardSink struct{}

func (discardSink) EmitEvent(topic string, event stream.Event) error { return nil }

func newTestProvisioner(store *fakeStore) *Provisioner {
	return &Provisioner{
		Users:    &fakeUserRepo{store: store},
		Accounts: &fakeAccountRepo{store: store},
		Events:   discardSink{},
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

func newAddressSet() *WalletAddressSet {
	return &WalletAddressSet{
		Ed25519:   solana.NewWallet().PublicKey().String(),
		Secp256k1: "0x52908400098527886E0F7030069857D2E4169EE7",
	}
}

func TestProvision_CreatesUserAccountAtomically(t *testing.T) {
	store := newFakeStore()
	prov := newTestProvisioner(store)
	addresses := newAddressSet()

	user, account, err := prov.Provision(context.Background(), &Identity{ProviderSubject: "sub-1", Email: "one@example.com"}, addresses)
	require.NoError(t, err)
	require.Equal(t, "sub-1", user.ProviderSubject)
	require.Equal(t, addresses.Ed25519, account.Address)
	require.Equal(t, addresses.Secp256k1, account.SecondaryAddress.String)
	require.Equal(t, 1, store.createCalls)
}

func TestProvision_RepeatIsNoOp(t *testing.T) {
	store := newFakeStore()
	prov := newTestProvisioner(store)
	addresses := newAddressSet()
	identity := &Identity{ProviderSubject: "sub-1", Email: "one@example.com"}

	first, _, err := prov.Provision(context.Background(), identity, addresses)
	require.NoError(t, err)

	second, _, err := prov.Provision(context.Background(), identity, addresses)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, store.createCalls)
	// identical address material results in zero writes
	require.Equal(t, 0, store.updateCalls)
}

func TestProvision_RebindsChangedAddresses(t *testing.T) {
	store := newFakeStore()
	prov := newTestProvisioner(store)
	identity := &Identity{ProviderSubject: "sub-1", Email: "one@example.com"}

	_, _, err := prov.Provision(context.Background(), identity, newAddressSet())
	require.NoError(t, err)

	rotated := newAddressSet()
	_, account, err := prov.Provision(context.Background(), identity, rotated)
	require.NoError(t, err)
	require.Equal(t, rotated.Ed25519, account.Address)
	require.Equal(t, 1, store.updateCalls)
}

func TestProvision_RejectsMalformedAddresses(t *testing.T) {
	store := newFakeStore()
	prov := newTestProvisioner(store)

	tests := []struct {
		name      string
		addresses *WalletAddressSet
	}{
		{"missing primary", &WalletAddressSet{}},
		{"malformed primary", &WalletAddressSet{Ed25519: "nope"}},
		{"malformed secondary", &WalletAddressSet{Ed25519: solana.NewWallet().PublicKey().String(), Secp256k1: "0x123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := prov.Provision(context.Background(), &Identity{ProviderSubject: "sub-x"}, tt.addresses)

			var validationErr *AddressValidationError
			require.ErrorAs(t, err, &validationErr)
			require.False(t, validationErr.Retryable())
		})
	}

	require.Equal(t, 0, store.createCalls)
}

func TestProvision_AddressConflictIsPermanent(t *testing.T) {
	store := newFakeStore()
	prov := newTestProvisioner(store)
	addresses := newAddressSet()

	_, _, err := prov.Provision(context.Background(), &Identity{ProviderSubject: "sub-1"}, addresses)
	require.NoError(t, err)

	// a different subject claiming the same address is refused without retries
	_, _, err = prov.Provision(context.Background(), &Identity{ProviderSubject: "sub-2"}, addresses)

	var conflictErr *AddressConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.False(t, conflictErr.Retryable())
	require.Equal(t, 2, store.createCalls)
}

func TestProvision_RetriesTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.createErrs = []error{&pq.Error{Code: "57P01"}} // admin shutdown, transient
	prov := newTestProvisioner(store)

	user, _, err := prov.Provision(context.Background(), &Identity{ProviderSubject: "sub-1"}, newAddressSet())
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, 2, store.createCalls)
}
