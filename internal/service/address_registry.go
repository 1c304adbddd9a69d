package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

const provisionLockPrefix = "provision:"

// AddressRegistryImpl implements ports.AddressRegistry.
//
// The keystore table is authoritative. The in-memory cache only saves a decrypt
// and a round trip, and is rebuilt from the keystore by Warm.
type AddressRegistryImpl struct {
	accounts ports.AccountRepository
	keystore ports.KeystoreRepository
	keygen   ports.KeyGenerator
	enc      ports.EncryptionService
	locks    ports.LockStore // optional, serialises provisioning across processes
	lockTTL  time.Duration
	log      zerolog.Logger

	local *keyedMutex

	cacheMu sync.RWMutex
	cache   map[int64]domain.Keypair
}

// NewAddressRegistry creates a new AddressRegistryImpl. locks may be nil.
func NewAddressRegistry(
	accounts ports.AccountRepository,
	keystore ports.KeystoreRepository,
	keygen ports.KeyGenerator,
	enc ports.EncryptionService,
	locks ports.LockStore,
	lockTTL time.Duration,
	log zerolog.Logger,
) *AddressRegistryImpl {
	return &AddressRegistryImpl{
		accounts: accounts,
		keystore: keystore,
		keygen:   keygen,
		enc:      enc,
		locks:    locks,
		lockTTL:  lockTTL,
		log:      log,
		local:    newKeyedMutex(),
		cache:    make(map[int64]domain.Keypair),
	}
}

// Warm loads every stored keypair into the cache. Records that fail to decrypt
// are logged and skipped; they are retried from the keystore on demand.
func (r *AddressRegistryImpl) Warm(ctx context.Context) (int, error) {
	records, err := r.keystore.List(ctx)
	if err != nil {
		return 0, apperror.ErrKeystoreFailure(fmt.Errorf("list keystore: %w", err))
	}

	loaded := 0
	for i := range records {
		kp, err := r.decrypt(&records[i])
		if err != nil {
			r.log.Error().Err(err).Int64("account_id", records[i].AccountID).Msg("cannot decrypt stored keypair")
			continue
		}
		r.remember(*kp)
		loaded++
	}

	r.log.Info().Int("keypairs", loaded).Msg("keystore loaded")
	return loaded, nil
}

// GetOrCreateAddress returns the account's receiving address, provisioning one
// on first use. Concurrent callers for the same account all get the same address.
func (r *AddressRegistryImpl) GetOrCreateAddress(ctx context.Context, accountID int64) (string, error) {
	account, err := r.account(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.HasAddress() {
		return account.Address(), nil
	}

	unlock := r.local.Lock(accountID)
	defer unlock()

	if r.locks != nil {
		key := provisionLockPrefix + strconv.FormatInt(accountID, 10)
		token, ok, err := r.locks.Acquire(ctx, key, r.lockTTL)
		if err != nil {
			return "", apperror.InternalError(fmt.Errorf("acquire provisioning lock: %w", err))
		}
		if !ok {
			return "", apperror.ErrProvisioningBusy()
		}
		defer func() {
			if err := r.locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
				r.log.Warn().Err(err).Int64("account_id", accountID).Msg("release provisioning lock")
			}
		}()
	}

	// Double-check under the lock.
	account, err = r.account(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.HasAddress() {
		return account.Address(), nil
	}

	kp, err := r.lookup(ctx, accountID)
	if err != nil {
		return "", err
	}
	if kp == nil {
		kp, err = r.generate(ctx, accountID)
		if err != nil {
			return "", err
		}
	} else {
		r.log.Info().Int64("account_id", accountID).Str("address", kp.PublicKey).Msg("reusing orphaned keypair")
	}

	assigned, err := r.accounts.AssignAddress(ctx, accountID, kp.PublicKey)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("assign address: %w", err))
	}
	if !assigned {
		account, err = r.account(ctx, accountID)
		if err != nil {
			return "", err
		}
		r.log.Warn().Int64("account_id", accountID).Str("address", account.Address()).Msg("address assigned concurrently")
		return account.Address(), nil
	}

	r.log.Info().Int64("account_id", accountID).Str("address", kp.PublicKey).Msg("receiving address provisioned")
	return kp.PublicKey, nil
}

// Keypair returns the decrypted keypair for the account.
func (r *AddressRegistryImpl) Keypair(ctx context.Context, accountID int64) (*domain.Keypair, error) {
	kp, err := r.lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if kp == nil {
		return nil, domain.ErrKeypairNotFound
	}
	return kp, nil
}

// lookup checks the cache, then the keystore. Returns nil when neither has one.
func (r *AddressRegistryImpl) lookup(ctx context.Context, accountID int64) (*domain.Keypair, error) {
	r.cacheMu.RLock()
	kp, ok := r.cache[accountID]
	r.cacheMu.RUnlock()
	if ok {
		return &kp, nil
	}

	record, err := r.keystore.Get(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrKeystoreFailure(fmt.Errorf("get keypair: %w", err))
	}
	if record == nil {
		return nil, nil
	}
	loaded, err := r.decrypt(record)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}
	r.remember(*loaded)
	return loaded, nil
}

// generate creates a keypair and persists it before returning. If another process
// stored one first, that one wins.
func (r *AddressRegistryImpl) generate(ctx context.Context, accountID int64) (*domain.Keypair, error) {
	pub, priv, err := r.keygen.Generate()
	if err != nil {
		return nil, apperror.ErrKeystoreFailure(fmt.Errorf("generate keypair: %w", err))
	}
	sealed, err := r.enc.Encrypt(priv)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt private key: %w", err))
	}

	inserted, err := r.keystore.Insert(ctx, &domain.KeystoreRecord{
		AccountID:           accountID,
		PublicKey:           pub,
		EncryptedPrivateKey: sealed,
	})
	if err != nil {
		return nil, apperror.ErrKeystoreFailure(fmt.Errorf("store keypair: %w", err))
	}
	if !inserted {
		existing, err := r.lookup(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperror.ErrKeystoreFailure(fmt.Errorf("keypair for account %d missing after conflict", accountID))
		}
		return existing, nil
	}

	kp := domain.Keypair{AccountID: accountID, PublicKey: pub, PrivateKey: priv}
	r.remember(kp)
	return &kp, nil
}

func (r *AddressRegistryImpl) decrypt(record *domain.KeystoreRecord) (*domain.Keypair, error) {
	priv, err := r.enc.Decrypt(record.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt keypair for account %d: %w", record.AccountID, err)
	}
	return &domain.Keypair{AccountID: record.AccountID, PublicKey: record.PublicKey, PrivateKey: priv}, nil
}

func (r *AddressRegistryImpl) remember(kp domain.Keypair) {
	r.cacheMu.Lock()
	r.cache[kp.AccountID] = kp
	r.cacheMu.Unlock()
}

func (r *AddressRegistryImpl) account(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}
