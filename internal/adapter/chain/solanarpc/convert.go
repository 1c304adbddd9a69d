package solanarpc

import (
	"fmt"

	"deposit-ledger/internal/core/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// balanceChange finds address among the transaction's accounts and returns
// its pre and post balances. Versioned transactions list lookup-table
// accounts after the static keys: writable first, then read-only.
func balanceChange(staticKeys []solana.PublicKey, meta *rpc.TransactionMeta, address solana.PublicKey) (uint64, uint64, error) {
	if meta == nil {
		return 0, 0, domain.ErrNotYetAvailable
	}

	keys := make([]solana.PublicKey, 0, len(staticKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	keys = append(keys, staticKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)

	idx := -1
	for i, k := range keys {
		if k.Equals(address) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, fmt.Errorf("%w: %s", domain.ErrNotParticipant, address)
	}
	if idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return 0, 0, fmt.Errorf("%w: balances missing for account index %d", domain.ErrNotYetAvailable, idx)
	}
	return meta.PreBalances[idx], meta.PostBalances[idx], nil
}
