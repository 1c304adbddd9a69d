package solanarpc

import (
	"testing"

	"deposit-ledger/internal/core/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) solana.PublicKey {
	return solana.PublicKey{b}
}

func TestBalanceChange_StaticKey(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{10_000_000, 0, 1},
		PostBalances: []uint64{8_995_000, 1_000_000, 1},
	}

	pre, post, err := balanceChange([]solana.PublicKey{key(1), key(2), key(3)}, meta, key(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pre)
	assert.Equal(t, uint64(1_000_000), post)
}

func TestBalanceChange_LoadedAddresses(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{5, 6, 100, 200},
		PostBalances: []uint64{4, 6, 150, 200},
		LoadedAddresses: rpc.LoadedAddresses{
			Writable: solana.PublicKeySlice{key(3)},
			ReadOnly: solana.PublicKeySlice{key(4)},
		},
	}

	pre, post, err := balanceChange([]solana.PublicKey{key(1), key(2)}, meta, key(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pre)
	assert.Equal(t, uint64(150), post)

	pre, post, err = balanceChange([]solana.PublicKey{key(1), key(2)}, meta, key(4))
	require.NoError(t, err)
	assert.Equal(t, pre, post)
}

func TestBalanceChange_NotParticipant(t *testing.T) {
	meta := &rpc.TransactionMeta{PreBalances: []uint64{1}, PostBalances: []uint64{1}}

	_, _, err := balanceChange([]solana.PublicKey{key(1)}, meta, key(9))
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestBalanceChange_MissingMeta(t *testing.T) {
	_, _, err := balanceChange([]solana.PublicKey{key(1)}, nil, key(1))
	assert.ErrorIs(t, err, domain.ErrNotYetAvailable)

	short := &rpc.TransactionMeta{PreBalances: []uint64{1}, PostBalances: []uint64{1}}
	_, _, err = balanceChange([]solana.PublicKey{key(1), key(2)}, short, key(2))
	assert.ErrorIs(t, err, domain.ErrNotYetAvailable)
}
