package ports

//go:generate mockgen -source=chain.go -destination=mocks/mock_chain.go -package=mocks

import (
	"context"

	"deposit-ledger/internal/core/domain"
)

// ChainReader is the external chain query interface.
type ChainReader interface {
	// RecentSignatures returns one page of transfers touching address, newest first.
	RecentSignatures(ctx context.Context, address string, q domain.HistoryQuery) ([]domain.TransferRecord, error)
	// TransferDetail resolves pre/post balances of address in one transfer.
	// Returns domain.ErrNotYetAvailable, domain.ErrNotParticipant or
	// domain.ErrMalformedTransfer when it cannot.
	TransferDetail(ctx context.Context, signature string, address string) (*domain.TransferDetail, error)
	Balance(ctx context.Context, address string) (uint64, error)
}

// ChainSubmitter is the external chain submit interface.
type ChainSubmitter interface {
	// SubmitTransfer signs a native transfer with from and returns its signature.
	SubmitTransfer(ctx context.Context, from domain.Keypair, to string, lamports uint64) (string, error)
	// AwaitConfirmation polls until the signature is confirmed, fails, or ctx ends.
	AwaitConfirmation(ctx context.Context, signature string) error
}

// KeyGenerator yields fresh chain keypairs; both halves are opaque strings.
type KeyGenerator interface {
	Generate() (string, string, error)
}

// Notifier is the notification sink for an account's external identity.
type Notifier interface {
	Send(ctx context.Context, externalID int64, text string) error
}
