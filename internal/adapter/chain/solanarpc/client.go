// Package solanarpc implements the chain ports against a Solana JSON-RPC node.
package solanarpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-ledger/config"
	"deposit-ledger/internal/core/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rpcAPI is the subset of *rpc.Client used here.
type rpcAPI interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, transaction *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Client implements ports.ChainReader and ports.ChainSubmitter.
type Client struct {
	api                 rpcAPI
	commitment          rpc.CommitmentType
	limiter             *rate.Limiter
	confirmTimeout      time.Duration
	confirmPollInterval time.Duration
	log                 zerolog.Logger
}

// NewClient dials nothing; the first request opens the connection.
func NewClient(cfg config.SolanaConfig, log zerolog.Logger) *Client {
	return newClient(rpc.New(cfg.RPCURL), cfg, log)
}

func newClient(api rpcAPI, cfg config.SolanaConfig, log zerolog.Logger) *Client {
	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		api:                 api,
		commitment:          commitment,
		limiter:             rate.NewLimiter(rate.Limit(rps), burst),
		confirmTimeout:      cfg.ConfirmTimeout,
		confirmPollInterval: cfg.ConfirmPollInterval,
		log:                 log,
	}
}

// RecentSignatures returns one page of signatures touching address, newest first.
// q.Before and q.Until map onto the RPC's paging cursors.
func (c *Client) RecentSignatures(ctx context.Context, address string, q domain.HistoryQuery) ([]domain.TransferRecord, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}

	limit := q.Limit
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.commitment,
	}
	if q.Before != "" {
		if opts.Before, err = solana.SignatureFromBase58(q.Before); err != nil {
			return nil, fmt.Errorf("parse before cursor: %w", err)
		}
	}
	if q.Until != "" {
		if opts.Until, err = solana.SignatureFromBase58(q.Until); err != nil {
			return nil, fmt.Errorf("parse until cursor: %w", err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sigs, err := c.api.GetSignaturesForAddressWithOpts(ctx, pk, opts)
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}

	records := make([]domain.TransferRecord, 0, len(sigs))
	for _, s := range sigs {
		if s == nil {
			continue
		}
		rec := domain.TransferRecord{
			Signature: s.Signature.String(),
			Address:   address,
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			t := s.BlockTime.Time().UTC()
			rec.BlockTime = &t
		}
		records = append(records, rec)
	}
	return records, nil
}

// TransferDetail resolves the balance change of address in one transaction.
func (c *Client) TransferDetail(ctx context.Context, signature string, address string) (*domain.TransferDetail, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	out, err := c.api.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, domain.ErrNotYetAvailable
		}
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return nil, domain.ErrNotYetAvailable
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction %s: %v", domain.ErrMalformedTransfer, signature, err)
	}

	pre, post, err := balanceChange(tx.Message.AccountKeys, out.Meta, pk)
	if err != nil {
		return nil, err
	}
	return &domain.TransferDetail{
		Signature:   signature,
		Address:     address,
		PreBalance:  pre,
		PostBalance: post,
	}, nil
}

// Balance returns the on-chain lamport balance of address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("parse address: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.api.GetBalance(ctx, pk, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", address, err)
	}
	return out.Value, nil
}

// SubmitTransfer signs a system transfer of lamports from -> to and sends it.
func (c *Client) SubmitTransfer(ctx context.Context, from domain.Keypair, to string, lamports uint64) (string, error) {
	signer, err := solana.PrivateKeyFromBase58(from.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("parse signer key: %w", err)
	}
	if signer.PublicKey().String() != from.PublicKey {
		return "", fmt.Errorf("signer key does not match address %s", from.PublicKey)
	}
	dest, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	bh, err := c.api.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		c.log.Debug().Err(err).Msg("finalized blockhash unavailable, falling back to confirmed")
		bh, err = c.api.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return "", fmt.Errorf("get latest blockhash: %w", err)
		}
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, signer.PublicKey(), dest).Build(),
		},
		bh.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sig, err := c.api.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return sig.String(), nil
}

// AwaitConfirmation polls the signature status until it is confirmed or
// finalized, the chain reports an error, or the confirm timeout passes.
func (c *Client) AwaitConfirmation(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	poll := c.confirmPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := c.api.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return errors.New("signature status not available yet")
		}
		st := out.Value[0]
		if st.Err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrTransferFailed, st.Err))
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return fmt.Errorf("signature status %q", st.ConfirmationStatus)
	}

	return backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(poll), ctx))
}
