package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"

	"github.com/rs/zerolog"
)

// ChainObserverImpl implements ports.TransferObserver on top of a chain reader.
// Every call gets its own deadline. Any upstream trouble surfaces as
// domain.ErrUpstreamUnavailable, never as an empty history.
type ChainObserverImpl struct {
	chain   ports.ChainReader
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewChainObserver creates a new ChainObserverImpl. m may be nil.
func NewChainObserver(chain ports.ChainReader, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *ChainObserverImpl {
	return &ChainObserverImpl{chain: chain, timeout: timeout, metrics: m, log: log}
}

// RecentTransfers returns one page of transfers for address, newest first.
func (o *ChainObserverImpl) RecentTransfers(ctx context.Context, address string, q domain.HistoryQuery) ([]domain.TransferRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	records, err := o.chain.RecentSignatures(callCtx, address, q)
	if err != nil {
		o.metrics.ObserveChainCall("recent_signatures", "error", time.Since(start))
		return nil, fmt.Errorf("%w: recent signatures for %s: %w", domain.ErrUpstreamUnavailable, address, err)
	}
	o.metrics.ObserveChainCall("recent_signatures", "ok", time.Since(start))
	return records, nil
}

// FetchTransferDetail resolves the balance change of address in one transfer.
// domain.ErrNotYetAvailable, domain.ErrNotParticipant and domain.ErrMalformedTransfer
// pass through unchanged.
func (o *ChainObserverImpl) FetchTransferDetail(ctx context.Context, signature string, address string) (*domain.TransferDetail, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	detail, err := o.chain.TransferDetail(callCtx, signature, address)
	switch {
	case err == nil:
		o.metrics.ObserveChainCall("transfer_detail", "ok", time.Since(start))
		return detail, nil
	case errors.Is(err, domain.ErrNotYetAvailable):
		o.metrics.ObserveChainCall("transfer_detail", "not_yet_available", time.Since(start))
		return nil, err
	case errors.Is(err, domain.ErrNotParticipant):
		o.metrics.ObserveChainCall("transfer_detail", "not_participant", time.Since(start))
		return nil, err
	case errors.Is(err, domain.ErrMalformedTransfer):
		o.metrics.ObserveChainCall("transfer_detail", "malformed", time.Since(start))
		return nil, err
	}
	o.metrics.ObserveChainCall("transfer_detail", "error", time.Since(start))
	return nil, fmt.Errorf("%w: transfer %s: %w", domain.ErrUpstreamUnavailable, signature, err)
}
