package domain

import "errors"

var (
	// ErrNotYetAvailable: the transfer exists but has no settlement metadata yet.
	ErrNotYetAvailable = errors.New("transfer detail not yet available")
	// ErrNotParticipant: the watched address does not appear in the transfer.
	ErrNotParticipant = errors.New("address is not a participant of the transfer")
	// ErrMalformedTransfer: the transfer cannot be decoded; it is skipped, not retried.
	ErrMalformedTransfer = errors.New("malformed transfer")
	// ErrUpstreamUnavailable: chain RPC error or timeout; retry next cycle.
	ErrUpstreamUnavailable = errors.New("chain upstream unavailable")
	// ErrTreasuryNotConfigured aborts any sweep before it touches the chain.
	ErrTreasuryNotConfigured = errors.New("treasury address not configured")
	// ErrTransferFailed: the chain executed a submitted transfer with an error.
	ErrTransferFailed      = errors.New("transfer failed on chain")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrKeypairNotFound     = errors.New("keypair not found")
	ErrAccountNotFound     = errors.New("account not found")
)
