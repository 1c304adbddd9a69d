package domain

import "time"

// Account is an internal customer identity with a lamport-denominated ledger balance.
type Account struct {
	ID               int64     `json:"id"`
	ExternalID       int64     `json:"external_id"` // Messaging platform user id
	Balance          int64     `json:"balance"`     // Lamports, cached sum of ledger entries
	DepositAddress   *string   `json:"deposit_address,omitempty"`
	ReferrerID       *int64    `json:"referrer_id,omitempty"`
	ReferralEarnings int64     `json:"referral_earnings"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasAddress reports whether a receiving address has been registered.
func (a *Account) HasAddress() bool {
	return a.DepositAddress != nil && *a.DepositAddress != ""
}

// Address returns the receiving address or "" when none is registered.
func (a *Account) Address() string {
	if a.DepositAddress == nil {
		return ""
	}
	return *a.DepositAddress
}

// IsReferred reports whether the account was brought in by another account.
func (a *Account) IsReferred() bool {
	return a.ReferrerID != nil && *a.ReferrerID != a.ID
}

// ReferralStats summarises what an account earned from the accounts it referred.
type ReferralStats struct {
	AccountID        int64 `json:"account_id"`
	ReferredCount    int64 `json:"referred_count"`
	EarnedFromLedger int64 `json:"earned_from_ledger"`
	EarnedCached     int64 `json:"earned_cached"`
}
