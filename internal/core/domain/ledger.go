package domain

import "time"

// EntryCategory classifies a balance-affecting ledger event.
type EntryCategory string

const (
	CategoryDeposit            EntryCategory = "deposit"
	CategoryPurchase           EntryCategory = "purchase"
	CategoryReferralBonus      EntryCategory = "referral_bonus"
	CategoryReferralCommission EntryCategory = "referral_commission"
	CategorySweep              EntryCategory = "sweep"
	CategoryAdjustment         EntryCategory = "adjustment"
)

// Valid reports whether c is a known category.
func (c EntryCategory) Valid() bool {
	switch c {
	case CategoryDeposit, CategoryPurchase, CategoryReferralBonus,
		CategoryReferralCommission, CategorySweep, CategoryAdjustment:
		return true
	}
	return false
}

// IsReferral reports whether entries of this category count as referral earnings.
func (c EntryCategory) IsReferral() bool {
	return c == CategoryReferralBonus || c == CategoryReferralCommission
}

// LedgerEntry is an immutable, append-only balance change. Tag is globally unique:
// for deposits it is the chain signature, for derived entries a prefixed form of it.
type LedgerEntry struct {
	ID          int64         `json:"id"`
	AccountID   int64         `json:"account_id"`
	Tag         string        `json:"tag"`
	Amount      int64         `json:"amount"` // Signed lamports
	Category    EntryCategory `json:"category"`
	OrderRef    *string       `json:"order_ref,omitempty"`
	ChainAmount *int64        `json:"chain_amount,omitempty"` // Sweeps: lamports moved on chain
	CreatedAt   time.Time     `json:"created_at"`
}

// ReferralBonusTag derives the referrer's bonus tag from a deposit signature.
func ReferralBonusTag(signature string) string {
	return "referral_" + signature
}

// PurchaseTag builds the tag of a purchase debit.
func PurchaseTag(orderRef string) string {
	return "order_" + orderRef
}

// CommissionTag builds the tag of a referrer's commission on a purchase.
func CommissionTag(orderRef string) string {
	return "ref_purchase_" + orderRef
}
