package dto

import (
	"errors"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/pkg/lamports"
)

// CreateAccountRequest registers an end user by their messaging-platform id.
type CreateAccountRequest struct {
	ExternalID         int64  `json:"external_id" binding:"required,gt=0"`
	ReferrerExternalID *int64 `json:"referrer_external_id,omitempty" binding:"omitempty,gt=0"`
}

// PostingRequest is the body of a manual credit or debit.
// Exactly one of Amount (lamports) and AmountSOL must be set.
type PostingRequest struct {
	Amount    int64   `json:"amount" binding:"omitempty,gt=0"`
	AmountSOL string  `json:"amount_sol" binding:"omitempty,sol_amount"`
	Category  string  `json:"category" binding:"required,entry_category"`
	Tag       string  `json:"tag" binding:"required,max=128,safe_id"`
	OrderRef  *string `json:"order_ref,omitempty" binding:"omitempty,max=100,safe_id"`
}

var errAmountChoice = errors.New("exactly one of amount and amount_sol is required")

// Lamports resolves the requested amount.
func (r *PostingRequest) Lamports() (int64, error) {
	switch {
	case r.Amount > 0 && r.AmountSOL == "":
		return r.Amount, nil
	case r.Amount == 0 && r.AmountSOL != "":
		return lamports.FromSOL(r.AmountSOL)
	}
	return 0, errAmountChoice
}

// PurchaseRequest charges an account for an order.
type PurchaseRequest struct {
	OrderRef  string `json:"order_ref" binding:"required,max=100,safe_id"`
	UnitPrice int64  `json:"unit_price" binding:"required,gt=0"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

// SweepRequest optionally overrides the configured retention floor.
type SweepRequest struct {
	MinRetainLamports *uint64 `json:"min_retain_lamports,omitempty"`
}

// SettingRequest is the body of PUT /settings/:key.
type SettingRequest struct {
	Value string `json:"value" binding:"required,max=32"`
}

// AccountResponse is the operator view of an account.
type AccountResponse struct {
	ID               int64   `json:"id"`
	ExternalID       int64   `json:"external_id"`
	Balance          int64   `json:"balance"`
	BalanceSOL       string  `json:"balance_sol"`
	DepositAddress   *string `json:"deposit_address,omitempty"`
	ReferrerID       *int64  `json:"referrer_id,omitempty"`
	ReferralEarnings int64   `json:"referral_earnings"`
	CreatedAt        string  `json:"created_at"`
}

func NewAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:               a.ID,
		ExternalID:       a.ExternalID,
		Balance:          a.Balance,
		BalanceSOL:       lamports.Format(a.Balance, 9),
		DepositAddress:   a.DepositAddress,
		ReferrerID:       a.ReferrerID,
		ReferralEarnings: a.ReferralEarnings,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// BalanceResponse is the response for balance query.
type BalanceResponse struct {
	AccountID  int64  `json:"account_id"`
	Balance    int64  `json:"balance"`
	BalanceSOL string `json:"balance_sol"`
}

// AddressResponse carries an account's receiving address.
type AddressResponse struct {
	AccountID int64  `json:"account_id"`
	Address   string `json:"address"`
}

// EntryResponse is one statement line.
type EntryResponse struct {
	ID          int64   `json:"id"`
	Tag         string  `json:"tag"`
	Amount      int64   `json:"amount"`
	Category    string  `json:"category"`
	OrderRef    *string `json:"order_ref,omitempty"`
	ChainAmount *int64  `json:"chain_amount,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func NewEntryResponse(e *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:          e.ID,
		Tag:         e.Tag,
		Amount:      e.Amount,
		Category:    string(e.Category),
		OrderRef:    e.OrderRef,
		ChainAmount: e.ChainAmount,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// PostingResponse is returned by credits and debits.
type PostingResponse struct {
	Entry   EntryResponse `json:"entry"`
	Balance int64         `json:"balance"`
}

// PurchaseResponse reports the charge of an order.
type PurchaseResponse struct {
	OrderRef   string `json:"order_ref"`
	Charged    int64  `json:"charged"`
	Discount   int64  `json:"discount"`
	Balance    int64  `json:"balance"`
	Commission int64  `json:"commission"`
	ReferrerID *int64 `json:"referrer_id,omitempty"`
}

// EntryListResponse wraps a paginated statement.
type EntryListResponse struct {
	Items      []EntryResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}
