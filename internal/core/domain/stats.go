package domain

// BalanceCheck compares the cached balance with the sum of ledger entries.
type BalanceCheck struct {
	AccountID  int64 `json:"account_id"`
	Cached     int64 `json:"cached"`
	LedgerSum  int64 `json:"ledger_sum"`
	Drift      int64 `json:"drift"`
	Consistent bool  `json:"consistent"`
}

// SystemStats holds population-wide ledger totals.
type SystemStats struct {
	Accounts              int64 `json:"accounts"`
	AccountsWithAddress   int64 `json:"accounts_with_address"`
	TotalDeposits         int64 `json:"total_deposits"`
	TotalReferralEarnings int64 `json:"total_referral_earnings"`
	TotalSwept            int64 `json:"total_swept"`
}
