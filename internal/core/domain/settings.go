package domain

// Setting keys stored in the key/value settings table.
const (
	SettingReferralBonusPercent      = "referral_bonus_percent"
	SettingReferralDiscountPercent   = "referral_discount_percent"
	SettingReferralCommissionPercent = "referral_commission_percent"
	SettingMinDepositSOL             = "min_deposit_sol"
)

// DefaultSettings are used when a key has never been written.
var DefaultSettings = map[string]string{
	SettingReferralBonusPercent:      "5",
	SettingReferralDiscountPercent:   "5",
	SettingReferralCommissionPercent: "5",
	SettingMinDepositSOL:             "0.001",
}
