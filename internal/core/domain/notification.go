package domain

// NotificationKind identifies the template of a user notification.
type NotificationKind string

const (
	NotificationDepositConfirmed   NotificationKind = "deposit_confirmed"
	NotificationReferralCommission NotificationKind = "referral_commission"
)

// Notification is a best-effort message to an account's external identity.
type Notification struct {
	AccountID  int64
	ExternalID int64
	Kind       NotificationKind
	Text       string
}
