package service

import (
	"fmt"

	"deposit-ledger/pkg/lamports"
)

// User-facing messages use Telegram HTML markup.

func depositConfirmedText(balance int64) string {
	return fmt.Sprintf("✅ <b>Deposit Confirmed!</b>\n\nYour balance has been updated.\nCurrent balance: <b>%s SOL</b>",
		lamports.Format(balance, 6))
}

func referralCommissionText(commission, balance int64) string {
	return fmt.Sprintf("🎉 <b>Referral Commission!</b>\n\nYour referral made a purchase!\n💰 You earned: <b>%s SOL</b>\n\nNew balance: <b>%s SOL</b>",
		lamports.Format(commission, 6), lamports.Format(balance, 6))
}
