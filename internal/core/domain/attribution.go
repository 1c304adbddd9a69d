package domain

// AttributionStatus is the result variant of attributing one transfer.
type AttributionStatus string

const (
	AttributionCredited         AttributionStatus = "credited"
	AttributionAlreadyProcessed AttributionStatus = "already_processed"
	AttributionNotYetAvailable  AttributionStatus = "not_yet_available"
	AttributionNoOp             AttributionStatus = "no_op"
	AttributionFailed           AttributionStatus = "failed"
)

// AttributionOutcome describes what happened to one transfer signature.
type AttributionOutcome struct {
	Status        AttributionStatus
	Amount        int64 // Credited lamports
	ReferralBonus int64 // Lamports credited to the referrer
	Balance       int64 // Account balance right after the credit
	Reason        string
	Err           error
}

func Credited(amount, bonus, balance int64) AttributionOutcome {
	return AttributionOutcome{Status: AttributionCredited, Amount: amount, ReferralBonus: bonus, Balance: balance}
}

func AlreadyProcessed() AttributionOutcome {
	return AttributionOutcome{Status: AttributionAlreadyProcessed}
}

func NotYetAvailable(reason string) AttributionOutcome {
	return AttributionOutcome{Status: AttributionNotYetAvailable, Reason: reason}
}

func NoOp(reason string) AttributionOutcome {
	return AttributionOutcome{Status: AttributionNoOp, Reason: reason}
}

func Failed(err error) AttributionOutcome {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return AttributionOutcome{Status: AttributionFailed, Reason: reason, Err: err}
}

// Settled reports whether the transfer needs no further attention, so a
// watermark may move past it.
func (o AttributionOutcome) Settled() bool {
	switch o.Status {
	case AttributionCredited, AttributionAlreadyProcessed, AttributionNoOp:
		return true
	}
	return false
}
