package domain

import "time"

// TransferRecord is one entry of an address's chain history.
type TransferRecord struct {
	Signature string
	Address   string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool // Executed with an error on chain
}

// HistoryQuery selects one page of an address's history, newest first.
type HistoryQuery struct {
	Before string // only transfers older than this signature; empty starts at the newest
	Until  string // stop before reaching this signature; empty walks to the start of history
	Limit  int
}

// TransferDetail carries the settled balances of Address around one transfer.
type TransferDetail struct {
	Signature   string
	Address     string
	PreBalance  uint64
	PostBalance uint64
}

// NetReceived is the lamport delta at Address; negative for outgoing transfers.
func (d TransferDetail) NetReceived() int64 {
	return int64(d.PostBalance) - int64(d.PreBalance)
}
