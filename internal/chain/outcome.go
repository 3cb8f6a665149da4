package chain

// Status classifies the terminal result of one submission attempt.
type Status int

const (
	// StatusConfirmed: included on-chain and executed successfully.
	StatusConfirmed Status = iota
	// StatusReverted: included on-chain but rejected by contract logic.
	// Not retryable; a revert under unchanged conditions reverts again.
	StatusReverted
	// StatusNetworkError: the attempt never reached a broadcast the
	// network accepted. Retryable.
	StatusNetworkError
	// StatusTimeout: broadcast succeeded but no receipt appeared within
	// the confirmation bound. Retryable, but the original transaction may
	// still land; re-submission must re-check it first.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusReverted:
		return "reverted"
	case StatusNetworkError:
		return "network_error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry controller may attempt again.
func (s Status) Retryable() bool {
	return s == StatusNetworkError || s == StatusTimeout
}

// Outcome is the terminal report of a single Submit call.
type Outcome struct {
	Status Status
	TxHash string // set once a broadcast was accepted, empty otherwise
	Err    error  // diagnostic detail; nil on StatusConfirmed
}
