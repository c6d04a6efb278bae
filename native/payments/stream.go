package payments

import "math/big"

// StreamState mirrors the settlement states reported by the external
// escrow/streaming service for a single disbursement.
type StreamState uint8

const (
	// StreamPending covers a disbursement that has not started vesting yet.
	StreamPending StreamState = iota
	// StreamStreaming covers a live disbursement still releasing funds.
	StreamStreaming
	// StreamSettled means every unit was released and withdrawn.
	StreamSettled
	// StreamDepleted means the disbursement stopped releasing funds, either
	// because it ran to completion or was cut short externally.
	StreamDepleted
	// StreamCanceled means the escrow service itself voided the disbursement.
	StreamCanceled
)

func (s StreamState) String() string {
	switch s {
	case StreamPending:
		return "pending"
	case StreamStreaming:
		return "streaming"
	case StreamSettled:
		return "settled"
	case StreamDepleted:
		return "depleted"
	case StreamCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// StreamClient is the escrow/streaming collaborator consumed by the engine.
// The service owns disbursement lifecycle and authorization; the engine only
// issues commands and queries. Implementations may have unbounded latency and
// any error they return aborts the enclosing operation verbatim.
type StreamClient interface {
	// CreateLinearStream opens a continuously-vesting disbursement of amount
	// over [start, end] to the recipient and returns its reference.
	CreateLinearStream(asset string, amount *big.Int, start, end int64, recipient [20]byte) (uint64, error)
	// CreateTranchedStream opens a disbursement that releases amount in
	// tranches equal installments on the given cadence.
	CreateTranchedStream(asset string, amount *big.Int, start int64, recipient [20]byte, tranches uint64, rec Recurrence) (uint64, error)
	// CancelStream voids an in-flight disbursement. The escrow service
	// performs its own caller authorization.
	CancelStream(streamID uint64, caller [20]byte) error
	// WithdrawStream moves already-released funds to the given address and
	// returns the amount moved.
	WithdrawStream(streamID uint64, to [20]byte) (*big.Int, error)
	// StreamStatus reports the settlement state of a disbursement.
	StreamStatus(streamID uint64) (StreamState, error)
	// StreamedAmount reports the cumulative funds released so far.
	StreamedAmount(streamID uint64) (*big.Int, error)
}

// AssetMover is the asset-custody collaborator that physically moves funds
// for direct transfers. Token transfers debit the payer's prior allowance;
// native transfers spend the value attached to the call.
type AssetMover interface {
	SendNative(from, to [20]byte, amount *big.Int) error
	TransferFrom(asset string, from, to [20]byte, amount *big.Int) error
}
