package payments

import "fmt"

// ResolveStatus derives the lifecycle status of a request from its stored
// fields and, for escrow-backed requests, the live disbursement state. The
// result is never cached: the escrow's state moves independently of this
// system, so every caller recomputes. Decision order, first match wins:
//
//  1. Untouched request: Expired when it can expire and the window passed,
//     Pending otherwise.
//  2. Escrow-backed request: the disbursement state decides. A depleted
//     disbursement that released strictly less than the requested amount was
//     cut short and counts as Canceled; one that released everything is Paid.
//  3. Transfer-based request: the cancellation flag, then the remaining
//     payment counter.
func ResolveStatus(req *PaymentRequest, streams StreamClient, now int64) (Status, error) {
	if !req.Exists() {
		return 0, ErrNotFound
	}
	if !req.WasAccepted && !req.WasCanceled {
		if req.Config.CanExpire && now > req.EndTime {
			return StatusExpired, nil
		}
		return StatusPending, nil
	}
	if req.Config.StreamID != 0 {
		if streams == nil {
			return 0, fmt.Errorf("payments: stream client not configured")
		}
		state, err := streams.StreamStatus(req.Config.StreamID)
		if err != nil {
			return 0, fmt.Errorf("payments: query stream %d: %w", req.Config.StreamID, err)
		}
		switch state {
		case StreamSettled:
			return StatusPaid, nil
		case StreamDepleted:
			released, err := streams.StreamedAmount(req.Config.StreamID)
			if err != nil {
				return 0, fmt.Errorf("payments: query streamed amount %d: %w", req.Config.StreamID, err)
			}
			if released == nil || released.Cmp(req.Config.Amount) < 0 {
				return StatusCanceled, nil
			}
			return StatusPaid, nil
		case StreamCanceled:
			return StatusCanceled, nil
		case StreamPending, StreamStreaming:
			return StatusOngoing, nil
		default:
			return StatusOngoing, nil
		}
	}
	if req.WasCanceled {
		return StatusCanceled, nil
	}
	if req.Config.PaymentsLeft == 0 {
		return StatusPaid, nil
	}
	return StatusOngoing, nil
}
