package payments

import "time"

// PaymentCount converts a request window into the number of discrete payments
// a recurring cadence fits inside it, integer-truncated. One-off requests are
// handled by the caller and custom recurrences supply their count directly,
// so both report zero here. The function is pure and deterministic.
func PaymentCount(rec Recurrence, interval time.Duration) uint64 {
	if interval <= 0 {
		return 0
	}
	period := rec.Period()
	if period <= 0 {
		return 0
	}
	return uint64(interval / period)
}
