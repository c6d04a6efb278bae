package events

import (
	"math/big"
	"strconv"

	"payflow/core/types"
	"payflow/crypto"
)

const (
	TypePaymentRequestCreated  = "payments.request.created"
	TypePaymentRequestPaid     = "payments.request.paid"
	TypePaymentRequestCanceled = "payments.request.canceled"
	TypePaymentStreamWithdrawn = "payments.stream.withdrawn"
)

// PaymentRequestCreated is emitted once a request passes creation validation
// and lands in the ledger.
type PaymentRequestCreated struct {
	ID         uint64
	Sender     [20]byte
	Recipient  [20]byte
	StartTime  int64
	EndTime    int64
	Method     string
	Recurrence string
	CanExpire  bool
	Payments   uint64
	Amount     *big.Int
	Asset      string
}

func (PaymentRequestCreated) EventType() string { return TypePaymentRequestCreated }

func (e PaymentRequestCreated) Event() *types.Event {
	attrs := map[string]string{
		"id":         strconv.FormatUint(e.ID, 10),
		"recipient":  formatAddress(e.Recipient),
		"startTime":  strconv.FormatInt(e.StartTime, 10),
		"endTime":    strconv.FormatInt(e.EndTime, 10),
		"method":     e.Method,
		"recurrence": e.Recurrence,
		"canExpire":  strconv.FormatBool(e.CanExpire),
		"payments":   strconv.FormatUint(e.Payments, 10),
		"amount":     formatAmount(e.Amount),
		"asset":      e.Asset,
	}
	if e.Sender != ([20]byte{}) {
		attrs["sender"] = formatAddress(e.Sender)
	}
	return &types.Event{Type: TypePaymentRequestCreated, Attributes: attrs}
}

// PaymentRequestPaid is emitted after a payment action commits, carrying the
// resulting config snapshot so indexers can track the remaining schedule.
type PaymentRequestPaid struct {
	ID           uint64
	Payer        [20]byte
	Recipient    [20]byte
	Method       string
	PaymentsLeft uint64
	Amount       *big.Int
	Asset        string
	StreamID     uint64
}

func (PaymentRequestPaid) EventType() string { return TypePaymentRequestPaid }

func (e PaymentRequestPaid) Event() *types.Event {
	attrs := map[string]string{
		"id":           strconv.FormatUint(e.ID, 10),
		"payer":        formatAddress(e.Payer),
		"recipient":    formatAddress(e.Recipient),
		"method":       e.Method,
		"paymentsLeft": strconv.FormatUint(e.PaymentsLeft, 10),
		"amount":       formatAmount(e.Amount),
		"asset":        e.Asset,
	}
	if e.StreamID != 0 {
		attrs["streamId"] = strconv.FormatUint(e.StreamID, 10)
	}
	return &types.Event{Type: TypePaymentRequestPaid, Attributes: attrs}
}

// PaymentRequestCanceled is emitted once a cancellation commits.
type PaymentRequestCanceled struct {
	ID uint64
}

func (PaymentRequestCanceled) EventType() string { return TypePaymentRequestCanceled }

func (e PaymentRequestCanceled) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentRequestCanceled,
		Attributes: map[string]string{
			"id": strconv.FormatUint(e.ID, 10),
		},
	}
}

// PaymentStreamWithdrawn is emitted when released escrow funds are pulled to
// a destination address.
type PaymentStreamWithdrawn struct {
	ID       uint64
	StreamID uint64
	To       [20]byte
	Amount   *big.Int
}

func (PaymentStreamWithdrawn) EventType() string { return TypePaymentStreamWithdrawn }

func (e PaymentStreamWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentStreamWithdrawn,
		Attributes: map[string]string{
			"id":       strconv.FormatUint(e.ID, 10),
			"streamId": strconv.FormatUint(e.StreamID, 10),
			"to":       formatAddress(e.To),
			"amount":   formatAmount(e.Amount),
		},
	}
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
