package payments

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// NativeAsset is the sentinel asset symbol standing for the platform's base
// settlement currency. Stream-backed requests must name a fungible token
// instead because the escrow service cannot custody native coin.
const NativeAsset = ""

// Method selects how a request settles once the payer acts on it.
type Method uint8

const (
	MethodTransfer Method = iota
	MethodLinearStream
	MethodTranchedStream
)

// Valid reports whether the method value is within the supported range.
func (m Method) Valid() bool {
	switch m {
	case MethodTransfer, MethodLinearStream, MethodTranchedStream:
		return true
	default:
		return false
	}
}

func (m Method) String() string {
	switch m {
	case MethodTransfer:
		return "transfer"
	case MethodLinearStream:
		return "linear-stream"
	case MethodTranchedStream:
		return "tranched-stream"
	default:
		return "unknown"
	}
}

// ParseMethod resolves the canonical lowercase name of a settlement method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer":
		return MethodTransfer, nil
	case "linear-stream":
		return MethodLinearStream, nil
	case "tranched-stream":
		return MethodTranchedStream, nil
	default:
		return 0, fmt.Errorf("payments: unknown method %q", s)
	}
}

// Recurrence is the cadence governing how many discrete payments a
// transfer-based request expects over its window.
type Recurrence uint8

const (
	RecurrenceOneOff Recurrence = iota
	RecurrenceDaily
	RecurrenceWeekly
	RecurrenceMonthly
	RecurrenceCustom
)

// Valid reports whether the recurrence value is within the supported range.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceOneOff, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom:
		return true
	default:
		return false
	}
}

func (r Recurrence) String() string {
	switch r {
	case RecurrenceOneOff:
		return "one-off"
	case RecurrenceDaily:
		return "daily"
	case RecurrenceWeekly:
		return "weekly"
	case RecurrenceMonthly:
		return "monthly"
	case RecurrenceCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Period returns the fixed duration of a single recurrence cycle. One-off and
// custom recurrences have no fixed cycle and report zero.
func (r Recurrence) Period() time.Duration {
	switch r {
	case RecurrenceDaily:
		return 24 * time.Hour
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour
	case RecurrenceMonthly:
		return 30 * 24 * time.Hour
	case RecurrenceOneOff, RecurrenceCustom:
		return 0
	default:
		return 0
	}
}

// ParseRecurrence resolves the canonical lowercase name of a recurrence.
func ParseRecurrence(s string) (Recurrence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one-off":
		return RecurrenceOneOff, nil
	case "daily":
		return RecurrenceDaily, nil
	case "weekly":
		return RecurrenceWeekly, nil
	case "monthly":
		return RecurrenceMonthly, nil
	case "custom":
		return RecurrenceCustom, nil
	default:
		return 0, fmt.Errorf("payments: unknown recurrence %q", s)
	}
}

// Status is the derived lifecycle state of a request. It is never stored;
// ResolveStatus recomputes it from the record and the live escrow state.
type Status uint8

const (
	StatusPending Status = iota
	StatusExpired
	StatusOngoing
	StatusPaid
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExpired:
		return "expired"
	case StatusOngoing:
		return "ongoing"
	case StatusPaid:
		return "paid"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RequestConfig captures the settlement parameters of a request. PaymentsLeft
// and StreamID are the only fields mutated after creation.
type RequestConfig struct {
	Method       Method
	Recurrence   Recurrence
	CanExpire    bool
	PaymentsLeft uint64
	Amount       *big.Int
	Asset        string
	StreamID     uint64
}

// PaymentRequest is a single payment obligation between a recipient owed
// funds and the payer who settles it. Records are never deleted; a canceled
// or fully paid request stays queryable as history.
type PaymentRequest struct {
	ID          uint64
	Sender      [20]byte
	Recipient   [20]byte
	StartTime   int64
	EndTime     int64
	WasAccepted bool
	WasCanceled bool
	CreatedAt   int64
	Config      RequestConfig
}

// Exists reports whether the record refers to a stored request. The zero
// recipient doubles as the "not found" sentinel throughout the engine.
func (p *PaymentRequest) Exists() bool {
	return p != nil && p.Recipient != ([20]byte{})
}

// Clone returns a deep copy so callers can mutate freely without touching the
// stored instance.
func (p *PaymentRequest) Clone() *PaymentRequest {
	if p == nil {
		return nil
	}
	out := *p
	if p.Config.Amount != nil {
		out.Config.Amount = new(big.Int).Set(p.Config.Amount)
	} else {
		out.Config.Amount = big.NewInt(0)
	}
	return &out
}

// NormalizeAsset canonicalises an asset symbol. The empty string is the
// native-currency sentinel and passes through unchanged.
func NormalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsNativeAsset reports whether the symbol names the platform's base currency.
func IsNativeAsset(symbol string) bool {
	return NormalizeAsset(symbol) == NativeAsset
}

// SanitizeRequest validates the at-rest invariants of a request and returns a
// normalised clone. Ledger implementations call it before persisting so a
// corrupt record can never be stored.
func SanitizeRequest(p *PaymentRequest) (*PaymentRequest, error) {
	if p == nil {
		return nil, fmt.Errorf("payments: nil request")
	}
	clone := p.Clone()
	if !clone.Exists() {
		return nil, ErrInvalidRecipient
	}
	if clone.Config.Amount == nil || clone.Config.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if clone.StartTime >= clone.EndTime {
		return nil, ErrInvalidWindow
	}
	if !clone.Config.Method.Valid() {
		return nil, fmt.Errorf("payments: invalid method %d", clone.Config.Method)
	}
	if !clone.Config.Recurrence.Valid() {
		return nil, fmt.Errorf("payments: invalid recurrence %d", clone.Config.Recurrence)
	}
	if clone.Config.Method == MethodTranchedStream && clone.Config.Recurrence == RecurrenceOneOff {
		return nil, ErrOneOffTranche
	}
	if clone.Config.Recurrence == RecurrenceCustom && clone.Config.Method != MethodTransfer {
		return nil, ErrCustomNeedsTransfer
	}
	clone.Config.Asset = NormalizeAsset(clone.Config.Asset)
	if clone.Config.Method != MethodTransfer && IsNativeAsset(clone.Config.Asset) {
		return nil, ErrNativeAssetStream
	}
	return clone, nil
}
