package payments

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"payflow/core/events"
)

var (
	errNilLedger  = errors.New("payments engine: ledger not configured")
	errNilStreams = errors.New("payments engine: stream client not configured")
	errNilAssets  = errors.New("payments engine: asset mover not configured")
)

// Engine wires the payment-request lifecycle logic with the ledger and the
// external escrow and asset-movement collaborators. Every public operation is
// all-or-nothing: a guard or collaborator failure leaves the stored record
// exactly as it was.
type Engine struct {
	ledger  Ledger
	streams StreamClient
	assets  AssetMover
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine(ledger Ledger, streams StreamClient, assets AssetMover) *Engine {
	return &Engine{
		ledger:  ledger,
		streams: streams,
		assets:  assets,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) window(req *PaymentRequest) time.Duration {
	return time.Duration(req.EndTime-req.StartTime) * time.Second
}

// paymentSchedule derives the stored payment count for a freshly validated
// request. Custom cadences take the caller-supplied count verbatim; a linear
// stream is inherently a single continuous instance; a tranched stream still
// validates the window against the cadence but stores one, because the
// tranche count is recomputed at payment time.
func (e *Engine) paymentSchedule(req *PaymentRequest) (uint64, error) {
	switch req.Config.Recurrence {
	case RecurrenceCustom:
		if req.Config.PaymentsLeft == 0 {
			return 0, ErrIntervalTooShort
		}
		return req.Config.PaymentsLeft, nil
	case RecurrenceOneOff:
		return 1, nil
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		if req.Config.Method == MethodLinearStream {
			return 1, nil
		}
		count := PaymentCount(req.Config.Recurrence, e.window(req))
		if count == 0 {
			return 0, ErrIntervalTooShort
		}
		if req.Config.Method == MethodTranchedStream {
			return 1, nil
		}
		return count, nil
	default:
		return 0, fmt.Errorf("payments: invalid recurrence %d", req.Config.Recurrence)
	}
}

// Create validates and stores a new payment request, assigning the next
// sequential identifier. The identifier counter only advances once every
// guard has passed, so a rejected creation leaves no trace. The sender may be
// pre-bound or left zero to be filled in by whichever party first pays.
func (e *Engine) Create(req *PaymentRequest) (*PaymentRequest, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	if req == nil {
		return nil, fmt.Errorf("payments: nil request")
	}
	now := e.now()
	clone := req.Clone()
	clone.Config.Asset = NormalizeAsset(clone.Config.Asset)
	if !clone.Exists() {
		return nil, ErrInvalidRecipient
	}
	if clone.Config.Amount == nil || clone.Config.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if clone.StartTime >= clone.EndTime {
		return nil, ErrInvalidWindow
	}
	if clone.EndTime < now {
		return nil, ErrWindowInPast
	}
	if !clone.Config.Method.Valid() {
		return nil, fmt.Errorf("payments: invalid method %d", clone.Config.Method)
	}
	if clone.Config.Method == MethodTranchedStream && clone.Config.Recurrence == RecurrenceOneOff {
		return nil, ErrOneOffTranche
	}
	if clone.Config.Recurrence == RecurrenceCustom && clone.Config.Method != MethodTransfer {
		return nil, ErrCustomNeedsTransfer
	}
	if clone.Config.Method != MethodTransfer && IsNativeAsset(clone.Config.Asset) {
		return nil, ErrNativeAssetStream
	}
	count, err := e.paymentSchedule(clone)
	if err != nil {
		return nil, err
	}
	clone.Config.PaymentsLeft = count
	clone.Config.StreamID = 0
	clone.WasAccepted = false
	clone.WasCanceled = false
	clone.CreatedAt = now

	id, err := e.ledger.NextRequestID()
	if err != nil {
		return nil, err
	}
	clone.ID = id
	if err := e.ledger.RequestPut(clone); err != nil {
		return nil, err
	}
	e.emit(events.PaymentRequestCreated{
		ID:         clone.ID,
		Sender:     clone.Sender,
		Recipient:  clone.Recipient,
		StartTime:  clone.StartTime,
		EndTime:    clone.EndTime,
		Method:     clone.Config.Method.String(),
		Recurrence: clone.Config.Recurrence.String(),
		CanExpire:  clone.Config.CanExpire,
		Payments:   clone.Config.PaymentsLeft,
		Amount:     clone.Config.Amount,
		Asset:      clone.Config.Asset,
	})
	return clone.Clone(), nil
}

// Pay performs a single payment action on behalf of payer. For transfer-based
// requests it moves one instalment to the recipient; for stream-backed
// requests it opens the disbursement with the escrow service and records the
// returned reference. The local mutations (sender binding, counter decrement,
// acceptance flag) are committed before any collaborator is invoked, so a
// re-entrant call already observes the payment as taken; a collaborator
// failure rolls the record back to its prior state.
func (e *Engine) Pay(id uint64, payer [20]byte, value *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	req, err := e.load(id)
	if err != nil {
		return err
	}
	status, err := ResolveStatus(req, e.streams, e.now())
	if err != nil {
		return err
	}
	switch {
	case status == StatusExpired:
		return ErrExpired
	case status == StatusPaid:
		return ErrAlreadyPaid
	case status == StatusOngoing && req.Config.StreamID != 0:
		// A stream-backed request accepts exactly one payment action; all
		// further settlement happens inside the escrow service.
		return ErrAlreadyPaid
	case status == StatusCanceled:
		return ErrAlreadyCanceled
	}

	prior := req.Clone()
	staged := req.Clone()
	if staged.Sender == ([20]byte{}) {
		staged.Sender = payer
	}
	if staged.Config.PaymentsLeft > 0 {
		staged.Config.PaymentsLeft--
	}
	staged.WasAccepted = true
	if err := e.ledger.RequestPut(staged); err != nil {
		return err
	}

	if dispatchErr := e.dispatch(staged, payer, value); dispatchErr != nil {
		if putErr := e.ledger.RequestPut(prior); putErr != nil {
			return errors.Join(dispatchErr, putErr)
		}
		return dispatchErr
	}
	e.emit(events.PaymentRequestPaid{
		ID:           staged.ID,
		Payer:        payer,
		Recipient:    staged.Recipient,
		Method:       staged.Config.Method.String(),
		PaymentsLeft: staged.Config.PaymentsLeft,
		Amount:       staged.Config.Amount,
		Asset:        staged.Config.Asset,
		StreamID:     staged.Config.StreamID,
	})
	return nil
}

func (e *Engine) dispatch(staged *PaymentRequest, payer [20]byte, value *big.Int) error {
	cfg := staged.Config
	switch cfg.Method {
	case MethodTransfer:
		if e.assets == nil {
			return errNilAssets
		}
		if IsNativeAsset(cfg.Asset) {
			if value == nil || value.Cmp(cfg.Amount) < 0 {
				return ErrPaymentBelowAmount
			}
			if err := e.assets.SendNative(payer, staged.Recipient, cfg.Amount); err != nil {
				return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
			}
			return nil
		}
		return e.assets.TransferFrom(cfg.Asset, payer, staged.Recipient, cfg.Amount)
	case MethodLinearStream:
		if e.streams == nil {
			return errNilStreams
		}
		streamID, err := e.streams.CreateLinearStream(cfg.Asset, cfg.Amount, staged.StartTime, staged.EndTime, staged.Recipient)
		if err != nil {
			return err
		}
		staged.Config.StreamID = streamID
		return e.ledger.RequestPut(staged)
	case MethodTranchedStream:
		if e.streams == nil {
			return errNilStreams
		}
		tranches := PaymentCount(cfg.Recurrence, e.window(staged))
		if tranches == 0 {
			return ErrIntervalTooShort
		}
		streamID, err := e.streams.CreateTranchedStream(cfg.Asset, cfg.Amount, staged.StartTime, staged.Recipient, tranches, cfg.Recurrence)
		if err != nil {
			return err
		}
		staged.Config.StreamID = streamID
		return e.ledger.RequestPut(staged)
	default:
		return fmt.Errorf("payments: invalid method %d", cfg.Method)
	}
}

// Cancel marks a request canceled. Pending requests and ongoing direct
// transfers may only be canceled by the sender or the recipient; an active
// escrow disbursement is canceled through the escrow service, which enforces
// its own authorization. Creation-time validation never re-runs here.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	req, err := e.load(id)
	if err != nil {
		return err
	}
	status, err := ResolveStatus(req, e.streams, e.now())
	if err != nil {
		return err
	}
	switch status {
	case StatusPaid:
		return ErrAlreadyPaid
	case StatusCanceled:
		return ErrAlreadyCanceled
	}

	partyCancel := status == StatusPending ||
		(status == StatusOngoing && req.Config.Method == MethodTransfer) ||
		req.Config.StreamID == 0
	if partyCancel {
		// An unbound sender matches nobody; the zero address is never a party.
		authorized := caller == req.Recipient ||
			(req.Sender != ([20]byte{}) && caller == req.Sender)
		if !authorized {
			return ErrUnauthorized
		}
	}

	prior := req.Clone()
	staged := req.Clone()
	staged.WasCanceled = true
	if err := e.ledger.RequestPut(staged); err != nil {
		return err
	}
	if !partyCancel {
		if e.streams == nil {
			return errNilStreams
		}
		if cancelErr := e.streams.CancelStream(req.Config.StreamID, caller); cancelErr != nil {
			if putErr := e.ledger.RequestPut(prior); putErr != nil {
				return errors.Join(cancelErr, putErr)
			}
			return cancelErr
		}
	}
	e.emit(events.PaymentRequestCanceled{ID: staged.ID})
	return nil
}

// Withdraw pulls already-released escrow funds to the supplied address and
// reports the amount moved. It is a pass-through to the escrow service, not a
// lifecycle transition.
func (e *Engine) Withdraw(id uint64, to [20]byte) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	req, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if req.Config.StreamID == 0 {
		return nil, ErrNoStream
	}
	if e.streams == nil {
		return nil, errNilStreams
	}
	amount, err := e.streams.WithdrawStream(req.Config.StreamID, to)
	if err != nil {
		return nil, err
	}
	e.emit(events.PaymentStreamWithdrawn{
		ID:       req.ID,
		StreamID: req.Config.StreamID,
		To:       to,
		Amount:   amount,
	})
	return amount, nil
}

// Get returns a copy of the stored request.
func (e *Engine) Get(id uint64) (*PaymentRequest, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	return e.load(id)
}

// StatusOf derives the current lifecycle status of a request.
func (e *Engine) StatusOf(id uint64) (Status, error) {
	if e == nil || e.ledger == nil {
		return 0, errNilLedger
	}
	req, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return ResolveStatus(req, e.streams, e.now())
}

func (e *Engine) load(id uint64) (*PaymentRequest, error) {
	req, ok := e.ledger.RequestGet(id)
	if !ok || !req.Exists() {
		return nil, ErrNotFound
	}
	return req, nil
}
