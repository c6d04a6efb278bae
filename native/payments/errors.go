package payments

import "errors"

var (
	ErrInvalidRecipient     = errors.New("payments: recipient required")
	ErrZeroAmount           = errors.New("payments: amount must be positive")
	ErrInvalidWindow        = errors.New("payments: start time must precede end time")
	ErrWindowInPast         = errors.New("payments: end time already passed")
	ErrOneOffTranche        = errors.New("payments: tranched stream requires a recurring cadence")
	ErrCustomNeedsTransfer  = errors.New("payments: custom recurrence only supports direct transfers")
	ErrNativeAssetStream    = errors.New("payments: streams cannot carry the native asset")
	ErrIntervalTooShort     = errors.New("payments: window too short for the chosen recurrence")
	ErrNotFound             = errors.New("payments: request not found")
	ErrExpired              = errors.New("payments: request expired")
	ErrAlreadyPaid          = errors.New("payments: request already paid")
	ErrAlreadyCanceled      = errors.New("payments: request already canceled")
	ErrPaymentBelowAmount   = errors.New("payments: attached value below requested amount")
	ErrNativeTransferFailed = errors.New("payments: native transfer failed")
	ErrUnauthorized         = errors.New("payments: caller not authorized")
	ErrNoStream             = errors.New("payments: request not escrow-backed")
)
