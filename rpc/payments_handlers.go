package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"payflow/crypto"
	"payflow/native/payments"
	"payflow/observability"
)

type createParams struct {
	Creator    string `json:"creator"`
	Sender     string `json:"sender,omitempty"`
	Recipient  string `json:"recipient"`
	Asset      string `json:"asset,omitempty"`
	Amount     string `json:"amount"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	Method     string `json:"method"`
	Recurrence string `json:"recurrence"`
	CanExpire  bool   `json:"canExpire,omitempty"`
	Payments   uint64 `json:"payments,omitempty"`
	Nonce      uint64 `json:"nonce,omitempty"`
}

type payParams struct {
	ID    uint64 `json:"id"`
	Payer string `json:"payer"`
	Value string `json:"value,omitempty"`
}

type cancelParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type withdrawParams struct {
	ID uint64 `json:"id"`
	To string `json:"to"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type createResult struct {
	ID      uint64         `json:"id"`
	Request *requestResult `json:"request"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

type statusResult struct {
	Status string `json:"status"`
}

// requestResult is the wire view of a stored payment request.
type requestResult struct {
	ID           uint64  `json:"id"`
	Sender       *string `json:"sender,omitempty"`
	Recipient    string  `json:"recipient"`
	StartTime    int64   `json:"startTime"`
	EndTime      int64   `json:"endTime"`
	WasAccepted  bool    `json:"wasAccepted"`
	WasCanceled  bool    `json:"wasCanceled"`
	CreatedAt    int64   `json:"createdAt"`
	Method       string  `json:"method"`
	Recurrence   string  `json:"recurrence"`
	CanExpire    bool    `json:"canExpire"`
	PaymentsLeft uint64  `json:"paymentsLeft"`
	Amount       string  `json:"amount"`
	Asset        string  `json:"asset"`
	StreamID     uint64  `json:"streamId,omitempty"`
}

func newRequestResult(req *payments.PaymentRequest) *requestResult {
	out := &requestResult{
		ID:           req.ID,
		Recipient:    crypto.NewAddress(req.Recipient[:]).String(),
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		WasAccepted:  req.WasAccepted,
		WasCanceled:  req.WasCanceled,
		CreatedAt:    req.CreatedAt,
		Method:       req.Config.Method.String(),
		Recurrence:   req.Config.Recurrence.String(),
		CanExpire:    req.Config.CanExpire,
		PaymentsLeft: req.Config.PaymentsLeft,
		Amount:       req.Config.Amount.String(),
		Asset:        req.Config.Asset,
		StreamID:     req.Config.StreamID,
	}
	if req.Sender != ([20]byte{}) {
		sender := crypto.NewAddress(req.Sender[:]).String()
		out.Sender = &sender
	}
	return out
}

// createIndex deduplicates creation calls by a caller-supplied nonce so a
// retried request maps onto the already-stored record instead of minting a
// second id. The definition submitted with the first call is kept alongside
// the id: a reused nonce is compared against what was originally asked, not
// against the record's later lifecycle state.
type createIndex struct {
	mu      sync.Mutex
	created map[[32]byte]createEntry
}

type createEntry struct {
	id  uint64
	def createDefinition
}

// createDefinition captures every field that defines a request at creation.
type createDefinition struct {
	sender     [20]byte
	recipient  [20]byte
	asset      string
	amount     string
	startTime  int64
	endTime    int64
	method     payments.Method
	recurrence payments.Recurrence
	canExpire  bool
	payments   uint64
}

func newCreateIndex() *createIndex {
	return &createIndex{created: make(map[[32]byte]createEntry)}
}

func createDigest(creator, recipient [20]byte, nonce uint64) [32]byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(creator[:], recipient[:], buf))
	return digest
}

func (ci *createIndex) lookup(digest [32]byte) (createEntry, bool) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	entry, ok := ci.created[digest]
	return entry, ok
}

func (ci *createIndex) record(digest [32]byte, entry createEntry) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.created[digest] = entry
}

func decodeParams(req *rpcRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return errors.New("params required")
	}
	return jsonUnmarshalStrict(req.Params, out)
}

func parseAddressParam(value, field string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%s required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return addr.Array(), nil
}

func parseAmountParam(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	return amount, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, req *rpcRequest) {
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	creator, err := parseAddressParam(params.Creator, "creator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	recipient, err := parseAddressParam(params.Recipient, "recipient")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	var sender [20]byte
	if strings.TrimSpace(params.Sender) != "" {
		if sender, err = parseAddressParam(params.Sender, "sender"); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
			return
		}
	}
	amount, err := parseAmountParam(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	method, err := payments.ParseMethod(params.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	recurrence, err := payments.ParseRecurrence(params.Recurrence)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}

	draft := &payments.PaymentRequest{
		Sender:    sender,
		Recipient: recipient,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Config: payments.RequestConfig{
			Method:       method,
			Recurrence:   recurrence,
			CanExpire:    params.CanExpire,
			PaymentsLeft: params.Payments,
			Amount:       amount,
			Asset:        payments.NormalizeAsset(params.Asset),
		},
	}

	def := createDefinition{
		sender:     sender,
		recipient:  recipient,
		asset:      draft.Config.Asset,
		amount:     amount.String(),
		startTime:  params.StartTime,
		endTime:    params.EndTime,
		method:     method,
		recurrence: recurrence,
		canExpire:  params.CanExpire,
		payments:   params.Payments,
	}
	var digest [32]byte
	if params.Nonce != 0 {
		digest = createDigest(creator, recipient, params.Nonce)
		if entry, ok := s.idem.lookup(digest); ok {
			if entry.def != def {
				writeError(w, http.StatusConflict, req.ID, codePaymentsConflict, "nonce already used with a different definition")
				return
			}
			existing, err := s.engine.Get(entry.id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, req.ID, codePaymentsInternal, err.Error())
				return
			}
			writeResult(w, req.ID, createResult{ID: existing.ID, Request: newRequestResult(existing)})
			return
		}
	}

	created, err := s.engine.Create(draft)
	observability.Payments().RecordOperation("create", err)
	if err != nil {
		status, code := errToCode(err)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	if params.Nonce != 0 {
		s.idem.record(digest, createEntry{id: created.ID, def: def})
	}
	writeResult(w, req.ID, createResult{ID: created.ID, Request: newRequestResult(created)})
}

func (s *Server) handlePay(w http.ResponseWriter, req *rpcRequest) {
	var params payParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	payer, err := parseAddressParam(params.Payer, "payer")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	value := big.NewInt(0)
	if strings.TrimSpace(params.Value) != "" {
		if value, err = parseAmountParam(params.Value, "value"); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
			return
		}
	}
	err = s.engine.Pay(params.ID, payer, value)
	observability.Payments().RecordOperation("pay", err)
	if err != nil {
		status, code := errToCode(err)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	updated, err := s.engine.Get(params.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codePaymentsInternal, err.Error())
		return
	}
	writeResult(w, req.ID, newRequestResult(updated))
}

func (s *Server) handleCancel(w http.ResponseWriter, req *rpcRequest) {
	var params cancelParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	err = s.engine.Cancel(params.ID, caller)
	observability.Payments().RecordOperation("cancel", err)
	if err != nil {
		status, code := errToCode(err)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"status": payments.StatusCanceled.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *rpcRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	to, err := parseAddressParam(params.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, err.Error())
		return
	}
	amount, err := s.engine.Withdraw(params.ID, to)
	observability.Payments().RecordOperation("withdraw", err)
	if err != nil {
		status, code := errToCode(err)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: amount.String()})
}

func (s *Server) handleGet(w http.ResponseWriter, req *rpcRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	found, err := s.engine.Get(params.ID)
	if err != nil {
		status, code := errToCode(err)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	writeResult(w, req.ID, newRequestResult(found))
}

func (s *Server) handleStatus(w http.ResponseWriter, req *rpcRequest) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error())
		return
	}
	status, err := s.engine.StatusOf(params.ID)
	if err != nil {
		httpStatus, code := errToCode(err)
		writeError(w, httpStatus, req.ID, code, err.Error())
		return
	}
	writeResult(w, req.ID, statusResult{Status: status.String()})
}

// errToCode maps engine errors to an HTTP status plus module error code.
func errToCode(err error) (int, int) {
	switch {
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, codePaymentsNotFound
	case errors.Is(err, payments.ErrUnauthorized):
		return http.StatusForbidden, codePaymentsForbidden
	case errors.Is(err, payments.ErrExpired),
		errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrAlreadyCanceled):
		return http.StatusConflict, codePaymentsConflict
	case errors.Is(err, payments.ErrInvalidRecipient),
		errors.Is(err, payments.ErrZeroAmount),
		errors.Is(err, payments.ErrInvalidWindow),
		errors.Is(err, payments.ErrWindowInPast),
		errors.Is(err, payments.ErrOneOffTranche),
		errors.Is(err, payments.ErrCustomNeedsTransfer),
		errors.Is(err, payments.ErrNativeAssetStream),
		errors.Is(err, payments.ErrIntervalTooShort),
		errors.Is(err, payments.ErrPaymentBelowAmount),
		errors.Is(err, payments.ErrNoStream):
		return http.StatusBadRequest, codePaymentsInvalidParams
	default:
		return http.StatusInternalServerError, codePaymentsInternal
	}
}
