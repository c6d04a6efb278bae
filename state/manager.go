package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"payflow/core/types"
	"payflow/native/payments"
	"payflow/storage"
)

var (
	requestSeqKey       = []byte("payments/seq")
	requestRecordPrefix = []byte("payments/req/")
	accountRecordPrefix = []byte("payments/acct/")
)

// Manager persists payment requests and accounts in a key-value store. It is
// the durable implementation of the engine's ledger interface: records are
// sanitized before every write so an invariant-violating request can never
// reach disk, and the identifier counter is only advanced by an explicit
// NextRequestID call.
type Manager struct {
	db storage.Database

	seqMu sync.Mutex
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func requestKey(id uint64) []byte {
	buf := make([]byte, len(requestRecordPrefix)+8)
	copy(buf, requestRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(requestRecordPrefix):], id)
	return buf
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountRecordPrefix)+len(addr))
	copy(buf, accountRecordPrefix)
	copy(buf[len(accountRecordPrefix):], addr[:])
	return buf
}

// storedRequest is the RLP codec shape for a payment request. Timestamps are
// stored as unsigned seconds; RLP has no signed integer form.
type storedRequest struct {
	ID           uint64
	Sender       [20]byte
	Recipient    [20]byte
	StartTime    uint64
	EndTime      uint64
	WasAccepted  bool
	WasCanceled  bool
	CreatedAt    uint64
	Method       uint8
	Recurrence   uint8
	CanExpire    bool
	PaymentsLeft uint64
	Amount       *big.Int
	Asset        string
	StreamID     uint64
}

func newStoredRequest(req *payments.PaymentRequest) *storedRequest {
	amount := big.NewInt(0)
	if req.Config.Amount != nil {
		amount = new(big.Int).Set(req.Config.Amount)
	}
	return &storedRequest{
		ID:           req.ID,
		Sender:       req.Sender,
		Recipient:    req.Recipient,
		StartTime:    uint64(req.StartTime),
		EndTime:      uint64(req.EndTime),
		WasAccepted:  req.WasAccepted,
		WasCanceled:  req.WasCanceled,
		CreatedAt:    uint64(req.CreatedAt),
		Method:       uint8(req.Config.Method),
		Recurrence:   uint8(req.Config.Recurrence),
		CanExpire:    req.Config.CanExpire,
		PaymentsLeft: req.Config.PaymentsLeft,
		Amount:       amount,
		Asset:        req.Config.Asset,
		StreamID:     req.Config.StreamID,
	}
}

func (s *storedRequest) toRequest() *payments.PaymentRequest {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &payments.PaymentRequest{
		ID:          s.ID,
		Sender:      s.Sender,
		Recipient:   s.Recipient,
		StartTime:   int64(s.StartTime),
		EndTime:     int64(s.EndTime),
		WasAccepted: s.WasAccepted,
		WasCanceled: s.WasCanceled,
		CreatedAt:   int64(s.CreatedAt),
		Config: payments.RequestConfig{
			Method:       payments.Method(s.Method),
			Recurrence:   payments.Recurrence(s.Recurrence),
			CanExpire:    s.CanExpire,
			PaymentsLeft: s.PaymentsLeft,
			Amount:       amount,
			Asset:        s.Asset,
			StreamID:     s.StreamID,
		},
	}
}

// RequestPut sanitizes and persists the supplied request.
func (m *Manager) RequestPut(req *payments.PaymentRequest) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	sanitized, err := payments.SanitizeRequest(req)
	if err != nil {
		return err
	}
	if sanitized.ID == 0 {
		return fmt.Errorf("state: request id not assigned")
	}
	blob, err := rlp.EncodeToBytes(newStoredRequest(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode request %d: %w", sanitized.ID, err)
	}
	return m.db.Put(requestKey(sanitized.ID), blob)
}

// RequestGet loads a stored request by identifier.
func (m *Manager) RequestGet(id uint64) (*payments.PaymentRequest, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	blob, err := m.db.Get(requestKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedRequest
	if err := rlp.DecodeBytes(blob, &stored); err != nil {
		return nil, false
	}
	return stored.toRequest(), true
}

// NextRequestID increments and returns the monotonic request counter,
// starting at one. Callers must fully validate before allocating so a
// rejected creation never advances the sequence.
func (m *Manager) NextRequestID() (uint64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("state: database not configured")
	}
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	next := m.currentID() + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := m.db.Put(requestSeqKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// CurrentID reports the most recently issued identifier, zero when no
// request has ever been created.
func (m *Manager) CurrentID() uint64 {
	if m == nil || m.db == nil {
		return 0
	}
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	return m.currentID()
}

func (m *Manager) currentID() uint64 {
	blob, err := m.db.Get(requestSeqKey)
	if err != nil || len(blob) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(blob)
}

// AccountGet loads an account, returning a zero-balance account when the
// address has never been seen.
func (m *Manager) AccountGet(addr [20]byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	blob, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return (&types.Account{}).EnsureBalances(), nil
	}
	if err != nil {
		return nil, err
	}
	acc := &types.Account{}
	if err := json.Unmarshal(blob, acc); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return acc.EnsureBalances(), nil
}

// AccountPut persists an account record.
func (m *Manager) AccountPut(addr [20]byte, acc *types.Account) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	blob, err := json.Marshal(acc.EnsureBalances())
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), blob)
}
