package payments

// Ledger is the storage abstraction holding every payment request. It carries
// no validation logic of its own; its only algorithmic property is monotonic
// identifier allocation starting at one. Records are inserted and mutated in
// place but never deleted.
//
// NextRequestID must only be called once the caller has fully validated the
// record it intends to store, so a rejected creation never burns an id.
type Ledger interface {
	RequestPut(*PaymentRequest) error
	RequestGet(id uint64) (*PaymentRequest, bool)
	NextRequestID() (uint64, error)
}
