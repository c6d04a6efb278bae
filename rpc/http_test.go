package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"payflow/crypto"
	"payflow/native/bank"
	"payflow/native/payments"
	"payflow/state"
	"payflow/storage"
)

const testNow int64 = 1_700_000_000

const week = 7 * 24 * 3600

type mockStreams struct {
	lastID uint64
	status map[uint64]payments.StreamState
}

func newMockStreams() *mockStreams {
	return &mockStreams{status: make(map[uint64]payments.StreamState)}
}

func (m *mockStreams) CreateLinearStream(string, *big.Int, int64, int64, [20]byte) (uint64, error) {
	m.lastID++
	m.status[m.lastID] = payments.StreamStreaming
	return m.lastID, nil
}

func (m *mockStreams) CreateTranchedStream(string, *big.Int, int64, [20]byte, uint64, payments.Recurrence) (uint64, error) {
	m.lastID++
	m.status[m.lastID] = payments.StreamStreaming
	return m.lastID, nil
}

func (m *mockStreams) CancelStream(streamID uint64, _ [20]byte) error {
	m.status[streamID] = payments.StreamCanceled
	return nil
}

func (m *mockStreams) WithdrawStream(uint64, [20]byte) (*big.Int, error) {
	return big.NewInt(125), nil
}

func (m *mockStreams) StreamStatus(streamID uint64) (payments.StreamState, error) {
	return m.status[streamID], nil
}

func (m *mockStreams) StreamedAmount(uint64) (*big.Int, error) {
	return big.NewInt(0), nil
}

type testEnv struct {
	server  *httptest.Server
	mover   *bank.Mover
	streams *mockStreams
}

func newTestEnv(t *testing.T, auth AuthConfig) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	mover := bank.NewMover(manager)
	streams := newMockStreams()
	engine := payments.NewEngine(manager, streams, mover)
	engine.SetNowFunc(func() int64 { return testNow })
	srv := httptest.NewServer(NewServer(engine, auth, nil).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, mover: mover, streams: streams}
}

func bech(fill byte) string {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw).String()
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (env *testEnv) call(t *testing.T, bearer, method string, params interface{}) (int, *rpcReply) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	reply := &rpcReply{}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, reply
}

func defaultCreateParams() map[string]interface{} {
	return map[string]interface{}{
		"creator":    bech(0x01),
		"recipient":  bech(0x01),
		"amount":     "100",
		"startTime":  testNow,
		"endTime":    testNow + week,
		"method":     "transfer",
		"recurrence": "one-off",
	}
}

func decodeRequestResult(t *testing.T, raw json.RawMessage) *requestResult {
	t.Helper()
	out := &requestResult{}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode request result: %v", err)
	}
	return out
}

func TestCreateAndQuery(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	status, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("create failed: status=%d err=%+v", status, reply.Error)
	}
	var created createResult
	if err := json.Unmarshal(reply.Result, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("expected id 1, got %d", created.ID)
	}
	if created.Request.Recipient != bech(0x01) {
		t.Fatalf("unexpected recipient %q", created.Request.Recipient)
	}
	if created.Request.PaymentsLeft != 1 {
		t.Fatalf("expected one payment, got %d", created.Request.PaymentsLeft)
	}

	status, reply = env.call(t, "", "payments_get", map[string]interface{}{"id": 1})
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("get failed: status=%d err=%+v", status, reply.Error)
	}
	got := decodeRequestResult(t, reply.Result)
	if got.ID != 1 || got.Method != "transfer" || got.Amount != "100" {
		t.Fatalf("unexpected record %+v", got)
	}

	status, reply = env.call(t, "", "payments_status", map[string]interface{}{"id": 1})
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("status failed: status=%d err=%+v", status, reply.Error)
	}
	var st statusResult
	if err := json.Unmarshal(reply.Result, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "pending" {
		t.Fatalf("expected pending, got %q", st.Status)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})

	params := defaultCreateParams()
	params["amount"] = "0"
	status, reply := env.call(t, "", "payments_create", params)
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codePaymentsInvalidParams {
		t.Fatalf("expected validation reject, status=%d err=%+v", status, reply.Error)
	}

	params = defaultCreateParams()
	params["recipient"] = "not-an-address"
	_, reply = env.call(t, "", "payments_create", params)
	if reply.Error == nil || reply.Error.Code != codePaymentsInvalidParams {
		t.Fatalf("expected address reject, err=%+v", reply.Error)
	}

	params = defaultCreateParams()
	params["recurrence"] = "quarterly"
	_, reply = env.call(t, "", "payments_create", params)
	if reply.Error == nil || reply.Error.Code != codePaymentsInvalidParams {
		t.Fatalf("expected recurrence reject, err=%+v", reply.Error)
	}
}

func TestCreateNonceIdempotent(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	params := defaultCreateParams()
	params["nonce"] = 77

	_, first := env.call(t, "", "payments_create", params)
	if first.Error != nil {
		t.Fatalf("create: %+v", first.Error)
	}
	_, second := env.call(t, "", "payments_create", params)
	if second.Error != nil {
		t.Fatalf("replay: %+v", second.Error)
	}
	var a, b createResult
	if err := json.Unmarshal(first.Result, &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(second.Result, &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("replayed nonce minted a second id: %d vs %d", a.ID, b.ID)
	}

	params["amount"] = "200"
	status, conflict := env.call(t, "", "payments_create", params)
	if status != http.StatusConflict || conflict.Error == nil || conflict.Error.Code != codePaymentsConflict {
		t.Fatalf("expected conflict for reused nonce, status=%d err=%+v", status, conflict.Error)
	}

	// Every definition field participates, including the expiry flag and a
	// custom payment count.
	params["amount"] = "100"
	params["canExpire"] = true
	status, conflict = env.call(t, "", "payments_create", params)
	if status != http.StatusConflict || conflict.Error == nil || conflict.Error.Code != codePaymentsConflict {
		t.Fatalf("expected conflict for changed expiry flag, status=%d err=%+v", status, conflict.Error)
	}
	delete(params, "canExpire")
	params["recurrence"] = "custom"
	params["payments"] = 5
	status, conflict = env.call(t, "", "payments_create", params)
	if status != http.StatusConflict || conflict.Error == nil || conflict.Error.Code != codePaymentsConflict {
		t.Fatalf("expected conflict for changed payment count, status=%d err=%+v", status, conflict.Error)
	}
}

func TestCreateNonceIdempotentAfterPay(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	payerRaw := [20]byte{}
	for i := range payerRaw {
		payerRaw[i] = 0x02
	}
	if err := env.mover.Credit(payerRaw, "", big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	params := defaultCreateParams()
	params["nonce"] = 11
	_, reply := env.call(t, "", "payments_create", params)
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}
	_, reply = env.call(t, "", "payments_pay", map[string]interface{}{
		"id":    1,
		"payer": bech(0x02),
		"value": "100",
	})
	if reply.Error != nil {
		t.Fatalf("pay: %+v", reply.Error)
	}

	// The replay compares the submitted definition, not the mutated record.
	_, reply = env.call(t, "", "payments_create", params)
	if reply.Error != nil {
		t.Fatalf("replay after pay: %+v", reply.Error)
	}
	var replayed createResult
	if err := json.Unmarshal(reply.Result, &replayed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if replayed.ID != 1 {
		t.Fatalf("replay after pay minted a second id: %d", replayed.ID)
	}
	if replayed.Request.PaymentsLeft != 0 || !replayed.Request.WasAccepted {
		t.Fatalf("replay did not return the live record: %+v", replayed.Request)
	}
}

func TestPayLifecycle(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	payerRaw := [20]byte{}
	for i := range payerRaw {
		payerRaw[i] = 0x02
	}
	if err := env.mover.Credit(payerRaw, "", big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}

	_, reply = env.call(t, "", "payments_pay", map[string]interface{}{
		"id":    1,
		"payer": bech(0x02),
		"value": "100",
	})
	if reply.Error != nil {
		t.Fatalf("pay: %+v", reply.Error)
	}
	paid := decodeRequestResult(t, reply.Result)
	if !paid.WasAccepted || paid.PaymentsLeft != 0 {
		t.Fatalf("unexpected record after pay %+v", paid)
	}

	status, reply := env.call(t, "", "payments_pay", map[string]interface{}{
		"id":    1,
		"payer": bech(0x02),
		"value": "100",
	})
	if status != http.StatusConflict || reply.Error == nil || reply.Error.Code != codePaymentsConflict {
		t.Fatalf("expected conflict on double pay, status=%d err=%+v", status, reply.Error)
	}
}

func TestPayValueBelowAmount(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	_, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}
	status, reply := env.call(t, "", "payments_pay", map[string]interface{}{
		"id":    1,
		"payer": bech(0x02),
		"value": "99",
	})
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codePaymentsInvalidParams {
		t.Fatalf("expected validation reject, status=%d err=%+v", status, reply.Error)
	}
}

func TestCancelAuthorization(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	_, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}

	status, reply := env.call(t, "", "payments_cancel", map[string]interface{}{
		"id":     1,
		"caller": bech(0x09),
	})
	if status != http.StatusForbidden || reply.Error == nil || reply.Error.Code != codePaymentsForbidden {
		t.Fatalf("expected forbidden, status=%d err=%+v", status, reply.Error)
	}

	_, reply = env.call(t, "", "payments_cancel", map[string]interface{}{
		"id":     1,
		"caller": bech(0x01),
	})
	if reply.Error != nil {
		t.Fatalf("cancel by recipient: %+v", reply.Error)
	}

	_, reply = env.call(t, "", "payments_status", map[string]interface{}{"id": 1})
	var st statusResult
	if err := json.Unmarshal(reply.Result, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "canceled" {
		t.Fatalf("expected canceled, got %q", st.Status)
	}
}

func TestWithdrawRequiresStream(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	_, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}
	status, reply := env.call(t, "", "payments_withdraw", map[string]interface{}{
		"id": 1,
		"to": bech(0x01),
	})
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codePaymentsInvalidParams {
		t.Fatalf("expected reject without stream, status=%d err=%+v", status, reply.Error)
	}
}

func TestStreamWithdraw(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	params := defaultCreateParams()
	params["method"] = "linear-stream"
	params["recurrence"] = "weekly"
	params["asset"] = "USDX"
	params["amount"] = "1000"
	_, reply := env.call(t, "", "payments_create", params)
	if reply.Error != nil {
		t.Fatalf("create: %+v", reply.Error)
	}
	_, reply = env.call(t, "", "payments_pay", map[string]interface{}{
		"id":    1,
		"payer": bech(0x02),
	})
	if reply.Error != nil {
		t.Fatalf("pay: %+v", reply.Error)
	}
	_, reply = env.call(t, "", "payments_withdraw", map[string]interface{}{
		"id": 1,
		"to": bech(0x01),
	})
	if reply.Error != nil {
		t.Fatalf("withdraw: %+v", reply.Error)
	}
	var out withdrawResult
	if err := json.Unmarshal(reply.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Amount != "125" {
		t.Fatalf("expected 125 withdrawn, got %q", out.Amount)
	}
}

func TestUnknownIDMapsToNotFound(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	status, reply := env.call(t, "", "payments_get", map[string]interface{}{"id": 42})
	if status != http.StatusNotFound || reply.Error == nil || reply.Error.Code != codePaymentsNotFound {
		t.Fatalf("expected not found, status=%d err=%+v", status, reply.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	status, reply := env.call(t, "", "payments_refund", map[string]interface{}{"id": 1})
	if status != http.StatusNotFound || reply.Error == nil || reply.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, status=%d err=%+v", status, reply.Error)
	}
}

func TestParseError(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	resp, err := http.Post(env.server.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Error == nil || reply.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", reply.Error)
	}
}

func TestUnknownParamsRejected(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	status, reply := env.call(t, "", "payments_get", map[string]interface{}{"id": 1, "verbose": true})
	if status != http.StatusBadRequest || reply.Error == nil || reply.Error.Code != codeInvalidParams {
		t.Fatalf("expected strict decode reject, status=%d err=%+v", status, reply.Error)
	}
}

func TestStaticTokenAuth(t *testing.T) {
	env := newTestEnv(t, AuthConfig{Token: "secret-token"})

	status, reply := env.call(t, "", "payments_create", defaultCreateParams())
	if status != http.StatusUnauthorized || reply.Error == nil || reply.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized without bearer, status=%d err=%+v", status, reply.Error)
	}

	status, reply = env.call(t, "wrong-token", "payments_create", defaultCreateParams())
	if status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for bad token, status=%d", status)
	}

	status, reply = env.call(t, "secret-token", "payments_create", defaultCreateParams())
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("expected authorized create, status=%d err=%+v", status, reply.Error)
	}

	// Read methods stay open.
	status, reply = env.call(t, "", "payments_status", map[string]interface{}{"id": 1})
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("expected open read access, status=%d err=%+v", status, reply.Error)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := []byte("jwt-secret")
	env := newTestEnv(t, AuthConfig{JWTSecret: secret})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	status, reply := env.call(t, signed, "payments_create", defaultCreateParams())
	if status != http.StatusOK || reply.Error != nil {
		t.Fatalf("expected JWT accepted, status=%d err=%+v", status, reply.Error)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedExpired, err := expired.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	status, _ = env.call(t, signedExpired, "payments_create", defaultCreateParams())
	if status != http.StatusUnauthorized {
		t.Fatalf("expected expired JWT rejected, status=%d", status)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
