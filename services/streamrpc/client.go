package streamrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payflow/crypto"
	"payflow/native/payments"
)

// ErrUnavailable is returned by the Disabled client for every call.
var ErrUnavailable = errors.New("streamrpc: stream service not configured")

const (
	methodCreateLinear   = "stream_createLinear"
	methodCreateTranched = "stream_createTranched"
	methodCancel         = "stream_cancel"
	methodWithdraw       = "stream_withdraw"
	methodStatus         = "stream_status"
	methodStreamed       = "stream_streamedAmount"
)

// Client talks JSON-RPC to the external escrow/streaming service. It
// implements the payment engine's StreamClient collaborator; any transport or
// service error propagates verbatim and aborts the enclosing operation.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("streamrpc: baseURL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("streamrpc: invalid baseURL: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("streamrpc: encode %s: %w", method, err)
	}
	resp, err := c.httpClient.Post(c.baseURL.String(), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("streamrpc: %s: %w", method, err)
	}
	defer resp.Body.Close()
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("streamrpc: decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("streamrpc: %s: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("streamrpc: decode %s result: %w", method, err)
		}
	}
	return nil
}

type createLinearParams struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Recipient string `json:"recipient"`
}

type createTranchedParams struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	StartTime  int64  `json:"startTime"`
	Recipient  string `json:"recipient"`
	Tranches   uint64 `json:"tranches"`
	Recurrence string `json:"recurrence"`
}

type streamIDResult struct {
	StreamID uint64 `json:"streamId"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type statusResult struct {
	Status string `json:"status"`
}

func (c *Client) CreateLinearStream(asset string, amount *big.Int, start, end int64, recipient [20]byte) (uint64, error) {
	var out streamIDResult
	err := c.call(methodCreateLinear, createLinearParams{
		Asset:     asset,
		Amount:    formatAmount(amount),
		StartTime: start,
		EndTime:   end,
		Recipient: crypto.NewAddress(recipient[:]).String(),
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.StreamID, nil
}

func (c *Client) CreateTranchedStream(asset string, amount *big.Int, start int64, recipient [20]byte, tranches uint64, rec payments.Recurrence) (uint64, error) {
	var out streamIDResult
	err := c.call(methodCreateTranched, createTranchedParams{
		Asset:      asset,
		Amount:     formatAmount(amount),
		StartTime:  start,
		Recipient:  crypto.NewAddress(recipient[:]).String(),
		Tranches:   tranches,
		Recurrence: rec.String(),
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.StreamID, nil
}

func (c *Client) CancelStream(streamID uint64, caller [20]byte) error {
	return c.call(methodCancel, map[string]interface{}{
		"streamId": streamID,
		"caller":   crypto.NewAddress(caller[:]).String(),
	}, nil)
}

func (c *Client) WithdrawStream(streamID uint64, to [20]byte) (*big.Int, error) {
	var out amountResult
	err := c.call(methodWithdraw, map[string]interface{}{
		"streamId": streamID,
		"to":       crypto.NewAddress(to[:]).String(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

func (c *Client) StreamStatus(streamID uint64) (payments.StreamState, error) {
	var out statusResult
	if err := c.call(methodStatus, map[string]interface{}{"streamId": streamID}, &out); err != nil {
		return 0, err
	}
	return parseStreamState(out.Status)
}

func (c *Client) StreamedAmount(streamID uint64) (*big.Int, error) {
	var out amountResult
	if err := c.call(methodStreamed, map[string]interface{}{"streamId": streamID}, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("streamrpc: invalid amount %q", s)
	}
	return out, nil
}

func parseStreamState(s string) (payments.StreamState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return payments.StreamPending, nil
	case "streaming":
		return payments.StreamStreaming, nil
	case "settled":
		return payments.StreamSettled, nil
	case "depleted":
		return payments.StreamDepleted, nil
	case "canceled":
		return payments.StreamCanceled, nil
	default:
		return 0, fmt.Errorf("streamrpc: unknown stream status %q", s)
	}
}

// Disabled satisfies the StreamClient interface for daemons running without
// a configured escrow endpoint. Every call fails with ErrUnavailable, which
// aborts the enclosing engine operation.
type Disabled struct{}

func (Disabled) CreateLinearStream(string, *big.Int, int64, int64, [20]byte) (uint64, error) {
	return 0, ErrUnavailable
}

func (Disabled) CreateTranchedStream(string, *big.Int, int64, [20]byte, uint64, payments.Recurrence) (uint64, error) {
	return 0, ErrUnavailable
}

func (Disabled) CancelStream(uint64, [20]byte) error { return ErrUnavailable }

func (Disabled) WithdrawStream(uint64, [20]byte) (*big.Int, error) { return nil, ErrUnavailable }

func (Disabled) StreamStatus(uint64) (payments.StreamState, error) { return 0, ErrUnavailable }

func (Disabled) StreamedAmount(uint64) (*big.Int, error) { return nil, ErrUnavailable }
