package payments

import (
	"errors"
	"math/big"
	"testing"
)

func storedTransfer(left uint64) *PaymentRequest {
	return &PaymentRequest{
		ID:        1,
		Recipient: addr(0x01),
		StartTime: testNow,
		EndTime:   testNow + week,
		CreatedAt: testNow,
		Config: RequestConfig{
			Method:       MethodTransfer,
			Recurrence:   RecurrenceWeekly,
			PaymentsLeft: left,
			Amount:       big.NewInt(100),
		},
	}
}

func storedStream(state StreamState, released int64) (*PaymentRequest, *mockStreams) {
	streams := newMockStreams()
	streams.status[7] = state
	streams.streamed[7] = big.NewInt(released)
	req := &PaymentRequest{
		ID:          1,
		Recipient:   addr(0x01),
		StartTime:   testNow,
		EndTime:     testNow + week,
		CreatedAt:   testNow,
		WasAccepted: true,
		Config: RequestConfig{
			Method:     MethodLinearStream,
			Recurrence: RecurrenceWeekly,
			Amount:     big.NewInt(1000),
			Asset:      "USDX",
			StreamID:   7,
		},
	}
	return req, streams
}

func TestResolveStatusUntouched(t *testing.T) {
	req := storedTransfer(3)
	status, err := ResolveStatus(req, nil, testNow)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if status != StatusPending {
		t.Fatalf("expected pending, got %s", status)
	}

	req.Config.CanExpire = true
	status, _ = ResolveStatus(req, nil, req.EndTime+1)
	if status != StatusExpired {
		t.Fatalf("expected expired past window, got %s", status)
	}
	// Boundary: the window end itself is still inside the window.
	status, _ = ResolveStatus(req, nil, req.EndTime)
	if status != StatusPending {
		t.Fatalf("expected pending at window end, got %s", status)
	}
}

func TestResolveStatusMissing(t *testing.T) {
	if _, err := ResolveStatus(nil, nil, testNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for nil, got %v", err)
	}
	blank := &PaymentRequest{ID: 9}
	if _, err := ResolveStatus(blank, nil, testNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zero recipient, got %v", err)
	}
}

func TestResolveStatusTransfer(t *testing.T) {
	req := storedTransfer(2)
	req.WasAccepted = true
	status, _ := ResolveStatus(req, nil, testNow)
	if status != StatusOngoing {
		t.Fatalf("expected ongoing with payments left, got %s", status)
	}

	req.Config.PaymentsLeft = 0
	status, _ = ResolveStatus(req, nil, testNow)
	if status != StatusPaid {
		t.Fatalf("expected paid with zero left, got %s", status)
	}

	req.WasCanceled = true
	status, _ = ResolveStatus(req, nil, testNow)
	if status != StatusCanceled {
		t.Fatalf("cancellation must take precedence, got %s", status)
	}
}

func TestResolveStatusStreamStates(t *testing.T) {
	cases := []struct {
		name     string
		state    StreamState
		released int64
		want     Status
	}{
		{"pending stream", StreamPending, 0, StatusOngoing},
		{"live stream", StreamStreaming, 400, StatusOngoing},
		{"settled stream", StreamSettled, 1000, StatusPaid},
		{"depleted short of amount", StreamDepleted, 999, StatusCanceled},
		{"depleted at amount", StreamDepleted, 1000, StatusPaid},
		{"canceled stream", StreamCanceled, 400, StatusCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, streams := storedStream(tc.state, tc.released)
			status, err := ResolveStatus(req, streams, testNow)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, status)
			}
		})
	}
}

func TestResolveStatusStreamOverridesLocalFlags(t *testing.T) {
	// The escrow state wins over the local cancellation flag once a stream
	// reference exists.
	req, streams := storedStream(StreamSettled, 1000)
	req.WasCanceled = true
	status, err := ResolveStatus(req, streams, testNow)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if status != StatusPaid {
		t.Fatalf("expected paid from settled stream, got %s", status)
	}
}

func TestResolveStatusStreamQueryFailure(t *testing.T) {
	req, streams := storedStream(StreamStreaming, 0)
	delete(streams.status, 7)
	if _, err := ResolveStatus(req, streams, testNow); err == nil {
		t.Fatalf("expected error when the stream query fails")
	}
	if _, err := ResolveStatus(req, nil, testNow); err == nil {
		t.Fatalf("expected error without a stream client")
	}
}
