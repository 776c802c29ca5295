package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}

	errStr := err.Error()
	if errStr != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", errStr, "RPC error -32000: nonce too low")
	}

	if !isRPCError(err) {
		t.Error("isRPCError should return true for *RPCError")
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestIsRetryableHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantBool bool
	}{
		{
			name:     "retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 429},
			wantBool: true,
		},
		{
			name:     "non-retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 400},
			wantBool: false,
		},
		{
			name:     "RPC error",
			err:      &RPCError{Code: -32000, Message: "test"},
			wantBool: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableHTTPError(tt.err); got != tt.wantBool {
				t.Errorf("isRetryableHTTPError() = %v, want %v", got, tt.wantBool)
			}
		})
	}
}

func TestGetRetryDelay(t *testing.T) {
	defaultBackoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
	}{
		{
			name:      "HTTP error with Retry-After",
			err:       &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantDelay: 2 * time.Second,
		},
		{
			name:      "HTTP error without Retry-After",
			err:       &HTTPStatusError{StatusCode: 503},
			wantDelay: defaultBackoff,
		},
		{
			name:      "RPC error uses default",
			err:       &RPCError{Code: -32000, Message: "test"},
			wantDelay: defaultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getRetryDelay(tt.err, defaultBackoff); got != tt.wantDelay {
				t.Errorf("getRetryDelay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "http://localhost:8545"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 10*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 8*time.Second {
		t.Errorf("MaxBackoff = %v, want 8s", cfg.MaxBackoff)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return NewHTTPClient(cfg)
}

func TestCallRetriesOnTooManyRequests(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.001")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":"0x5","id":1}`)
	})

	result, err := client.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `"0x5"` {
		t.Errorf("result = %s, want \"0x5\"", result)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("request count = %d, want 2", got)
	}
}

func TestCallDoesNotRetryRPCErrors(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"nonce too low"},"id":1}`)
	})

	_, err := client.Call(context.Background(), "eth_sendRawTransaction", []interface{}{"0x00"})
	if err == nil {
		t.Fatal("Call succeeded, want RPC error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Message != "nonce too low" {
		t.Errorf("message = %q, want %q", rpcErr.Message, "nonce too low")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("request count = %d, want 1 (no retries)", got)
	}
}

func TestGetLatestBlock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"number":"0x10","timestamp":"0x64","baseFeePerGas":"0x3b9aca00"},"id":1}`)
	})

	header, err := client.GetLatestBlock(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if header.Number != 16 {
		t.Errorf("Number = %d, want 16", header.Number)
	}
	if got := header.Timestamp.Unix(); got != 100 {
		t.Errorf("Timestamp = %d, want 100", got)
	}
	if header.BaseFee == nil || header.BaseFee.Uint64() != 1000000000 {
		t.Errorf("BaseFee = %v, want 1000000000", header.BaseFee)
	}
}

func TestGetLatestBlockWithoutBaseFee(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"number":"0x10","timestamp":"0x64"},"id":1}`)
	})

	header, err := client.GetLatestBlock(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if header.BaseFee != nil {
		t.Errorf("BaseFee = %v, want nil on a pre-1559 chain", header.BaseFee)
	}
}

func TestGetTransactionReceiptPending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":null,"id":1}`)
	})

	receipt, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetTransactionReceipt: %v", err)
	}
	if receipt != nil {
		t.Errorf("receipt = %+v, want nil while pending", receipt)
	}
}

func TestCallContract(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":"0x0000000000000000000000000000000000000000000000000000000000000002","id":1}`)
	})

	ret, err := client.CallContract(context.Background(), "0x0000000000000000000000000000000000000001", []byte{0x70, 0xa0, 0x82, 0x31})
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if len(ret) != 32 {
		t.Fatalf("return length = %d, want 32", len(ret))
	}
	if ret[31] != 2 {
		t.Errorf("last byte = %d, want 2", ret[31])
	}
}

func TestCallContractEmptyReturn(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":"0x","id":1}`)
	})

	ret, err := client.CallContract(context.Background(), "0x0000000000000000000000000000000000000001", nil)
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if ret != nil {
		t.Errorf("return = %x, want nil for empty data", ret)
	}
}

type countingPacer struct {
	waits atomic.Int64
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits.Add(1)
	return nil
}

func TestCallConsultsPacer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":"0x1","id":1}`)
	}))
	defer srv.Close()

	pacer := &countingPacer{}
	cfg := DefaultClientConfig(srv.URL)
	cfg.Pacer = pacer
	client := NewHTTPClient(cfg)

	for i := 0; i < 3; i++ {
		if _, err := client.Call(context.Background(), "eth_blockNumber", nil); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if got := pacer.waits.Load(); got != 3 {
		t.Errorf("pacer waits = %d, want 3", got)
	}
}
