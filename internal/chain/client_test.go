package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers eth_getTransactionReceipt with the given raw "result" member
func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "eth_getTransactionReceipt", req.Method)
		assert.Equal(t, "2.0", req.JSONRPC)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTransactionReceipt_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   ReceiptStatus
	}{
		{"success", `{"status":"0x1","blockNumber":"0x10"}`, ReceiptSuccess},
		{"reverted", `{"status":"0x0","blockNumber":"0x10"}`, ReceiptReverted},
		{"not mined", `null`, ReceiptPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, tt.result)
			c := NewClient(map[string]string{"8453": srv.URL}, time.Second, nil)

			got, err := c.TransactionReceipt(context.Background(), "8453", "0xabc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransactionReceipt_UnexpectedStatus(t *testing.T) {
	srv := rpcServer(t, `{"status":"0x7"}`)
	c := NewClient(map[string]string{"1": srv.URL}, time.Second, nil)

	_, err := c.TransactionReceipt(context.Background(), "1", "0xabc")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestCall_UnknownChain(t *testing.T) {
	c := NewClient(map[string]string{}, time.Second, nil)
	assert.False(t, c.Supports("10"))

	_, err := c.Call(context.Background(), "10", "eth_chainId")
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestChains_SortedConfiguredIDs(t *testing.T) {
	c := NewClient(map[string]string{"8453": "http://base", "1": "http://mainnet", "10": "http://op"}, time.Second, nil)
	assert.Equal(t, []string{"1", "10", "8453"}, c.Chains())
	assert.True(t, c.Supports("8453"))
	assert.Empty(t, NewClient(nil, time.Second, nil).Chains())
}

func TestCall_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid argument"}}`))
	}))
	defer srv.Close()

	c := NewClient(map[string]string{"1": srv.URL}, time.Second, nil)
	_, err := c.Call(context.Background(), "1", "eth_getTransactionReceipt", "bad")
	assert.ErrorIs(t, err, ErrRPC)
}

func TestCall_BreakerOpensOnTransportFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
	c := NewClient(map[string]string{"1": srv.URL}, time.Second, cfg)

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "1", "eth_blockNumber")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	_, err := c.Call(context.Background(), "1", "eth_blockNumber")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "open breaker must not reach the endpoint")
}

func TestCall_RPCErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"nope"}}`))
	}))
	defer srv.Close()

	cfg := &BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 1}
	c := NewClient(map[string]string{"1": srv.URL}, time.Second, cfg)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "1", "eth_blockNumber")
		assert.ErrorIs(t, err, ErrRPC)
	}
}

func TestReceiptStatus_String(t *testing.T) {
	assert.Equal(t, "pending", ReceiptPending.String())
	assert.Equal(t, "success", ReceiptSuccess.String())
	assert.Equal(t, "reverted", ReceiptReverted.String())
}
