// Package chain reads transaction receipts from EVM JSON-RPC endpoints.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// ReceiptStatus is the on-chain outcome of a transaction
type ReceiptStatus int

const (
	// ReceiptPending means the node has no receipt yet
	ReceiptPending ReceiptStatus = iota
	ReceiptSuccess
	ReceiptReverted
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptSuccess:
		return "success"
	case ReceiptReverted:
		return "reverted"
	default:
		return "pending"
	}
}

// Client errors
var (
	ErrUnknownChain = errors.New("no rpc endpoint configured for chain")
	ErrRPC          = errors.New("rpc error")
	ErrBadResponse  = errors.New("malformed rpc response")
)

// RPCRequest is a JSON-RPC 2.0 request
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// Client calls JSON-RPC endpoints keyed by chain id, each behind its own circuit breaker
type Client struct {
	endpoints  map[string]string
	httpClient *http.Client
	breakers   *breakers
}

// NewClient creates a client for the given chainId -> URL map
func NewClient(endpoints map[string]string, timeout time.Duration, breakerCfg *BreakerConfig) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		breakers:   newBreakers(breakerCfg),
	}
}

// Supports reports whether an endpoint is configured for chainID
func (c *Client) Supports(chainID string) bool {
	_, ok := c.endpoints[chainID]
	return ok
}

// Chains returns the configured chain ids in sorted order
func (c *Client) Chains() []string {
	ids := make([]string, 0, len(c.endpoints))
	for id := range c.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Call performs a JSON-RPC call on chainID and returns the "result" member
func (c *Client) Call(ctx context.Context, chainID, method string, params ...any) (gjson.Result, error) {
	url, ok := c.endpoints[chainID]
	if !ok {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	if params == nil {
		params = []any{}
	}

	out, err := c.breakers.execute(ctx, chainID, func() (any, error) {
		return c.post(ctx, url, RPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	})
	if err != nil {
		return gjson.Result{}, err
	}
	return out.(gjson.Result), nil
}

func (c *Client) post(ctx context.Context, url string, req RPCRequest) (gjson.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, ErrBadResponse
	}

	parsed := gjson.ParseBytes(respBody)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("%w %d: %s", ErrRPC, rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

// TransactionReceipt returns the receipt status of txHash on chainID
func (c *Client) TransactionReceipt(ctx context.Context, chainID, txHash string) (ReceiptStatus, error) {
	result, err := c.Call(ctx, chainID, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return ReceiptPending, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return ReceiptPending, nil
	}

	switch status := result.Get("status").String(); status {
	case "0x1":
		return ReceiptSuccess, nil
	case "0x0":
		return ReceiptReverted, nil
	default:
		return ReceiptPending, fmt.Errorf("%w: unexpected receipt status %q", ErrBadResponse, status)
	}
}
