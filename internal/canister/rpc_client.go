package canister

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// PrincipalHeader carries the caller principal on the JSON-RPC transport.
const PrincipalHeader = "X-Principal"

// RPCClient calls a development canister over JSON-RPC 2.0. The transport
// is unsigned: the caller is asserted through PrincipalHeader.
type RPCClient struct {
	endpoint string
	caller   principal.Principal
	http     *http.Client
	nextID   atomic.Int64
}

// NewRPCClient creates a client for endpoint calling as caller.
func NewRPCClient(endpoint string, caller principal.Principal, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		endpoint: endpoint,
		caller:   caller,
		http:     &http.Client{Timeout: timeout},
	}
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is a JSON-RPC error object. As a Go error it is a transport
// failure, not a canister Err result.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// OwnerParam is the parameter of get_address and get_balance.
type OwnerParam struct {
	Principal *principal.Principal `json:"principal,omitempty"`
}

// SendParam is the parameter of send_btc.
type SendParam struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

func (c *RPCClient) GetAddress(ctx context.Context, owner *principal.Principal) (Result[string], error) {
	var res Result[string]
	err := c.call(ctx, MethodGetAddress, OwnerParam{Principal: owner}, &res)
	return res, err
}

func (c *RPCClient) GetBalance(ctx context.Context, owner *principal.Principal) (Result[uint64], error) {
	var res Result[uint64]
	err := c.call(ctx, MethodGetBalance, OwnerParam{Principal: owner}, &res)
	return res, err
}

func (c *RPCClient) SendBTC(ctx context.Context, address string, satoshi uint64) (Result[string], error) {
	var res Result[string]
	err := c.call(ctx, MethodSendBTC, SendParam{Address: address, Amount: satoshi}, &res)
	return res, err
}

// call invokes a JSON-RPC method and unmarshals the result into result.
func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  rawParams,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(PrincipalHeader, c.caller.Text())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp Response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.Result == nil {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
