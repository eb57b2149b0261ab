// Package walletd is the JSON-RPC client for the external wallet daemon. The
// daemon is the sole authority on address validity, signature verification
// and payouts; the ledger core trusts its verdicts but never its transport.
package walletd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultRequestID is the fixed JSON-RPC request id sent with every call.
const DefaultRequestID = "bubcoinbot"

// Config holds client configuration.
type Config struct {
	URL       string
	Username  string
	Password  string
	RequestID string
	Timeout   time.Duration
}

// Client talks JSON-RPC 1.0 over HTTP with basic auth.
type Client struct {
	url        string
	username   string
	password   string
	requestID  string
	httpClient *http.Client
}

// NewClient creates a wallet daemon client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("wallet daemon URL required")
	}

	requestID := cfg.RequestID
	if requestID == "" {
		requestID = DefaultRequestID
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		url:       cfg.URL,
		username:  cfg.Username,
		password:  cfg.Password,
		requestID: requestID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes a JSON-RPC call to the daemon. Daemon-reported failures come
// back as *RPCError; transport failures as *TransportError, classified by
// whether the request may have reached the daemon.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "1.0",
		ID:      c.requestID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/plain")
	httpReq.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err, MaybeSent: !isDialError(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err), MaybeSent: true}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("malformed response: %w", err), MaybeSent: true}
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// isDialError reports whether the request definitely never left this host,
// which makes a transport failure safe to treat as "not sent".
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// =============================================================================
// Consumed call shapes
// =============================================================================

// AddressInfo is the subset of the validateaddress response the ledger uses.
type AddressInfo struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
}

// ValidateAddress asks the daemon whether an address is well formed for its
// chain.
func (c *Client) ValidateAddress(ctx context.Context, address string) (AddressInfo, error) {
	result, err := c.Call(ctx, "validateaddress", address)
	if err != nil {
		return AddressInfo{}, err
	}

	var info AddressInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return AddressInfo{}, &TransportError{Err: fmt.Errorf("malformed validateaddress result: %w", err), MaybeSent: true}
	}
	return info, nil
}

// VerifyMessage asks the daemon whether signature proves that the holder of
// address signed message.
func (c *Client) VerifyMessage(ctx context.Context, address, signature, message string) (bool, error) {
	result, err := c.Call(ctx, "verifymessage", address, signature, message)
	if err != nil {
		return false, err
	}

	var verified bool
	if err := json.Unmarshal(result, &verified); err != nil {
		return false, &TransportError{Err: fmt.Errorf("malformed verifymessage result: %w", err), MaybeSent: true}
	}
	return verified, nil
}

// SendMany issues an on-chain payout. amounts maps addresses to exact decimal
// strings; they go out as JSON numbers per the daemon's convention. Returns
// the transaction id.
func (c *Client) SendMany(ctx context.Context, amounts map[string]string, minConf int, comment string) (string, error) {
	wire := make(map[string]json.Number, len(amounts))
	for addr, amt := range amounts {
		wire[addr] = json.Number(amt)
	}

	result, err := c.Call(ctx, "sendmany", "", wire, minConf, comment)
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", &TransportError{Err: fmt.Errorf("malformed sendmany result: %w", err), MaybeSent: true}
	}
	return txid, nil
}

// Ping checks daemon reachability. The daemon answers validateaddress even
// for garbage input, so only transport failures count.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ValidateAddress(ctx, "")
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return nil
}
