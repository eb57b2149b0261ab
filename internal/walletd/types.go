package walletd

import (
	"encoding/json"
	"fmt"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     string          `json:"id"`
}

// RPCError is a failure reported by the daemon itself. The call definitely
// reached the daemon and definitely did not take effect.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// TransportError is a failure below the RPC layer. MaybeSent distinguishes
// requests that never left this host from those whose outcome is unknown;
// callers with irreversible side effects must treat MaybeSent failures as
// possibly-succeeded.
type TransportError struct {
	Err       error
	MaybeSent bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wallet daemon transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
