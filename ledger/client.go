package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object carried by a failed JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error satisfies the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Config holds configuration for the ledger RPC client.
type Config struct {
	RPCURL      string
	ChainID     string
	HTTPTimeout time.Duration
}

// Client speaks JSON-RPC to a ledger node.
type Client struct {
	rpcURL     string
	chainID    string
	httpClient *http.Client
}

// NewClient creates a ledger client from the supplied configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: RPC URL is required")
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Client{
		rpcURL:  cfg.RPCURL,
		chainID: cfg.ChainID,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() string { return c.chainID }

// Call makes a JSON-RPC call against the configured endpoint.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*RPCResponse, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ledger: rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger: rpc call failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("ledger: decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("ledger: %w", rpcResp.Error)
	}
	return &rpcResp, nil
}

type accountResult struct {
	Sequence uint64 `json:"sequence"`
}

// GetSequence fetches the current sequence number for an account. The value
// must be fetched fresh before every signed submission.
func (c *Client) GetSequence(ctx context.Context, address string) (uint64, error) {
	resp, err := c.Call(ctx, "getAccount", map[string]interface{}{"address": address})
	if err != nil {
		return 0, err
	}
	var result accountResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("ledger: unmarshal account: %w", err)
	}
	return result.Sequence, nil
}

// SubmitAck is the node's acknowledgement of an accepted submission.
type SubmitAck struct {
	Hash   string `json:"hash"`
	Ledger uint64 `json:"ledger"`
	// Code carries the node's rejection reason when the submission was
	// refused at admission. Empty on acceptance.
	Code string `json:"code,omitempty"`
}

// SendTransaction submits a signed envelope. A node-side rejection is
// surfaced as a *SubmitError carrying the rejection code so the retry
// policy can classify it.
func (c *Client) SendTransaction(ctx context.Context, env *Envelope) (*SubmitAck, error) {
	resp, err := c.Call(ctx, "sendTransaction", map[string]interface{}{"transaction": env})
	if err != nil {
		return nil, err
	}
	var ack SubmitAck
	if err := json.Unmarshal(resp.Result, &ack); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal submission ack: %w", err)
	}
	if ack.Code != "" {
		return nil, &SubmitError{Code: ack.Code}
	}
	if ack.Hash == "" {
		return nil, fmt.Errorf("ledger: invalid response: missing transaction hash")
	}
	return &ack, nil
}

// TxStatus is the node's view of a previously submitted transaction.
type TxStatus struct {
	Status string `json:"status"`
	Ledger uint64 `json:"ledger"`
}

// Transaction status values reported by the node.
const (
	TxStatusNotFound = "NOT_FOUND"
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
)

// GetTransactionStatus fetches the status of a submitted transaction.
func (c *Client) GetTransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	resp, err := c.Call(ctx, "getTransaction", map[string]interface{}{"hash": txHash})
	if err != nil {
		return nil, err
	}
	var status TxStatus
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal transaction status: %w", err)
	}
	return &status, nil
}

type latestLedgerResult struct {
	Sequence uint64 `json:"sequence"`
	Closed   int64  `json:"closedAt"`
}

// GetLatestLedger fetches the most recently closed ledger sequence.
func (c *Client) GetLatestLedger(ctx context.Context) (uint64, error) {
	resp, err := c.Call(ctx, "getLatestLedger", nil)
	if err != nil {
		return 0, err
	}
	var result latestLedgerResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("ledger: unmarshal latest ledger: %w", err)
	}
	return result.Sequence, nil
}

// SimulateCall executes a read-only contract invocation and returns the
// decoded result value. Simulation never consumes a sequence number.
func (c *Client) SimulateCall(ctx context.Context, op Operation) (Value, error) {
	resp, err := c.Call(ctx, "simulateCall", map[string]interface{}{"operation": op})
	if err != nil {
		return Value{}, err
	}
	var result Value
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return result, nil
}

// LogContractInteraction records a contract invocation for debugging.
func (c *Client) LogContractInteraction(contractID, function string, args map[string]interface{}) {
	slog.Info("contract interaction",
		"contract_id", contractID,
		"function", function,
		"chain_id", c.chainID,
		"args", args,
	)
}
