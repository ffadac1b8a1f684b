// Package hiveengine is a JSON-RPC client for a Hive layer-1 node and its
// Hive-Engine sidechain API. The layer-1 side serves transaction lookups for
// stake verification; the sidechain side serves token balance reads.
package hiveengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// Client talks to a layer-1 node (condenser API) and a Hive-Engine RPC
// endpoint. It implements domain.LedgerReader.
type Client struct {
	nodeURL    string
	engineURL  string
	httpClient *http.Client
}

// NewClient creates a Client for the given endpoints, e.g.
// "https://api.hive.blog" and "https://api.hive-engine.com/rpc".
func NewClient(nodeURL, engineURL string) *Client {
	return &Client{
		nodeURL:    strings.TrimRight(nodeURL, "/"),
		engineURL:  strings.TrimRight(engineURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// rpcRequest is the standard JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

// rpcResponse is the standard JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rawTransaction is the condenser API transaction shape. Each operation is a
// two-element array: [opType, opPayload].
type rawTransaction struct {
	TransactionID string            `json:"transaction_id"`
	BlockNum      int64             `json:"block_num"`
	Operations    []json.RawMessage `json:"operations"`
}

// rawCustomJSON is the payload half of a custom_json operation.
type rawCustomJSON struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// GetTransaction fetches a transaction from the layer-1 node. A transaction
// the node has not indexed yet maps to domain.ErrTxNotFound so callers can
// distinguish indexing lag from transport failures.
func (c *Client) GetTransaction(ctx context.Context, txID string) (domain.LedgerTransaction, error) {
	result, err := c.call(ctx, c.nodeURL, "condenser_api.get_transaction", []any{txID})
	if err != nil {
		return domain.LedgerTransaction{}, err
	}

	var raw rawTransaction
	if err := json.Unmarshal(result, &raw); err != nil {
		return domain.LedgerTransaction{}, fmt.Errorf("hiveengine: decode transaction %s: %w", txID, err)
	}

	tx := domain.LedgerTransaction{
		ID:         raw.TransactionID,
		BlockNum:   raw.BlockNum,
		Operations: make([]domain.LedgerOperation, 0, len(raw.Operations)),
	}

	for _, rawOp := range raw.Operations {
		// Each operation is a [type, payload] pair.
		var pair []json.RawMessage
		if err := json.Unmarshal(rawOp, &pair); err != nil || len(pair) != 2 {
			continue
		}

		var opType string
		if err := json.Unmarshal(pair[0], &opType); err != nil {
			continue
		}

		op := domain.LedgerOperation{Type: opType}
		if opType == "custom_json" {
			var cj rawCustomJSON
			if err := json.Unmarshal(pair[1], &cj); err != nil {
				continue
			}
			op.ID = cj.ID
			op.RequiredAuths = cj.RequiredAuths
			op.JSON = cj.JSON
		}
		tx.Operations = append(tx.Operations, op)
	}

	return tx, nil
}

// TokenBalance is a Hive-Engine token balance row.
type TokenBalance struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
	Stake   string `json:"stake"`
}

// GetTokenBalance reads an account's sidechain token balance. A missing row
// (account never held the token) returns a zero balance, not an error.
func (c *Client) GetTokenBalance(ctx context.Context, account, symbol string) (TokenBalance, error) {
	params := map[string]any{
		"contract": "tokens",
		"table":    "balances",
		"query": map[string]string{
			"account": account,
			"symbol":  symbol,
		},
	}

	result, err := c.call(ctx, c.engineURL+"/contracts", "findOne", params)
	if err != nil {
		return TokenBalance{}, fmt.Errorf("hiveengine: token balance for %s: %w", account, err)
	}

	if string(result) == "null" || len(result) == 0 {
		return TokenBalance{Account: account, Symbol: symbol, Balance: "0"}, nil
	}

	var bal TokenBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return TokenBalance{}, fmt.Errorf("hiveengine: decode balance for %s: %w", account, err)
	}
	return bal, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// call executes a JSON-RPC request against url and returns the raw result.
func (c *Client) call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		// Unknown-transaction errors mean the node has not indexed the
		// transaction (yet); everything else is a real RPC failure.
		if strings.Contains(strings.ToLower(rpcResp.Error.Message), "unknown transaction") {
			return nil, domain.ErrTxNotFound
		}
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if string(rpcResp.Result) == "null" && method == "condenser_api.get_transaction" {
		return nil, domain.ErrTxNotFound
	}

	return rpcResp.Result, nil
}
