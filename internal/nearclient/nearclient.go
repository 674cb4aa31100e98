// Package nearclient is the external collaborator that talks to a NEAR
// RPC endpoint for the two read operations Validation and KeygenService
// need: listing an account's access keys, and fetching a transaction's
// execution outcome. No NEAR SDK appears anywhere in the retrieval pack,
// so this is a deliberately thin net/http + encoding/json JSON-RPC 2.0
// client rather than a hand-rolled reimplementation of the protocol — see
// DESIGN.md.
package nearclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

// AccessKey is one entry of viewAccessKeyList's result.
type AccessKey struct {
	PublicKey string `json:"public_key"`
}

// ViewAccessKeyListResult is the shape Validation's scope check consumes.
type ViewAccessKeyListResult struct {
	Keys []AccessKey `json:"keys"`
}

// FinalExecutionOutcome is the minimal subset of NEAR's transaction
// outcome KeygenService needs to confirm a registration call succeeded.
type FinalExecutionOutcome struct {
	Status struct {
		SuccessValue string `json:"SuccessValue"`
	} `json:"status"`
	Transaction struct {
		SignerID   string `json:"signer_id"`
		ReceiverID string `json:"receiver_id"`
		Actions    []json.RawMessage `json:"actions"`
	} `json:"transaction"`
}

// Client is the external collaborator interface injected into the
// services that need NEAR RPC reads.
type Client interface {
	ViewAccessKeyList(ctx context.Context, accountID string) (ViewAccessKeyListResult, error)
	TxStatus(ctx context.Context, txHash, senderAccountID string) (FinalExecutionOutcome, error)
}

// HTTPClient is the real Client, issuing JSON-RPC 2.0 requests against a
// configured NEAR RPC URL.
type HTTPClient struct {
	rpcURL string
	http   *http.Client
}

func NewHTTPClient(rpcURL string) *HTTPClient {
	return &HTTPClient{rpcURL: rpcURL, http: &http.Client{Timeout: 15 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "threshold-relayer", Method: method, Params: params})
	if err != nil {
		return rerr.Internal(err, "nearclient: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return rerr.Internal(err, "nearclient: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return rerr.Wrap(rerr.CodeUnavailable, err, "nearclient: rpc request failed")
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return rerr.Internal(err, "nearclient: decode rpc response")
	}
	if rpcResp.Error != nil {
		return rerr.New(rerr.CodeInternal, "nearclient: rpc error: "+rpcResp.Error.Message)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return rerr.Internal(err, "nearclient: decode rpc result")
	}
	return nil
}

func (c *HTTPClient) ViewAccessKeyList(ctx context.Context, accountID string) (ViewAccessKeyListResult, error) {
	var out ViewAccessKeyListResult
	err := c.call(ctx, "query", map[string]interface{}{
		"request_type": "view_access_key_list",
		"finality":     "final",
		"account_id":   accountID,
	}, &out)
	return out, err
}

func (c *HTTPClient) TxStatus(ctx context.Context, txHash, senderAccountID string) (FinalExecutionOutcome, error) {
	var out FinalExecutionOutcome
	err := c.call(ctx, "tx", map[string]interface{}{
		"tx_hash":        txHash,
		"sender_account_id": senderAccountID,
	}, &out)
	return out, err
}
