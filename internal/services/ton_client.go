package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"corgi-rewards/internal/config"
	"corgi-rewards/pkg/common"
)

// TransferRequest is a jetton transfer handed to the broadcaster. QueryID is
// the ledger row id; the chain layer deduplicates retried submissions on it.
type TransferRequest struct {
	SenderAccount string `json:"sender_account"`
	Destination   string `json:"destination"`
	Amount        int64  `json:"amount"`
	QueryID       uint64 `json:"query_id"`
}

// TransferResult is what the chain gateway reports after accepting a
// transfer for broadcast.
type TransferResult struct {
	Hash      string    `json:"hash"`
	SeqNo     uint64    `json:"seqno"`
	Timestamp time.Time `json:"timestamp"`
}

// TonClient talks to the chain gateway sidecar that wraps wallet key custody
// and BOC encoding. All calls are bounded by the configured request timeout.
type TonClient struct {
	http       *common.HTTPClient
	bankWallet string
}

func NewTonClient(cfg config.ChainConfig) *TonClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-API-Key"] = cfg.APIKey
	}
	return &TonClient{
		http:       common.NewHTTPClient(cfg.APIBaseURL, cfg.RequestTimeout, headers),
		bankWallet: cfg.BankWallet,
	}
}

type jettonWalletResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// ResolveJettonWallet derives the jetton sub-wallet holding jettonMaster's
// token for the given owner address. An empty address means the owner has no
// jetton wallet deployed yet.
func (c *TonClient) ResolveJettonWallet(ctx context.Context, owner, jettonMaster string) (string, error) {
	var resp jettonWalletResponse
	path := fmt.Sprintf("/jettons/%s/wallets/%s", jettonMaster, owner)
	if err := c.http.GetJSON(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("resolve jetton wallet for %s: %w", owner, err)
	}
	return resp.Address, nil
}

// JettonBalance reads the owner's current jetton balance in smallest units.
func (c *TonClient) JettonBalance(ctx context.Context, owner, jettonMaster string) (int64, error) {
	var resp jettonWalletResponse
	path := fmt.Sprintf("/jettons/%s/wallets/%s", jettonMaster, owner)
	if err := c.http.GetJSON(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("read jetton balance for %s: %w", owner, err)
	}
	if resp.Balance == "" {
		return 0, nil
	}
	// Balances come over the wire as decimal strings, never floats.
	balance, err := strconv.ParseInt(resp.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse jetton balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

type broadcastResponse struct {
	Hash  string `json:"hash"`
	SeqNo uint64 `json:"seqno"`
	Utime int64  `json:"utime"`
}

// BroadcastTransfer submits a signed jetton transfer through the gateway.
func (c *TonClient) BroadcastTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var resp broadcastResponse
	if err := c.http.PostJSON(ctx, "/transfers", req, &resp); err != nil {
		return nil, fmt.Errorf("broadcast transfer (query_id=%d): %w", req.QueryID, err)
	}
	return &TransferResult{
		Hash:      resp.Hash,
		SeqNo:     resp.SeqNo,
		Timestamp: time.Unix(resp.Utime, 0),
	}, nil
}

// TransferStatus is the chain-side outcome of a broadcast transfer.
type TransferStatus struct {
	Confirmed bool  `json:"confirmed"`
	ExitCode  int32 `json:"exit_code"`
}

// TransferStatus looks up whether the transfer identified by hash has been
// confirmed and with what exit code.
func (c *TonClient) TransferStatus(ctx context.Context, hash string) (*TransferStatus, error) {
	var resp TransferStatus
	path := fmt.Sprintf("/transfers/%s", hash)
	if err := c.http.GetJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("read transfer status for %s: %w", hash, err)
	}
	return &resp, nil
}

type seqnoResponse struct {
	SeqNo uint64 `json:"seqno"`
}

// HasSeqNoAdvanced reports whether the bank wallet's seqno moved past prev.
// Used during retry reconciliation: an advanced seqno means an earlier
// broadcast may have landed despite a client-side error.
func (c *TonClient) HasSeqNoAdvanced(ctx context.Context, prev uint64) (bool, uint64, error) {
	var resp seqnoResponse
	path := fmt.Sprintf("/wallets/%s/seqno", c.bankWallet)
	if err := c.http.GetJSON(ctx, path, &resp); err != nil {
		return false, 0, fmt.Errorf("read bank wallet seqno: %w", err)
	}
	return resp.SeqNo > prev, resp.SeqNo, nil
}
