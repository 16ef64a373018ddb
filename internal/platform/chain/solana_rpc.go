package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	cfgpkg "github.com/eventop/subsync/pkg/config"
)

// RPCClient implements Client against a Solana JSON-RPC node. It is a thin,
// program-specific adapter: it only knows the handful of calls the indexer
// and scheduler need.
type RPCClient struct {
	rpcURL    string
	wsURL     string
	programID string
	usdcMint  string
	payer     ed25519.PrivateKey
	payerPub  string
	http      *http.Client
	log       *zap.SugaredLogger
	reqID     atomic.Uint64
}

func NewRPCClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) (*RPCClient, error) {
	if cfg.Chain.RPCURL == "" || cfg.Chain.ProgramID == "" {
		return nil, fmt.Errorf("chain: rpc_url and program_id are required")
	}
	c := &RPCClient{
		rpcURL:    cfg.Chain.RPCURL,
		wsURL:     cfg.Chain.WSURL,
		programID: cfg.Chain.ProgramID,
		usdcMint:  cfg.Chain.UsdcMint,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
	if cfg.Chain.PayerKey != "" {
		secret := base58.Decode(cfg.Chain.PayerKey)
		if len(secret) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("chain: payer key must decode to %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
		}
		c.payer = ed25519.PrivateKey(secret)
		c.payerPub = base58.Encode(c.payer.Public().(ed25519.PublicKey))
		log.Infow("chain payer loaded", "payer", c.payerPub)
	}
	return c, nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func (c *RPCClient) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.reqID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{Err: fmt.Errorf("%s returned %d", method, resp.StatusCode)}
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &TransientError{Err: err}
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil {
		return json.Unmarshal(envelope.Result, result)
	}
	return nil
}

func (c *RPCClient) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, "getSlot", []any{map[string]string{"commitment": "confirmed"}}, &slot)
	return slot, err
}

func (c *RPCClient) SignaturesForProgram(ctx context.Context, limit int) ([]SignatureInfo, error) {
	var raw []struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
		Err       any    `json:"err"`
		BlockTime *int64 `json:"blockTime"`
	}
	params := []any{c.programID, map[string]any{"limit": limit, "commitment": "confirmed"}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &raw); err != nil {
		return nil, err
	}
	out := make([]SignatureInfo, 0, len(raw))
	for _, s := range raw {
		info := SignatureInfo{Signature: s.Signature, Slot: s.Slot, Failed: s.Err != nil}
		if s.BlockTime != nil {
			t := time.Unix(*s.BlockTime, 0)
			info.BlockTime = &t
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *RPCClient) Transaction(ctx context.Context, signature string) (*TransactionInfo, error) {
	var raw *struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			Err         any      `json:"err"`
			LogMessages []string `json:"logMessages"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	params := []any{signature, map[string]any{
		"encoding":                       "json",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrTransactionNotFound
	}
	info := &TransactionInfo{
		Signature:   signature,
		Slot:        raw.Slot,
		AccountKeys: raw.Transaction.Message.AccountKeys,
		Success:     raw.Meta == nil || raw.Meta.Err == nil,
	}
	if raw.Meta != nil {
		info.Logs = raw.Meta.LogMessages
	}
	if raw.BlockTime != nil {
		t := time.Unix(*raw.BlockTime, 0)
		info.BlockTime = &t
	}
	return info, nil
}

func (c *RPCClient) ProgramAccounts(ctx context.Context, discriminator [8]byte) ([]ProgramAccount, error) {
	var raw []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data []string `json:"data"`
		} `json:"account"`
	}
	params := []any{c.programID, map[string]any{
		"encoding":   "base64",
		"commitment": "confirmed",
		"filters": []any{
			map[string]any{"memcmp": map[string]any{"offset": 0, "bytes": base58.Encode(discriminator[:])}},
		},
	}}
	if err := c.call(ctx, "getProgramAccounts", params, &raw); err != nil {
		return nil, err
	}
	out := make([]ProgramAccount, 0, len(raw))
	for _, a := range raw {
		if len(a.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(a.Account.Data[0])
		if err != nil {
			c.log.Warnw("skipping account with undecodable data", "address", a.Pubkey, "err", err)
			continue
		}
		out = append(out, ProgramAccount{Address: a.Pubkey, Data: data})
	}
	return out, nil
}

func (c *RPCClient) accountData(ctx context.Context, address string) ([]byte, error) {
	var raw struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	params := []any{address, map[string]any{"encoding": "base64", "commitment": "confirmed"}}
	if err := c.call(ctx, "getAccountInfo", params, &raw); err != nil {
		return nil, err
	}
	if raw.Value == nil || len(raw.Value.Data) == 0 {
		return nil, ErrAccountNotFound
	}
	return base64.StdEncoding.DecodeString(raw.Value.Data[0])
}

func (c *RPCClient) SubscriptionState(ctx context.Context, subscriptionPda string) (*SubscriptionState, error) {
	data, err := c.accountData(ctx, subscriptionPda)
	if err != nil {
		return nil, err
	}
	return DecodeSubscriptionState(data)
}

func (c *RPCClient) latestBlockhash(ctx context.Context) (string, error) {
	var raw struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": "confirmed"}}, &raw)
	return raw.Value.Blockhash, err
}

func (c *RPCClient) sendTransaction(ctx context.Context, wire []byte) (string, error) {
	var sig string
	params := []any{base64.StdEncoding.EncodeToString(wire), map[string]any{
		"encoding":      "base64",
		"skipPreflight": false,
		"maxRetries":    0,
	}}
	err := c.call(ctx, "sendTransaction", params, &sig)
	return sig, err
}

// confirmSignature polls until the signature reaches confirmed commitment or
// the deadline passes. Broadcast transactions cannot be recalled, so a
// timeout here does not mean the transfer failed.
func (c *RPCClient) confirmSignature(ctx context.Context, signature string, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		var raw struct {
			Value []*struct {
				ConfirmationStatus string `json:"confirmationStatus"`
				Err                any    `json:"err"`
			} `json:"value"`
		}
		if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &raw); err == nil {
			if len(raw.Value) == 1 && raw.Value[0] != nil {
				st := raw.Value[0]
				if st.Err != nil {
					return fmt.Errorf("chain: transaction %s failed on-chain", signature)
				}
				if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return &TransientError{Err: fmt.Errorf("confirmation timed out for %s", signature)}
		case <-ticker.C:
		}
	}
}

// SubscribeLogs opens a logsSubscribe websocket stream for the program and
// reconnects with backoff until ctx is cancelled.
func (c *RPCClient) SubscribeLogs(ctx context.Context) (<-chan LogBatch, error) {
	if c.wsURL == "" {
		return nil, fmt.Errorf("chain: ws_url not configured")
	}
	out := make(chan LogBatch, 64)
	go func() {
		defer close(out)
		backoff := time.Second
		for ctx.Err() == nil {
			if err := c.streamLogs(ctx, out); err != nil && ctx.Err() == nil {
				c.log.Warnw("log subscription dropped, reconnecting", "err", err, "backoff", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		}
	}()
	return out, nil
}

func (c *RPCClient) streamLogs(ctx context.Context, out chan<- LogBatch) error {
	conn, _, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 22)

	sub, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{c.programID}},
			map[string]string{"commitment": "confirmed"},
		},
	})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return err
	}
	c.log.Infow("subscribed to program logs", "program", c.programID)

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var note struct {
			Method string `json:"method"`
			Params struct {
				Result struct {
					Context struct {
						Slot uint64 `json:"slot"`
					} `json:"context"`
					Value struct {
						Signature string   `json:"signature"`
						Logs      []string `json:"logs"`
						Err       any      `json:"err"`
					} `json:"value"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(msg, &note); err != nil || note.Method != "logsNotification" {
			continue
		}
		batch := LogBatch{
			Signature: note.Params.Result.Value.Signature,
			Slot:      note.Params.Result.Context.Slot,
			Logs:      note.Params.Result.Value.Logs,
			Failed:    note.Params.Result.Value.Err != nil,
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
