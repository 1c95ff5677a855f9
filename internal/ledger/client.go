package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// Config holds the connection and contract parameters for the ledger client.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the target chain.
	RPCURL string
	// ContractAddress is the resolution contract.
	ContractAddress string
	// ChainID of the target chain, used for transaction signing.
	ChainID int64
	// PrivateKeyHex signs direct submissions. Optional when all submissions
	// go through the relay network.
	PrivateKeyHex string
	// BlockTime is the chain's approximate block interval, used to translate
	// time windows into block ranges for event queries.
	BlockTime time.Duration
	// GasLimit for direct fulfillResolution submissions.
	GasLimit uint64
	// Confirmations to wait for before a direct submission is reported
	// confirmed.
	Confirmations int64
}

// Client talks JSON-RPC to the chain hosting the resolution contract.
type Client struct {
	cfg        Config
	contract   common.Address
	privateKey *ecdsa.PrivateKey
	from       common.Address
	builder    *CallDataBuilder
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.Ledger = (*Client)(nil)

// NewClient creates a ledger client. A missing private key leaves the client
// read-only: SubmitResolution will fail while reads keep working.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: rpc url required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 2 * time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}

	c := &Client{
		cfg:      cfg,
		contract: common.HexToAddress(cfg.ContractAddress),
		builder:  NewCallDataBuilder(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "ledger")),
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("ledger: invalid private key: %w", err)
		}
		c.privateKey = pk
		c.from = ethcrypto.PubkeyToAddress(pk.PublicKey)
	}
	return c, nil
}

// ReadMarket returns the on-ledger view of a market. The contract returns
// (state, outcome, confidence, resolutionTime) as four static words.
func (c *Client) ReadMarket(ctx context.Context, marketID int64) (domain.Market, error) {
	data := append(append([]byte{}, getMarketSelector...), bigIntTo32Bytes(big.NewInt(marketID))...)
	ret, err := c.ethCall(ctx, data)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %d: %w", marketID, err)
	}

	stateWord, err := word(ret, 0)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %d: %w", marketID, err)
	}
	outcomeWord, err := word(ret, 1)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %d: %w", marketID, err)
	}
	confWord, err := word(ret, 2)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %d: %w", marketID, err)
	}
	timeWord, err := word(ret, 3)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %d: %w", marketID, err)
	}

	outcome, ok := codeOutcomes[uint8(new(big.Int).SetBytes(outcomeWord).Uint64())]
	if !ok {
		outcome = domain.OutcomeInvalid
	}
	return domain.Market{
		ID:             marketID,
		State:          marketStates[uint8(new(big.Int).SetBytes(stateWord).Uint64())],
		Outcome:        outcome,
		Confidence:     int(new(big.Int).SetBytes(confWord).Uint64()),
		ResolutionTime: time.Unix(new(big.Int).SetBytes(timeWord).Int64(), 0).UTC(),
	}, nil
}

// marketStates is the on-chain uint8 encoding of market states.
var marketStates = map[uint8]domain.MarketState{
	0: domain.MarketStateActive,
	1: domain.MarketStateResolving,
	2: domain.MarketStateDisputed,
	3: domain.MarketStateResolved,
	4: domain.MarketStateCancelled,
}

// IsFulfilled reports whether a fulfillment already exists for the request.
func (c *Client) IsFulfilled(ctx context.Context, requestID string) (bool, error) {
	key, err := requestKey(requestID)
	if err != nil {
		return false, err
	}
	data := append(append([]byte{}, isFulfilledSelector...), key...)
	ret, err := c.ethCall(ctx, data)
	if err != nil {
		return false, fmt.Errorf("ledger: is fulfilled %s: %w", requestID, err)
	}
	w, err := word(ret, 0)
	if err != nil {
		return false, fmt.Errorf("ledger: is fulfilled %s: %w", requestID, err)
	}
	return w[31] != 0, nil
}

// QueryResolutionEvents scans ResolutionRequested logs emitted at or after
// the given time. The block range is estimated from the chain's block time,
// so the scan errs toward returning slightly more than the window.
func (c *Client) QueryResolutionEvents(ctx context.Context, since time.Time) ([]domain.ResolutionRequest, error) {
	latest, err := c.blockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}

	lookback := int64(time.Since(since)/c.cfg.BlockTime) + 1
	fromBlock := latest - lookback
	if fromBlock < 0 {
		fromBlock = 0
	}

	params := map[string]any{
		"address":   c.contract.Hex(),
		"fromBlock": hexUint(uint64(fromBlock)),
		"toBlock":   "latest",
		"topics":    []any{"0x" + hex.EncodeToString(resolutionRequestedTopic)},
	}
	raw, err := c.doRPC(ctx, "eth_getLogs", []any{params})
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}

	var logs []struct {
		Topics []string `json:"topics"`
		Data   string   `json:"data"`
	}
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("ledger: decode logs: %w", err)
	}

	events := make([]domain.ResolutionRequest, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		marketID := new(big.Int)
		marketID.SetString(strings.TrimPrefix(lg.Topics[2], "0x"), 16)

		createdAt := time.Time{}
		if data, err := hexBytes(lg.Data); err == nil && len(data) >= 32 {
			createdAt = time.Unix(new(big.Int).SetBytes(data[:32]).Int64(), 0).UTC()
		}
		if createdAt.Before(since) {
			continue // block estimate overshot the window
		}

		events = append(events, domain.ResolutionRequest{
			ID:        lg.Topics[1],
			MarketID:  marketID.Int64(),
			CreatedAt: createdAt,
		})
	}
	return events, nil
}

// SubmitResolution signs and sends a fulfillResolution transaction directly,
// then polls until it is confirmed. This is the non-relayed path used by
// governance execution.
func (c *Client) SubmitResolution(ctx context.Context, marketID int64, outcome domain.Outcome, confidence int) (domain.TxReceipt, error) {
	if c.privateKey == nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: no signing key configured")
	}

	req, err := c.nonce(ctx)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: submit resolution: %w", err)
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: submit resolution: %w", err)
	}

	// Direct submissions key the fulfillment by market ID.
	callData, err := c.builder.ResolutionCallData(fmt.Sprintf("market-%d", marketID), marketID, outcome, confidence)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	tx := types.NewTransaction(req, c.contract, big.NewInt(0), c.cfg.GasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(c.cfg.ChainID)), c.privateKey)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: sign transaction: %w", err)
	}
	rawTx, err := signed.MarshalBinary()
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: encode transaction: %w", err)
	}

	var txHash string
	raw, err := c.doRPC(ctx, "eth_sendRawTransaction", []any{"0x" + hex.EncodeToString(rawTx)})
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: send transaction: %w", err)
	}
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: decode tx hash: %w", err)
	}

	c.logger.InfoContext(ctx, "resolution submitted",
		slog.Int64("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.String("tx_hash", txHash),
	)
	return c.waitConfirmed(ctx, txHash)
}

// waitConfirmed polls for the transaction receipt until the configured
// confirmation depth is reached or the context ends. An unconfirmed receipt
// is returned rather than erroring so callers can track the hash.
func (c *Client) waitConfirmed(ctx context.Context, txHash string) (domain.TxReceipt, error) {
	receipt := domain.TxReceipt{TxHash: txHash}

	ticker := time.NewTicker(c.cfg.BlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return receipt, nil
		case <-ticker.C:
		}

		raw, err := c.doRPC(ctx, "eth_getTransactionReceipt", []any{txHash})
		if err != nil || string(raw) == "null" {
			continue
		}
		var r struct {
			BlockNumber string `json:"blockNumber"`
			Status      string `json:"status"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if r.Status == "0x0" {
			return receipt, fmt.Errorf("ledger: transaction %s reverted", txHash)
		}

		block := new(big.Int)
		block.SetString(strings.TrimPrefix(r.BlockNumber, "0x"), 16)
		receipt.BlockNumber = block.Int64()

		latest, err := c.blockNumber(ctx)
		if err != nil {
			continue
		}
		if latest-receipt.BlockNumber >= c.cfg.Confirmations {
			receipt.Confirmed = true
			return receipt, nil
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doRPC executes one JSON-RPC call and returns the raw result.
func (c *Client) doRPC(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// ethCall executes a read-only contract call against the latest block.
func (c *Client) ethCall(ctx context.Context, data []byte) ([]byte, error) {
	params := []any{
		map[string]string{
			"to":   c.contract.Hex(),
			"data": "0x" + hex.EncodeToString(data),
		},
		"latest",
	}
	raw, err := c.doRPC(ctx, "eth_call", params)
	if err != nil {
		return nil, err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return hexBytes(out)
}

// blockNumber returns the latest block number.
func (c *Client) blockNumber(ctx context.Context) (int64, error) {
	raw, err := c.doRPC(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(out, "0x"), 16)
	return n.Int64(), nil
}

// nonce returns the pending nonce for the signing account.
func (c *Client) nonce(ctx context.Context) (uint64, error) {
	raw, err := c.doRPC(ctx, "eth_getTransactionCount", []any{c.from.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(out, "0x"), 16)
	return n.Uint64(), nil
}

// gasPrice returns the current gas price.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.doRPC(ctx, "eth_gasPrice", []any{})
	if err != nil {
		return nil, err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode gas price: %w", err)
	}
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(out, "0x"), 16)
	return n, nil
}

// hexBytes decodes a 0x-prefixed hex string.
func hexBytes(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return raw, nil
}

// hexUint formats n as a 0x-prefixed hex quantity.
func hexUint(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}
