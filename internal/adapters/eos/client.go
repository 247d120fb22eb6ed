package eos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

const (
	// Rate limits conservadores contra el full node público: las lecturas
	// de tabla corren cada 250ms, los pushes de payout son raros.
	chainRatePerSec = 10
	pushRatePerSec  = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client habla con el full node de la chain (lecturas) y con el signer
// externo (payouts). El firmado de transacciones vive fuera del core: el
// signer recibe la acción y devuelve el recibo de la transacción finalizada.
type Client struct {
	http         *http.Client
	apiBase      string
	signerBase   string
	contract     string
	chainLimiter *rate.Limiter
	pushLimiter  *rate.Limiter
}

// NewClient crea un Client contra el full node y el signer dados.
// contract es la cuenta del smart contract de subastas.
func NewClient(apiBase, signerBase, contract string) *Client {
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		apiBase:      apiBase,
		signerBase:   signerBase,
		contract:     contract,
		chainLimiter: rate.NewLimiter(chainRatePerSec, 5),
		pushLimiter:  rate.NewLimiter(pushRatePerSec, 1),
	}
}

// Snapshot lee head time + tabla de subastas como un snapshot lógico.
// Cualquier fallo se devuelve entero al caller: el reconciler trata todo
// error del ledger como transitorio y reintenta con backoff.
func (c *Client) Snapshot(ctx context.Context) (domain.LedgerSnapshot, error) {
	var info chainInfo
	if err := c.post(ctx, c.chainLimiter, c.apiBase+"/v1/chain/get_info", nil, &info); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("eos.Snapshot: get_info: %w", err)
	}

	head, err := parseChainTime(info.HeadBlockTime)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("eos.Snapshot: head time: %w", err)
	}

	req := tableRowsRequest{
		JSON:  true,
		Code:  c.contract,
		Scope: c.contract,
		Table: "auctions",
		Limit: 100,
	}
	var resp tableRowsResponse
	if err := c.post(ctx, c.chainLimiter, c.apiBase+"/v1/chain/get_table_rows", req, &resp); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("eos.Snapshot: get_table_rows: %w", err)
	}

	auctions := make([]domain.Auction, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		a, err := row.toDomain()
		if err != nil {
			// Fail closed: una fila que no decodifica invalida el snapshot
			// entero en vez de colarse como un default silencioso.
			return domain.LedgerSnapshot{}, fmt.Errorf("eos.Snapshot: decode row: %w", err)
		}
		auctions = append(auctions, a)
	}

	return domain.LedgerSnapshot{HeadTime: head, Auctions: auctions}, nil
}

// SubmitPayout envía la acción de payout vía el signer externo. Con
// replace != nil usa la variante replaceparams (el lane reinicia como otro
// tipo); sin él, la variante rollover del mismo lane.
func (c *Client) SubmitPayout(ctx context.Context, auctionID uint64, replace *domain.ReplacementParams) (domain.PayoutReceipt, error) {
	action := payoutAction{
		Contract:  c.contract,
		Name:      "payout",
		AuctionID: auctionID,
	}
	if replace != nil {
		action.Name = "rzpaywinner"
		action.Replace = &replaceParams{
			Type:          replace.TypeID,
			InitBidCount:  replace.InitBidCount,
			BidPrice:      replace.BidPrice.String(),
			InitPrizePool: replace.InitPrizePool.String(),
			DurationSecs:  replace.DurationSecs,
		}
	}

	var resp pushResponse
	if err := c.post(ctx, c.pushLimiter, c.signerBase+"/v1/signer/push_action", action, &resp); err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("eos.SubmitPayout: auction %d: %w", auctionID, err)
	}
	if resp.TransactionID == "" {
		return domain.PayoutReceipt{}, fmt.Errorf("eos.SubmitPayout: auction %d: signer returned empty transaction id", auctionID)
	}

	return domain.PayoutReceipt{TxID: resp.TransactionID, BlockNum: resp.BlockNum}, nil
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			reader = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial, respetando el
// contexto. Los errores 4xx no se reintentan: un payout rechazado por el
// ledger (duplicado, nonce) debe volver entero al orchestrator.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("chain API retrying", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("ledger rejected request (%d): %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
