// Package fetch retrieves raw transaction data from a mempool.space-
// style block explorer REST API and turns it into an
// internal/txmodel.Transaction.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/errs"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// DefaultMempoolURL is the public mempool.space REST API base.
const DefaultMempoolURL = "https://mempool.space/api"

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

type prevout struct {
	Value               int64  `json:"value"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
}

type vin struct {
	Prevout prevout `json:"prevout"`
}

type vout struct {
	Value               int64  `json:"value"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
}

type rawTransaction struct {
	Txid string `json:"txid"`
	Vin  []vin  `json:"vin"`
	Vout []vout `json:"vout"`
}

// Client fetches and parses CoinJoin candidate transactions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client pointed at baseURL, or DefaultMempoolURL
// if baseURL is empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultMempoolURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

// Fetch retrieves txid and parses it into a Transaction. Network
// failures are retried up to maxRetries times with exponential
// backoff before being surfaced as a NetworkError.
func (c *Client) Fetch(ctx context.Context, txid string) (*txmodel.Transaction, error) {
	raw, err := c.fetchRaw(ctx, txid)
	if err != nil {
		return nil, err
	}

	inputs := make([]txmodel.Amount, len(raw.Vin))
	for i, in := range raw.Vin {
		inputs[i] = txmodel.Amount(in.Prevout.Value)
	}
	outputs := make([]txmodel.Amount, len(raw.Vout))
	for i, out := range raw.Vout {
		outputs[i] = txmodel.Amount(out.Value)
	}

	return txmodel.New(raw.Txid, inputs, outputs)
}

func (c *Client) fetchRaw(ctx context.Context, txid string) (*rawTransaction, error) {
	url := fmt.Sprintf("%s/tx/%s", c.BaseURL, txid)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			log.Printf("fetch: retrying %s after %v (attempt %d/%d): %v", txid, backoff+jitter, attempt+1, maxRetries+1, lastErr)
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, errs.New(errs.KindNetworkError, "fetch.fetchRaw", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errs.New(errs.KindNetworkError, "fetch.fetchRaw", err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, errs.New(errs.KindInputError, "fetch.fetchRaw", fmt.Errorf("transaction %s not found", txid))
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
			continue
		}

		var raw rawTransaction
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errs.New(errs.KindNetworkError, "fetch.fetchRaw", fmt.Errorf("decode response: %w", err))
		}
		return &raw, nil
	}

	return nil, errs.New(errs.KindNetworkError, "fetch.fetchRaw", fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr))
}
