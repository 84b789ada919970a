package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/floranet/petal-oracle/pkg/proof"
)

// httpGet fetches and decodes a JSON endpoint. Non-2xx responses and
// malformed bodies are adapter failures, never panics.
func httpGet(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed json: %w", err)
	}
	return nil
}

// BinanceAdapter reads the HBAR/USDT spot ticker.
type BinanceAdapter struct {
	id       string
	entityID string
	baseURL  string
	client   *http.Client
}

// NewBinanceAdapter builds the adapter; baseURL defaults to the public
// Binance API when empty.
func NewBinanceAdapter(id, entityID, baseURL string, client *http.Client) *BinanceAdapter {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceAdapter{id: id, entityID: entityID, baseURL: baseURL, client: client}
}

func (a *BinanceAdapter) ID() string { return a.id }

func (a *BinanceAdapter) Fetch(ctx context.Context) (*proof.AdapterRecord, error) {
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	url := a.baseURL + "/api/v3/ticker/price?symbol=HBARUSDT"
	if err := httpGet(ctx, a.client, url, &body); err != nil {
		return nil, fmt.Errorf("adapters: %s: %w", a.id, err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("adapters: %s: unparseable price %q", a.id, body.Price)
	}
	return newRecord(a.id, a.entityID, "binance", price)
}

// CoinGeckoAdapter reads the hedera-hashgraph simple price.
type CoinGeckoAdapter struct {
	id       string
	entityID string
	baseURL  string
	client   *http.Client
}

func NewCoinGeckoAdapter(id, entityID, baseURL string, client *http.Client) *CoinGeckoAdapter {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGeckoAdapter{id: id, entityID: entityID, baseURL: baseURL, client: client}
}

func (a *CoinGeckoAdapter) ID() string { return a.id }

func (a *CoinGeckoAdapter) Fetch(ctx context.Context) (*proof.AdapterRecord, error) {
	var body map[string]map[string]float64
	url := a.baseURL + "/api/v3/simple/price?ids=hedera-hashgraph&vs_currencies=usd"
	if err := httpGet(ctx, a.client, url, &body); err != nil {
		return nil, fmt.Errorf("adapters: %s: %w", a.id, err)
	}
	price, ok := body["hedera-hashgraph"]["usd"]
	if !ok {
		return nil, fmt.Errorf("adapters: %s: price missing from response", a.id)
	}
	return newRecord(a.id, a.entityID, "coingecko", price)
}

// MirrorRateAdapter derives HBAR/USD from the network exchange rate on
// the mirror node.
type MirrorRateAdapter struct {
	id       string
	entityID string
	baseURL  string
	client   *http.Client
}

func NewMirrorRateAdapter(id, entityID, baseURL string, client *http.Client) *MirrorRateAdapter {
	if baseURL == "" {
		baseURL = "https://mainnet-public.mirrornode.hedera.com"
	}
	return &MirrorRateAdapter{id: id, entityID: entityID, baseURL: baseURL, client: client}
}

func (a *MirrorRateAdapter) ID() string { return a.id }

func (a *MirrorRateAdapter) Fetch(ctx context.Context) (*proof.AdapterRecord, error) {
	var body struct {
		CurrentRate struct {
			CentEquivalent int64 `json:"cent_equivalent"`
			HbarEquivalent int64 `json:"hbar_equivalent"`
		} `json:"current_rate"`
	}
	url := a.baseURL + "/api/v1/network/exchangerate"
	if err := httpGet(ctx, a.client, url, &body); err != nil {
		return nil, fmt.Errorf("adapters: %s: %w", a.id, err)
	}
	if body.CurrentRate.HbarEquivalent == 0 {
		return nil, fmt.Errorf("adapters: %s: zero hbar equivalent", a.id)
	}
	price := float64(body.CurrentRate.CentEquivalent) / float64(body.CurrentRate.HbarEquivalent) / 100
	return newRecord(a.id, a.entityID, "hedera", price)
}

// FixedAdapter returns a constant price. Used in dev mode and tests.
type FixedAdapter struct {
	id       string
	entityID string
	source   string
	price    float64
}

func NewFixedAdapter(id, entityID, source string, price float64) *FixedAdapter {
	return &FixedAdapter{id: id, entityID: entityID, source: source, price: price}
}

func (a *FixedAdapter) ID() string { return a.id }

func (a *FixedAdapter) Fetch(ctx context.Context) (*proof.AdapterRecord, error) {
	return newRecord(a.id, a.entityID, a.source, a.price)
}
