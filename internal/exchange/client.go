// Package exchange is the REST client for the funding venue. Public market
// data comes from the v2 endpoints, account operations from the signed v1
// endpoints. All rates cross this boundary as annualized fractions; the
// conversions from the venue's wire formats happen here and nowhere else.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	topRateDepth = 5 // bids averaged into TopRates.AvgRate

	daysPerYear = 365
)

// fundingPaymentMarker identifies interest rows in the venue ledger.
const fundingPaymentMarker = "Margin Funding Payment"

// orderRefPattern extracts the "#<id>" order reference the venue embeds in
// payment descriptions, e.g. "Margin Funding Payment on wallet Deposit for
// order #12345". Not every payment row carries one.
var orderRefPattern = regexp.MustCompile(`#(\d+)`)

// Client talks to the funding venue.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	currency  string
	symbol    string // funding symbol for v2 paths, e.g. "fUSD"
}

// NewClient constructs a Client from the exchange config.
func NewClient(cfg *config.ExchangeConfig) *Client {
	return &Client{
		http:      &http.Client{Timeout: cfg.FetchTimeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		currency:  cfg.Currency,
		symbol:    cfg.FundingSymbol(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Market data (v2, public)
// ──────────────────────────────────────────────────────────────────────────────

// GetOrderBook fetches the funding book and folds it into a MarketSnapshot.
//
//	GET /v2/book/fUSD/P0?len=100
//	[[rate, period, count, amount], ...]
//
// The wire rate is a per-day fraction; negative amounts are funding bids
// (borrow demand), positive amounts are competing lend offers.
func (c *Client) GetOrderBook(ctx context.Context) (*domain.MarketSnapshot, error) {
	url := fmt.Sprintf("%s/v2/book/%s/P0?len=100", c.baseURL, c.symbol)
	body, err := c.doGet(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("exchange.GetOrderBook: %w", err)
	}

	var raw [][4]float64
	if err = json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange.GetOrderBook: parse: %w", err)
	}

	entries := make([]domain.BookEntry, 0, len(raw))
	for _, row := range raw {
		dailyRate, period, amount := row[0], int(row[1]), row[3]
		side := domain.SideOffer
		if amount < 0 {
			side = domain.SideBid
			amount = -amount
		}
		entries = append(entries, domain.BookEntry{
			Rate:   decimal.NewFromFloat(dailyRate).Mul(decimal.NewFromInt(daysPerYear)),
			Volume: decimal.NewFromFloat(amount),
			Period: period,
			Side:   side,
		})
	}

	snap := &domain.MarketSnapshot{
		Currency:  c.currency,
		Book:      entries,
		FetchedAt: time.Now().UTC(),
	}
	snap.Top = topRates(snap.Bids())
	return snap, nil
}

// topRates derives the headline rates from the bid side: the single best bid
// and the average of the top few.
func topRates(bids []domain.BookEntry) domain.TopRates {
	if len(bids) == 0 {
		return domain.TopRates{}
	}
	best := bids[0].Rate
	sum := decimal.Zero
	n := 0
	for _, b := range bids {
		if b.Rate.GreaterThan(best) {
			best = b.Rate
		}
		if n < topRateDepth {
			sum = sum.Add(b.Rate)
			n++
		}
	}
	return domain.TopRates{
		TopRate: best,
		AvgRate: sum.Div(decimal.NewFromInt(int64(n))),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Account operations (v1, signed)
// ──────────────────────────────────────────────────────────────────────────────

// GetAvailableBalance returns the free balance of the funding wallet.
//
//	POST /v1/balances
//	[{"type":"deposit","currency":"usd","amount":"...","available":"..."}]
func (c *Client) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.doSigned(ctx, "/v1/balances", map[string]any{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange.GetAvailableBalance: %w", err)
	}

	var wallets []struct {
		Type      string `json:"type"`
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err = json.Unmarshal(body, &wallets); err != nil {
		return decimal.Zero, fmt.Errorf("exchange.GetAvailableBalance: parse: %w", err)
	}

	want := strings.ToLower(c.currency)
	for _, w := range wallets {
		if w.Type == "deposit" && w.Currency == want {
			avail, err := decimal.NewFromString(w.Available)
			if err != nil {
				return decimal.Zero, fmt.Errorf("exchange.GetAvailableBalance: decimal: %w", err)
			}
			return avail, nil
		}
	}
	return decimal.Zero, fmt.Errorf("exchange.GetAvailableBalance: no %s funding wallet in response", want)
}

// SubmitOffer places one funding offer and returns the venue order id.
//
//	POST /v1/offer/new
//	{"currency":"USD","amount":"...","rate":"...","period":2,"direction":"lend"}
//
// The v1 rate field is percent per 365 days, so the annualized fraction is
// scaled by 100 on the way out.
func (c *Client) SubmitOffer(ctx context.Context, offer domain.Offer) (int64, error) {
	payload := map[string]any{
		"currency":  strings.ToUpper(c.currency),
		"amount":    offer.Amount.StringFixed(8),
		"rate":      offer.Rate.Mul(decimal.NewFromInt(100)).StringFixed(8),
		"period":    offer.Period,
		"direction": "lend",
	}
	body, err := c.doSigned(ctx, "/v1/offer/new", payload)
	if err != nil {
		return 0, fmt.Errorf("exchange.SubmitOffer: %w", err)
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("exchange.SubmitOffer: parse: %w", err)
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("exchange.SubmitOffer: %w: venue returned no offer id", domain.ErrInvalidOrder)
	}
	return resp.ID, nil
}

// ActiveOfferIDs returns the ids of all offers currently resting on the book.
//
//	POST /v1/offers  →  [{"id":...,"currency":"USD",...}]
func (c *Client) ActiveOfferIDs(ctx context.Context) (map[int64]bool, error) {
	body, err := c.doSigned(ctx, "/v1/offers", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("exchange.ActiveOfferIDs: %w", err)
	}

	var offers []struct {
		ID int64 `json:"id"`
	}
	if err = json.Unmarshal(body, &offers); err != nil {
		return nil, fmt.Errorf("exchange.ActiveOfferIDs: parse: %w", err)
	}

	ids := make(map[int64]bool, len(offers))
	for _, o := range offers {
		ids[o.ID] = true
	}
	return ids, nil
}

// CancelAllOffers cancels every resting offer and returns how many were
// cancelled. Used at the top of each allocation cycle so stale rates never
// linger on the book.
func (c *Client) CancelAllOffers(ctx context.Context) (int, error) {
	ids, err := c.ActiveOfferIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange.CancelAllOffers: %w", err)
	}

	cancelled := 0
	for id := range ids {
		if _, err := c.doSigned(ctx, "/v1/offer/cancel", map[string]any{"offer_id": id}); err != nil {
			return cancelled, fmt.Errorf("exchange.CancelAllOffers: offer %d: %w", id, err)
		}
		cancelled++
	}
	return cancelled, nil
}

// LedgerEntries returns funding payment rows received since the given time.
//
//	POST /v1/history
//	[{"id":...,"currency":"USD","amount":"...","description":"Margin Funding Payment on wallet Deposit","timestamp":"..."}]
//
// Non-payment rows (transfers, fees) are filtered out here. When the
// description names an order ("... for order #12345") the reference is
// carried on the entry so reconciliation can confirm the fill.
func (c *Client) LedgerEntries(ctx context.Context, since time.Time) ([]domain.LedgerEntry, error) {
	payload := map[string]any{
		"currency": strings.ToUpper(c.currency),
		"since":    fmt.Sprintf("%d.0", since.Unix()),
		"limit":    500,
	}
	body, err := c.doSigned(ctx, "/v1/history", payload)
	if err != nil {
		return nil, fmt.Errorf("exchange.LedgerEntries: %w", err)
	}

	var rows []struct {
		ID          int64  `json:"id"`
		Currency    string `json:"currency"`
		Amount      string `json:"amount"`
		Description string `json:"description"`
		Timestamp   string `json:"timestamp"`
	}
	if err = json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange.LedgerEntries: parse: %w", err)
	}

	now := time.Now().UTC()
	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		if !strings.Contains(row.Description, fundingPaymentMarker) {
			continue
		}
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("exchange.LedgerEntries: decimal: %w", err)
		}
		ts, err := decimal.NewFromString(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("exchange.LedgerEntries: timestamp: %w", err)
		}
		entry := domain.LedgerEntry{
			ID:          uuid.New(),
			VenueID:     row.ID,
			Currency:    row.Currency,
			Amount:      amount,
			Description: row.Description,
			ReceivedAt:  time.Unix(ts.IntPart(), 0).UTC(),
			CreatedAt:   now,
		}
		if m := orderRefPattern.FindStringSubmatch(row.Description); m != nil {
			if id, perr := strconv.ParseInt(m[1], 10, 64); perr == nil {
				entry.VenueOrderID = &id
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Transport helpers
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMarketDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", domain.ErrMarketDataUnavailable, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// doSigned posts a v1 request with the standard payload/signature headers:
// the JSON payload (plus request path and nonce) base64-encoded, then
// HMAC-SHA384 signed with the API secret.
func (c *Client) doSigned(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	payload["request"] = path
	payload["nonce"] = fmt.Sprintf("%d", time.Now().UnixNano())

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, []byte(c.apiSecret))
	mac.Write([]byte(encoded))
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BFX-APIKEY", c.apiKey)
	req.Header.Set("X-BFX-PAYLOAD", encoded)
	req.Header.Set("X-BFX-SIGNATURE", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
