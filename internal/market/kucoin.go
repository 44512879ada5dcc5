package market

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	kucoinLevel2Path   = "/api/v1/market/orderbook/level2_100"
	kucoinLevel1Path   = "/api/v1/market/orderbook/level1"
	kucoinAccountsPath = "/api/v1/accounts"
	kucoinOrdersPath   = "/api/v1/orders"

	kucoinOKCode = "200000"
)

// KuCoinOptions parameterise the order-book venue adapter.
type KuCoinOptions struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	APIPassphrase string
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	Fee           float64
	Timeout       time.Duration
}

// KuCoin talks to the KuCoin spot REST API.
type KuCoin struct {
	opts    KuCoinOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewKuCoin constructs the order-book venue adapter.
func NewKuCoin(opts KuCoinOptions, logger zerolog.Logger) *KuCoin {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kucoin.com"
	}
	if opts.Symbol == "" {
		opts.Symbol = "POLS-USDT"
	}
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "POLS"
	}
	if opts.QuoteCurrency == "" {
		opts.QuoteCurrency = "USDT"
	}

	return &KuCoin{
		opts:    opts,
		logger:  logger.With().Str("component", "kucoin").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the venue.
func (k *KuCoin) Name() string { return "KuCoin" }

type kucoinEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do issues a request and decodes the KuCoin envelope into out. Private
// endpoints are signed per KC-API v2 (HMAC-SHA256 over ts+method+path+body).
func (k *KuCoin) do(ctx context.Context, method, path string, body interface{}, out interface{}, signed bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if k.opts.APIKey == "" || k.opts.APISecret == "" || k.opts.APIPassphrase == "" {
			return errors.New("kucoin api credentials not configured")
		}
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("KC-API-KEY", k.opts.APIKey)
		req.Header.Set("KC-API-SIGN", kucoinSign(k.opts.APISecret, ts+method+path+string(payload)))
		req.Header.Set("KC-API-TIMESTAMP", ts)
		req.Header.Set("KC-API-PASSPHRASE", kucoinSign(k.opts.APISecret, k.opts.APIPassphrase))
		req.Header.Set("KC-API-KEY-VERSION", "2")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("kucoin request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read kucoin response: %w", err)
	}

	var env kucoinEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("kucoin api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if env.Code != kucoinOKCode {
		if env.Msg != "" {
			return fmt.Errorf("kucoin api error (%s): %s", env.Code, env.Msg)
		}
		return fmt.Errorf("kucoin api error (%s)", env.Code)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode kucoin data: %w", err)
		}
	}
	return nil
}

func kucoinSign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type kucoinBookResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// GetOrderBook fetches the visible level-2 ladder for the configured symbol.
func (k *KuCoin) GetOrderBook(ctx context.Context) (OrderBook, error) {
	var res kucoinBookResponse
	path := kucoinLevel2Path + "?symbol=" + k.opts.Symbol
	if err := k.do(ctx, http.MethodGet, path, nil, &res, false); err != nil {
		return OrderBook{}, err
	}

	book := OrderBook{
		Bids: make([]BookLevel, 0, len(res.Bids)),
		Asks: make([]BookLevel, 0, len(res.Asks)),
	}
	for _, level := range res.Bids {
		parsed, err := parseBookLevel(level)
		if err != nil {
			return OrderBook{}, err
		}
		book.Bids = append(book.Bids, parsed)
	}
	for _, level := range res.Asks {
		parsed, err := parseBookLevel(level)
		if err != nil {
			return OrderBook{}, err
		}
		book.Asks = append(book.Asks, parsed)
	}
	return book, nil
}

func parseBookLevel(raw [2]string) (BookLevel, error) {
	price, err := decimal.NewFromString(raw[0])
	if err != nil {
		return BookLevel{}, fmt.Errorf("parse book price: %w", err)
	}
	qty, err := decimal.NewFromString(raw[1])
	if err != nil {
		return BookLevel{}, fmt.Errorf("parse book quantity: %w", err)
	}
	return BookLevel{Price: price, Quantity: qty}, nil
}

// GetTicker returns the last traded price for the configured symbol.
func (k *KuCoin) GetTicker(ctx context.Context) (decimal.Decimal, error) {
	var res struct {
		Price string `json:"price"`
	}
	path := kucoinLevel1Path + "?symbol=" + k.opts.Symbol
	if err := k.do(ctx, http.MethodGet, path, nil, &res, false); err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ticker price: %w", err)
	}
	return price, nil
}

// Quote walks the book and returns the volume-weighted fill prices for size.
// The ask side prices a full buy, the bid side a full sell; either side too
// shallow yields an InsufficientLiquidityError rather than a partial average.
func (k *KuCoin) Quote(ctx context.Context, size decimal.Decimal) (PriceQuote, error) {
	if size.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("quote size must be positive, got %s", size.String())
	}

	book, err := k.GetOrderBook(ctx)
	if err != nil {
		return PriceQuote{}, err
	}
	if len(book.Asks) == 0 || len(book.Bids) == 0 {
		return PriceQuote{}, errors.New("kucoin returned an empty order book")
	}

	buyCost, filled := fillLadder(book.Asks, size)
	if filled.LessThan(size) {
		return PriceQuote{}, &InsufficientLiquidityError{Venue: k.Name(), Side: "ask", Requested: size, Available: filled}
	}
	sellRevenue, filled := fillLadder(book.Bids, size)
	if filled.LessThan(size) {
		return PriceQuote{}, &InsufficientLiquidityError{Venue: k.Name(), Side: "bid", Requested: size, Available: filled}
	}

	return PriceQuote{
		Spot:        book.Asks[0].Price,
		BuyPrice:    buyCost.Div(size),
		SellPrice:   sellRevenue.Div(size),
		BuyCost:     buyCost,
		SellRevenue: sellRevenue,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

type kucoinAccount struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

// Balance reports trade-account holdings. Valuation deliberately uses the
// spot price of the caller's quote so it cannot drift from the prices the
// caller is already acting on.
func (k *KuCoin) Balance(ctx context.Context, quote PriceQuote) (BalanceSnapshot, error) {
	var accounts []kucoinAccount
	if err := k.do(ctx, http.MethodGet, kucoinAccountsPath+"?type=trade", nil, &accounts, true); err != nil {
		return BalanceSnapshot{}, err
	}

	var snap BalanceSnapshot
	for _, acc := range accounts {
		free, locked, err := parseAccount(acc)
		if err != nil {
			return BalanceSnapshot{}, err
		}
		switch acc.Currency {
		case k.opts.BaseCurrency:
			snap.BaseFree, snap.BaseLocked = free, locked
		case k.opts.QuoteCurrency:
			snap.QuoteFree, snap.QuoteLocked = free, locked
		}
	}

	snap.BaseValueQuote = snap.BaseFree.Mul(quote.Spot)
	return snap, nil
}

func parseAccount(acc kucoinAccount) (free, locked decimal.Decimal, err error) {
	free, err = decimal.NewFromString(acc.Available)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse %s available: %w", acc.Currency, err)
	}
	locked, err = decimal.NewFromString(acc.Holds)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse %s holds: %w", acc.Currency, err)
	}
	return free, locked, nil
}

type kucoinOrderResponse struct {
	OrderID string `json:"orderId"`
}

// CreateMarketOrder places a market order for size base units. Buys are
// checked against free quote balance at the depth-aware buy price plus fee
// before dispatch; an InsufficientBalanceError carries the exact figures.
func (k *KuCoin) CreateMarketOrder(ctx context.Context, side string, size decimal.Decimal) (string, error) {
	if side != "buy" && side != "sell" {
		return "", fmt.Errorf("invalid order side %q", side)
	}

	quote, err := k.Quote(ctx, size)
	if err != nil {
		return "", err
	}
	balance, err := k.Balance(ctx, quote)
	if err != nil {
		return "", err
	}

	if side == "buy" {
		// Full fill cost plus the taker fee.
		need := quote.BuyCost.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(k.opts.Fee)))
		if balance.QuoteFree.LessThan(need) {
			return "", &InsufficientBalanceError{Asset: k.opts.QuoteCurrency, Have: balance.QuoteFree, Need: need}
		}
	} else if balance.BaseFree.LessThan(size) {
		return "", &InsufficientBalanceError{Asset: k.opts.BaseCurrency, Have: balance.BaseFree, Need: size}
	}

	body := map[string]string{
		"clientOid": strconv.FormatInt(time.Now().UnixNano(), 10),
		"symbol":    k.opts.Symbol,
		"side":      side,
		"type":      "market",
		"size":      size.String(),
	}

	var res kucoinOrderResponse
	if err := k.do(ctx, http.MethodPost, kucoinOrdersPath, body, &res, true); err != nil {
		return "", err
	}

	k.logger.Info().Str("side", side).Str("size", size.String()).Str("order_id", res.OrderID).Msg("market order placed")
	return res.OrderID, nil
}

// CreateLimitOrder places a limit order. Prices are formatted to four
// decimals, the tick granularity of the monitored pair.
func (k *KuCoin) CreateLimitOrder(ctx context.Context, side string, size, price decimal.Decimal) (string, error) {
	if side != "buy" && side != "sell" {
		return "", fmt.Errorf("invalid order side %q", side)
	}

	body := map[string]string{
		"clientOid": strconv.FormatInt(time.Now().UnixNano(), 10),
		"symbol":    k.opts.Symbol,
		"side":      side,
		"type":      "limit",
		"size":      size.String(),
		"price":     price.StringFixed(4),
	}

	var res kucoinOrderResponse
	if err := k.do(ctx, http.MethodPost, kucoinOrdersPath, body, &res, true); err != nil {
		return "", err
	}

	k.logger.Info().Str("side", side).Str("size", size.String()).
		Str("price", price.StringFixed(4)).Str("order_id", res.OrderID).Msg("limit order placed")
	return res.OrderID, nil
}

// CancelOrder cancels an open order by ID.
func (k *KuCoin) CancelOrder(ctx context.Context, orderID string) error {
	if err := k.do(ctx, http.MethodDelete, kucoinOrdersPath+"/"+orderID, nil, nil, true); err != nil {
		return err
	}
	k.logger.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// OrderDetails describes the state of a placed order.
type OrderDetails struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Size     string `json:"size"`
	Price    string `json:"price"`
	IsActive bool   `json:"isActive"`
}

// GetOrder fetches the details of an order by ID.
func (k *KuCoin) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	var details OrderDetails
	if err := k.do(ctx, http.MethodGet, kucoinOrdersPath+"/"+orderID, nil, &details, true); err != nil {
		return OrderDetails{}, err
	}
	return details, nil
}

var _ Trader = (*KuCoin)(nil)
