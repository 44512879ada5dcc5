package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func bookHandler(t *testing.T, asks, bids [][2]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "orderbook") {
			t.Fatalf("路径应为盘口接口, 实际 %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "POLS-USDT" {
			t.Fatalf("symbol 参数不正确: %s", r.URL.Query().Get("symbol"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "200000",
			"data": map[string]any{"asks": asks, "bids": bids},
		})
	}
}

func newTestKuCoin(baseURL string) *KuCoin {
	return NewKuCoin(KuCoinOptions{
		BaseURL: baseURL,
		Timeout: time.Second,
		Fee:     0.001,
	}, noopLogger())
}

func TestKuCoinQuoteWalksBook(t *testing.T) {
	asks := [][2]string{{"1.00", "100"}, {"1.01", "100"}}
	bids := [][2]string{{"0.99", "100"}, {"0.98", "100"}}
	srv := httptest.NewServer(bookHandler(t, asks, bids))
	defer srv.Close()

	k := newTestKuCoin(srv.URL)
	quote, err := k.Quote(context.Background(), dec("150"))
	if err != nil {
		t.Fatalf("Quote 不应报错: %v", err)
	}

	if !quote.Spot.Equal(dec("1.00")) {
		t.Fatalf("现货价应为最优卖价 1.00, 实际 %s", quote.Spot)
	}
	// 100*1.00 + 50*1.01
	if !quote.BuyCost.Equal(dec("150.5")) {
		t.Fatalf("买入成本应为 150.5, 实际 %s", quote.BuyCost)
	}
	// 100*0.99 + 50*0.98
	if !quote.SellRevenue.Equal(dec("148")) {
		t.Fatalf("卖出收入应为 148, 实际 %s", quote.SellRevenue)
	}
	if quote.BuyPrice.LessThanOrEqual(quote.SellPrice) {
		t.Fatal("深度加权买价应高于卖价")
	}
}

func TestKuCoinQuoteInsufficientLiquidity(t *testing.T) {
	asks := [][2]string{{"1.00", "100"}}
	bids := [][2]string{{"0.99", "100"}}
	srv := httptest.NewServer(bookHandler(t, asks, bids))
	defer srv.Close()

	k := newTestKuCoin(srv.URL)
	_, err := k.Quote(context.Background(), dec("300"))

	var liqErr *InsufficientLiquidityError
	if !errors.As(err, &liqErr) {
		t.Fatalf("深度不足应返回 InsufficientLiquidityError, 实际 %v", err)
	}
	if liqErr.Side != "ask" || !liqErr.Available.Equal(dec("100")) {
		t.Fatalf("错误明细不正确: %+v", liqErr)
	}
}

func TestKuCoinQuoteEmptyBook(t *testing.T) {
	srv := httptest.NewServer(bookHandler(t, nil, nil))
	defer srv.Close()

	k := newTestKuCoin(srv.URL)
	if _, err := k.Quote(context.Background(), dec("10")); err == nil {
		t.Fatal("空盘口应返回错误")
	}
}

func TestKuCoinAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "400100", "msg": "Invalid symbol"})
	}))
	defer srv.Close()

	k := newTestKuCoin(srv.URL)
	_, err := k.Quote(context.Background(), dec("10"))
	if err == nil || !strings.Contains(err.Error(), "400100") {
		t.Fatalf("业务错误码应透传, 实际 %v", err)
	}
}

func TestKuCoinBalanceRequiresCredentials(t *testing.T) {
	k := newTestKuCoin("http://localhost:0")
	if _, err := k.Balance(context.Background(), PriceQuote{}); err == nil {
		t.Fatal("未配置密钥时应拒绝访问私有接口")
	}
}

func TestKuCoinBalanceSignsAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("KC-API-KEY") != "key" {
			t.Fatalf("KC-API-KEY 不正确: %s", r.Header.Get("KC-API-KEY"))
		}
		if r.Header.Get("KC-API-KEY-VERSION") != "2" {
			t.Fatal("应使用 v2 签名")
		}
		if r.Header.Get("KC-API-SIGN") == "" || r.Header.Get("KC-API-PASSPHRASE") == "" {
			t.Fatal("签名头不应为空")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "200000",
			"data": []map[string]string{
				{"currency": "POLS", "available": "120.5", "holds": "10"},
				{"currency": "USDT", "available": "900", "holds": "0"},
			},
		})
	}))
	defer srv.Close()

	k := NewKuCoin(KuCoinOptions{
		BaseURL:       srv.URL,
		APIKey:        "key",
		APISecret:     "secret",
		APIPassphrase: "pass",
		Timeout:       time.Second,
	}, noopLogger())

	snap, err := k.Balance(context.Background(), PriceQuote{Spot: dec("2")})
	if err != nil {
		t.Fatalf("Balance 不应报错: %v", err)
	}
	if !snap.BaseFree.Equal(dec("120.5")) || !snap.BaseLocked.Equal(dec("10")) {
		t.Fatalf("基础币余额解析不正确: %+v", snap)
	}
	if !snap.QuoteFree.Equal(dec("900")) {
		t.Fatalf("计价币余额解析不正确: %+v", snap)
	}
	// 120.5 * 2
	if !snap.BaseValueQuote.Equal(dec("241")) {
		t.Fatalf("估值应使用调用方报价: %s", snap.BaseValueQuote)
	}
}

func TestKuCoinMarketBuyInsufficientBalance(t *testing.T) {
	asks := [][2]string{{"1.00", "1000"}}
	bids := [][2]string{{"0.99", "1000"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "orderbook"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": "200000",
				"data": map[string]any{"asks": asks, "bids": bids},
			})
		case strings.Contains(r.URL.Path, "accounts"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": "200000",
				"data": []map[string]string{
					{"currency": "USDT", "available": "50", "holds": "0"},
				},
			})
		default:
			t.Fatalf("不应有下单请求: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	k := NewKuCoin(KuCoinOptions{
		BaseURL:       srv.URL,
		APIKey:        "key",
		APISecret:     "secret",
		APIPassphrase: "pass",
		Fee:           0.001,
		Timeout:       time.Second,
	}, noopLogger())

	_, err := k.CreateMarketOrder(context.Background(), "buy", dec("100"))
	var balErr *InsufficientBalanceError
	if !errors.As(err, &balErr) {
		t.Fatalf("余额不足应返回 InsufficientBalanceError, 实际 %v", err)
	}
	if balErr.Asset != "USDT" || !balErr.Have.Equal(dec("50")) {
		t.Fatalf("错误明细不正确: %+v", balErr)
	}
	// 100 * 1.00 * 1.001
	if !balErr.Need.Equal(dec("100.1")) {
		t.Fatalf("所需金额应含手续费 100.1, 实际 %s", balErr.Need)
	}
}

func TestKuCoinCreateLimitOrder(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("限价单应为 POST, 实际 %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "200000",
			"data": map[string]string{"orderId": "oid-1"},
		})
	}))
	defer srv.Close()

	k := NewKuCoin(KuCoinOptions{
		BaseURL:       srv.URL,
		APIKey:        "key",
		APISecret:     "secret",
		APIPassphrase: "pass",
		Timeout:       time.Second,
	}, noopLogger())

	orderID, err := k.CreateLimitOrder(context.Background(), "sell", dec("10"), dec("1.24839"))
	if err != nil {
		t.Fatalf("CreateLimitOrder 不应报错: %v", err)
	}
	if orderID != "oid-1" {
		t.Fatalf("应返回订单号, 实际 %s", orderID)
	}
	if received["type"] != "limit" || received["side"] != "sell" {
		t.Fatalf("订单参数不正确: %#v", received)
	}
	// 价格固定到四位小数
	if received["price"] != "1.2484" {
		t.Fatalf("价格应格式化为 1.2484, 实际 %s", received["price"])
	}
	if received["clientOid"] == "" {
		t.Fatal("clientOid 不应为空")
	}
}

func TestKuCoinRejectsInvalidSide(t *testing.T) {
	k := newTestKuCoin("http://localhost:0")
	if _, err := k.CreateMarketOrder(context.Background(), "hold", dec("1")); err == nil {
		t.Fatal("非法方向应被拒绝")
	}
}
