package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polswatch/internal/config"
	"polswatch/internal/market"
	"polswatch/internal/service"
	"polswatch/internal/settings"
)

type fakeTrading struct {
	report    string
	breakdown string
	orderID   string
	orderErr  error

	placedVenue string
	placedSide  string
	placedSize  decimal.Decimal
	cancelled   string
}

func (f *fakeTrading) Report(ctx context.Context) (string, error) {
	return f.report, nil
}

func (f *fakeTrading) Breakdown(ctx context.Context) (string, error) {
	return f.breakdown, nil
}

func (f *fakeTrading) PlaceMarketOrder(ctx context.Context, venue, side string, size decimal.Decimal) (string, error) {
	f.placedVenue = venue
	f.placedSide = side
	f.placedSize = size
	if f.orderErr != nil {
		return "", f.orderErr
	}
	return f.orderID, nil
}

func (f *fakeTrading) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelled = orderID
	return f.orderErr
}

func (f *fakeTrading) OrderStatus(ctx context.Context, orderID string) (market.OrderDetails, error) {
	if f.orderErr != nil {
		return market.OrderDetails{}, f.orderErr
	}
	return market.OrderDetails{ID: orderID, Side: "sell", Size: "10", Symbol: "POLS-USDT", Price: "1.2484", IsActive: true}, nil
}

func newTestBot(trading *fakeTrading) *Bot {
	shared := settings.New(decimal.NewFromInt(1000), decimal.NewFromFloat(0.5))
	cfg := config.TelegramConfig{BotToken: "token", ChatID: "42"}
	return New(cfg, shared, trading, []string{"KuCoin", "PancakeSwap"}, zerolog.Nop())
}

func TestHandleCommandStart(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	reply := b.handleCommand(context.Background(), 42, "/start")
	if !strings.Contains(reply, "/set_quantity") {
		t.Fatalf("帮助应列出命令: %s", reply)
	}
}

func TestHandleCommandConfig(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	reply := b.handleCommand(context.Background(), 42, "/config")
	if !strings.Contains(reply, "1000") || !strings.Contains(reply, "0.5") {
		t.Fatalf("配置应显示当前参数: %s", reply)
	}
}

func TestHandleCommandSetQuantity(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	reply := b.handleCommand(context.Background(), 42, "/set_quantity 500")
	if !strings.Contains(reply, "500") {
		t.Fatalf("应确认新数量: %s", reply)
	}
	size, _ := b.settings.View()
	if !size.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("设置未生效: %s", size)
	}
}

func TestHandleCommandSetQuantityRejectsGarbage(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	if reply := b.handleCommand(context.Background(), 42, "/set_quantity abc"); !strings.Contains(reply, "无法解析") {
		t.Fatalf("非法数量应被拒绝: %s", reply)
	}
	if reply := b.handleCommand(context.Background(), 42, "/set_quantity"); !strings.Contains(reply, "用法") {
		t.Fatalf("缺少参数应提示用法: %s", reply)
	}
	size, _ := b.settings.View()
	if !size.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("非法输入不应改变设置: %s", size)
	}
}

func TestHandleCommandSetThreshold(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	b.handleCommand(context.Background(), 42, "/set_threshold 1.2")
	_, threshold := b.settings.View()
	if !threshold.Equal(decimal.NewFromFloat(1.2)) {
		t.Fatalf("阈值未更新: %s", threshold)
	}
}

func TestHandleCommandUnknown(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	if reply := b.handleCommand(context.Background(), 42, "/frobnicate"); !strings.Contains(reply, "未知命令") {
		t.Fatalf("未知命令应有提示: %s", reply)
	}
}

func TestHandleCommandStripsBotSuffix(t *testing.T) {
	b := newTestBot(&fakeTrading{report: "report-body"})
	if reply := b.handleCommand(context.Background(), 42, "/report@polswatch_bot"); reply != "report-body" {
		t.Fatalf("@bot 后缀应被忽略: %s", reply)
	}
}

func TestTradeFlowCompletes(t *testing.T) {
	trading := &fakeTrading{orderID: "oid-9"}
	b := newTestBot(trading)
	ctx := context.Background()

	reply := b.handleCommand(ctx, 42, "/buy")
	if !strings.Contains(reply, "数量") {
		t.Fatalf("应先询问数量: %s", reply)
	}

	reply = b.handleFlowInput(ctx, 42, "50")
	if !strings.Contains(reply, "KuCoin") {
		t.Fatalf("应询问市场: %s", reply)
	}

	// 用户输入小写，下游应收到注册时的市场名。
	reply = b.handleFlowInput(ctx, 42, "kucoin")
	if !strings.Contains(reply, "oid-9") {
		t.Fatalf("下单完成应回显订单号: %s", reply)
	}
	if trading.placedVenue != "KuCoin" || trading.placedSide != "buy" {
		t.Fatalf("下单参数不正确: %s %s", trading.placedVenue, trading.placedSide)
	}
	if !trading.placedSize.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("下单数量不正确: %s", trading.placedSize)
	}

	// 流程结束后普通文本不再触发下单
	if reply := b.handleFlowInput(ctx, 42, "kucoin"); reply != "" {
		t.Fatalf("流程结束后不应有回复: %s", reply)
	}
}

func TestTradeFlowRejectsBadInput(t *testing.T) {
	b := newTestBot(&fakeTrading{orderID: "oid"})
	ctx := context.Background()

	b.handleCommand(ctx, 42, "/sell")
	if reply := b.handleFlowInput(ctx, 42, "-3"); !strings.Contains(reply, "无法解析") {
		t.Fatalf("非法数量应要求重输: %s", reply)
	}
	b.handleFlowInput(ctx, 42, "10")
	if reply := b.handleFlowInput(ctx, 42, "binance"); !strings.Contains(reply, "未知市场") {
		t.Fatalf("未知市场应要求重选: %s", reply)
	}
	// 仍可选择合法市场
	if reply := b.handleFlowInput(ctx, 42, "pancakeswap"); !strings.Contains(reply, "oid") {
		t.Fatalf("重选合法市场应完成下单: %s", reply)
	}
}

func TestHandleCommandCancelOrder(t *testing.T) {
	trading := &fakeTrading{}
	b := newTestBot(trading)
	reply := b.handleCommand(context.Background(), 42, "/cancel oid-3")
	if !strings.Contains(reply, "oid-3") || !strings.Contains(reply, "已撤销") {
		t.Fatalf("撤单确认不正确: %s", reply)
	}
	if trading.cancelled != "oid-3" {
		t.Fatalf("应撤销指定订单: %s", trading.cancelled)
	}
	if reply := b.handleCommand(context.Background(), 42, "/cancel"); !strings.Contains(reply, "用法") {
		t.Fatalf("缺少参数应提示用法: %s", reply)
	}
}

func TestHandleCommandOrderStatus(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	reply := b.handleCommand(context.Background(), 42, "/order oid-5")
	if !strings.Contains(reply, "oid-5") || !strings.Contains(reply, "挂单中") {
		t.Fatalf("订单状态回复不正确: %s", reply)
	}
}

func TestTradeCommandAsksForSide(t *testing.T) {
	trading := &fakeTrading{orderID: "oid-7"}
	b := newTestBot(trading)
	ctx := context.Background()

	reply := b.handleCommand(ctx, 42, "/trade")
	if !strings.Contains(reply, "buy / sell") {
		t.Fatalf("/trade 应先询问方向: %s", reply)
	}
	if reply := b.handleFlowInput(ctx, 42, "hold"); !strings.Contains(reply, "无法识别方向") {
		t.Fatalf("非法方向应要求重输: %s", reply)
	}
	b.handleFlowInput(ctx, 42, "SELL")
	b.handleFlowInput(ctx, 42, "25")
	reply = b.handleFlowInput(ctx, 42, "kucoin")
	if !strings.Contains(reply, "oid-7") {
		t.Fatalf("/trade 流程应完成下单: %s", reply)
	}
	if trading.placedSide != "sell" || !trading.placedSize.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("下单参数不正确: %s %s", trading.placedSide, trading.placedSize)
	}
}

func TestCommandAbandonsFlow(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	ctx := context.Background()

	b.handleCommand(ctx, 42, "/buy")
	b.handleCommand(ctx, 42, "/config")
	if reply := b.handleFlowInput(ctx, 42, "50"); reply != "" {
		t.Fatalf("其它命令应中止下单流程: %s", reply)
	}
}

func TestAllowedChat(t *testing.T) {
	b := newTestBot(&fakeTrading{})
	if !b.allowedChat(42) {
		t.Fatal("配置的 chat 应被允许")
	}
	if b.allowedChat(7) {
		t.Fatal("其它 chat 应被拒绝")
	}
}

// venueStub 以真实适配器的注册名实现 market.Trader。
type venueStub struct {
	name    string
	orderID string

	side string
	size decimal.Decimal
}

func (v *venueStub) Name() string { return v.name }

func (v *venueStub) Quote(ctx context.Context, size decimal.Decimal) (market.PriceQuote, error) {
	return market.PriceQuote{}, nil
}

func (v *venueStub) Balance(ctx context.Context, quote market.PriceQuote) (market.BalanceSnapshot, error) {
	return market.BalanceSnapshot{}, nil
}

func (v *venueStub) CreateMarketOrder(ctx context.Context, side string, size decimal.Decimal) (string, error) {
	v.side = side
	v.size = size
	return v.orderID, nil
}

func (v *venueStub) CreateLimitOrder(ctx context.Context, side string, size, price decimal.Decimal) (string, error) {
	return "", errors.New("limit orders not supported")
}

// 市场列表取自 Name()，与 app.Run 的接线方式一致；用户用小写回复也必须
// 路由到正确的市场。
func TestTradeFlowRoutesThroughService(t *testing.T) {
	kucoin := &venueStub{name: "KuCoin", orderID: "kc-1"}
	pancake := &venueStub{name: "PancakeSwap", orderID: "ps-1"}
	shared := settings.New(decimal.NewFromInt(1000), decimal.NewFromFloat(0.5))
	svc := service.New(&config.Config{}, nil, kucoin, pancake, shared, nil, nil, nil, nil, zerolog.Nop())

	cfg := config.TelegramConfig{BotToken: "token", ChatID: "42"}
	b := New(cfg, shared, svc, []string{kucoin.Name(), pancake.Name()}, zerolog.Nop())
	ctx := context.Background()

	b.handleCommand(ctx, 42, "/buy")
	b.handleFlowInput(ctx, 42, "50")
	reply := b.handleFlowInput(ctx, 42, "kucoin")
	if strings.Contains(reply, "下单失败") || !strings.Contains(reply, "kc-1") {
		t.Fatalf("小写市场名应完成下单: %s", reply)
	}
	if kucoin.side != "buy" || !kucoin.size.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("下单参数不正确: %s %s", kucoin.side, kucoin.size)
	}

	b.handleCommand(ctx, 42, "/sell")
	b.handleFlowInput(ctx, 42, "20")
	reply = b.handleFlowInput(ctx, 42, "PANCAKESWAP")
	if strings.Contains(reply, "下单失败") || !strings.Contains(reply, "ps-1") {
		t.Fatalf("任意大小写都应路由到 AMM 市场: %s", reply)
	}
	if pancake.side != "sell" || !pancake.size.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("下单参数不正确: %s %s", pancake.side, pancake.size)
	}
}
