package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polswatch/internal/config"
	"polswatch/internal/market"
	"polswatch/internal/settings"
)

// Trading is the slice of the service the command loop needs.
type Trading interface {
	Report(ctx context.Context) (string, error)
	Breakdown(ctx context.Context) (string, error)
	PlaceMarketOrder(ctx context.Context, venue, side string, size decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (market.OrderDetails, error)
}

// Bot polls the Telegram getUpdates endpoint and dispatches commands.
// Only messages from the configured chat are honored.
type Bot struct {
	cfg      config.TelegramConfig
	settings *settings.Settings
	trading  Trading
	venues   []string
	client   *http.Client
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[int64]*tradeFlow
	offset  int64
}

// tradeFlow 记录一次交互式下单的中间状态。
type tradeFlow struct {
	side string
	size decimal.Decimal
}

func New(cfg config.TelegramConfig, shared *settings.Settings, trading Trading, venues []string, logger zerolog.Logger) *Bot {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bot{
		cfg:      cfg,
		settings: shared,
		trading:  trading,
		venues:   venues,
		client:   &http.Client{Timeout: timeout + 10*time.Second},
		logger:   logger.With().Str("component", "bot").Logger(),
		pending:  make(map[int64]*tradeFlow),
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	Ok          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// Run polls for updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Msg("telegram command loop started")
	for {
		updates, err := b.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error().Err(err).Msg("failed to fetch telegram updates")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) fetchUpdates(ctx context.Context) ([]update, error) {
	timeout := b.cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	if b.offset > 0 {
		params.Set("offset", strconv.FormatInt(b.offset, 10))
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", b.apiBase(), b.cfg.BotToken, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !parsed.Ok {
		return nil, fmt.Errorf("telegram 返回 ok=false: %s", parsed.Description)
	}
	return parsed.Result, nil
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	if u.Message == nil {
		return
	}
	chatID := u.Message.Chat.ID
	if !b.allowedChat(chatID) {
		b.logger.Warn().Int64("chat_id", chatID).Msg("ignoring message from unexpected chat")
		return
	}

	text := strings.TrimSpace(u.Message.Text)
	if text == "" {
		return
	}

	var reply string
	if strings.HasPrefix(text, "/") {
		reply = b.handleCommand(ctx, chatID, text)
	} else {
		reply = b.handleFlowInput(ctx, chatID, text)
	}
	if reply == "" {
		return
	}
	if err := b.send(ctx, chatID, reply); err != nil {
		b.logger.Error().Err(err).Msg("failed to send telegram reply")
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) string {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	// Any explicit command abandons an in-flight trade dialogue.
	if command != "/buy" && command != "/sell" && command != "/trade" {
		b.clearFlow(chatID)
	}

	switch command {
	case "/start":
		return b.renderStart()
	case "/config":
		return b.renderConfig()
	case "/set_quantity":
		return b.setQuantity(args)
	case "/set_threshold":
		return b.setThreshold(args)
	case "/report":
		report, err := b.trading.Report(ctx)
		if err != nil {
			return fmt.Sprintf("⚠️ 获取报告失败: %v", err)
		}
		return report
	case "/arbitrage":
		breakdown, err := b.trading.Breakdown(ctx)
		if err != nil {
			return fmt.Sprintf("⚠️ 获取套利明细失败: %v", err)
		}
		return breakdown
	case "/cancel":
		return b.cancelOrder(ctx, args)
	case "/order":
		return b.orderStatus(ctx, args)
	case "/buy":
		return b.startFlow(chatID, "buy")
	case "/sell":
		return b.startFlow(chatID, "sell")
	case "/trade":
		return b.startFlow(chatID, "")
	default:
		return fmt.Sprintf("未知命令 %s，发送 /start 查看帮助。", command)
	}
}

func (b *Bot) renderStart() string {
	return strings.Join([]string{
		"🤖 <b>polswatch</b>",
		"",
		"/config - 查看当前参数",
		"/set_quantity &lt;数量&gt; - 设置交易数量",
		"/set_threshold &lt;百分比&gt; - 设置告警阈值",
		"/report - 查看价格与余额报告",
		"/arbitrage - 查看双向套利明细",
		"/trade, /buy, /sell - 交互式下单",
		"/order &lt;订单号&gt; - 查询订单状态",
		"/cancel &lt;订单号&gt; - 撤销挂单",
	}, "\n")
}

func (b *Bot) renderConfig() string {
	tradeSize, threshold := b.settings.View()
	return fmt.Sprintf("⚙️ 当前参数\n交易数量: <b>%s</b>\n告警阈值: <b>%s%%</b>",
		tradeSize.String(), threshold.String())
}

func (b *Bot) setQuantity(args []string) string {
	if len(args) != 1 {
		return "用法: /set_quantity <数量>"
	}
	size, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Sprintf("无法解析数量 %q", args[0])
	}
	if err := b.settings.SetTradeSize(size); err != nil {
		return fmt.Sprintf("⚠️ %v", err)
	}
	return fmt.Sprintf("✅ 交易数量已更新为 <b>%s</b>", size.String())
}

func (b *Bot) setThreshold(args []string) string {
	if len(args) != 1 {
		return "用法: /set_threshold <百分比>"
	}
	pct, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Sprintf("无法解析阈值 %q", args[0])
	}
	if err := b.settings.SetThresholdPct(pct); err != nil {
		return fmt.Sprintf("⚠️ %v", err)
	}
	return fmt.Sprintf("✅ 告警阈值已更新为 <b>%s%%</b>", pct.String())
}

func (b *Bot) cancelOrder(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "用法: /cancel <订单号>"
	}
	if err := b.trading.CancelOrder(ctx, args[0]); err != nil {
		return fmt.Sprintf("⚠️ 撤单失败: %v", err)
	}
	return fmt.Sprintf("✅ 订单 <code>%s</code> 已撤销", args[0])
}

func (b *Bot) orderStatus(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "用法: /order <订单号>"
	}
	details, err := b.trading.OrderStatus(ctx, args[0])
	if err != nil {
		return fmt.Sprintf("⚠️ 查询订单失败: %v", err)
	}
	state := "已完结"
	if details.IsActive {
		state = "挂单中"
	}
	return fmt.Sprintf("📋 订单 <code>%s</code>\n%s %s %s @ %s (%s)",
		details.ID, details.Side, details.Size, details.Symbol, details.Price, state)
}

func (b *Bot) startFlow(chatID int64, side string) string {
	b.mu.Lock()
	b.pending[chatID] = &tradeFlow{side: side}
	b.mu.Unlock()
	if side == "" {
		return "买入还是卖出？(buy / sell)"
	}
	return fmt.Sprintf("请输入%s数量：", sideLabel(side))
}

// handleFlowInput consumes free-form text driving an in-flight trade
// dialogue: side (when started via /trade), then size, then venue.
func (b *Bot) handleFlowInput(ctx context.Context, chatID int64, text string) string {
	b.mu.Lock()
	flow := b.pending[chatID]
	b.mu.Unlock()
	if flow == nil {
		return ""
	}

	if flow.side == "" {
		side := strings.ToLower(text)
		if side != "buy" && side != "sell" {
			return fmt.Sprintf("无法识别方向 %q，请输入 buy 或 sell：", text)
		}
		b.mu.Lock()
		flow.side = side
		b.mu.Unlock()
		return fmt.Sprintf("请输入%s数量：", sideLabel(side))
	}

	if flow.size.IsZero() {
		size, err := decimal.NewFromString(text)
		if err != nil || size.Sign() <= 0 {
			return fmt.Sprintf("无法解析数量 %q，请重新输入：", text)
		}
		b.mu.Lock()
		flow.size = size
		b.mu.Unlock()
		return fmt.Sprintf("在哪个市场%s？(%s)", sideLabel(flow.side), strings.Join(b.venues, " / "))
	}

	venue, ok := b.canonicalVenue(text)
	if !ok {
		return fmt.Sprintf("未知市场 %q，可选: %s", text, strings.Join(b.venues, " / "))
	}
	b.clearFlow(chatID)

	orderID, err := b.trading.PlaceMarketOrder(ctx, venue, flow.side, flow.size)
	if err != nil {
		return fmt.Sprintf("⚠️ 下单失败: %v", err)
	}
	return fmt.Sprintf("✅ 已在 <b>%s</b> %s <b>%s</b>，订单号 <code>%s</code>",
		venue, sideLabel(flow.side), flow.size.String(), orderID)
}

func (b *Bot) clearFlow(chatID int64) {
	b.mu.Lock()
	delete(b.pending, chatID)
	b.mu.Unlock()
}

// canonicalVenue maps user text onto a registered venue name so downstream
// routing sees the name the venue registered, not the user's casing.
func (b *Bot) canonicalVenue(name string) (string, bool) {
	for _, v := range b.venues {
		if strings.EqualFold(v, name) {
			return v, true
		}
	}
	return "", false
}

func (b *Bot) allowedChat(chatID int64) bool {
	if b.cfg.ChatID == "" {
		return true
	}
	return strconv.FormatInt(chatID, 10) == b.cfg.ChatID
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.apiBase(), b.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}
	return nil
}

func (b *Bot) apiBase() string {
	if b.cfg.APIBase != "" {
		return strings.TrimRight(b.cfg.APIBase, "/")
	}
	return "https://api.telegram.org"
}

func sideLabel(side string) string {
	if side == "buy" {
		return "买入"
	}
	return "卖出"
}
