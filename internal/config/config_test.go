package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("指定不存在的配置文件应报错")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("无配置文件时应回退默认值: %v", err)
	}

	if cfg.Scheduler.Interval != 60*time.Second {
		t.Fatalf("默认轮询间隔应为 60s, 实际 %s", cfg.Scheduler.Interval)
	}
	if cfg.KuCoin.Fee != 0.001 || cfg.Pancake.Fee != 0.0025 {
		t.Fatalf("默认手续费不正确: %v %v", cfg.KuCoin.Fee, cfg.Pancake.Fee)
	}
	if cfg.Trading.TradeSize != 1000 {
		t.Fatalf("默认交易数量应为 1000, 实际 %v", cfg.Trading.TradeSize)
	}
	if cfg.Strategy.MAPeriod != 10 || cfg.Strategy.HistorySize != 100 {
		t.Fatalf("策略默认参数不正确: %+v", cfg.Strategy)
	}
	if cfg.KuCoin.Symbol != "POLS-USDT" {
		t.Fatalf("默认交易对不正确: %s", cfg.KuCoin.Symbol)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("scheduler:\n  interval: 30s\ntrading:\n  trade_size: 250\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("配置文件应覆盖默认间隔: %s", cfg.Scheduler.Interval)
	}
	if cfg.Trading.TradeSize != 250 {
		t.Fatalf("配置文件应覆盖交易数量: %v", cfg.Trading.TradeSize)
	}
	// 未覆盖的键保持默认
	if cfg.Pancake.Fee != 0.0025 {
		t.Fatalf("未覆盖的键应保持默认: %v", cfg.Pancake.Fee)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("加载默认配置失败: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Trading.TransferFee = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("transfer_fee >= 1 应被拒绝")
	}

	cfg = base()
	cfg.Strategy.HistorySize = 5
	cfg.Strategy.MAPeriod = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("history_size < ma_period 应被拒绝")
	}

	// 阈值规则与运行时 /set_threshold 一致：必须严格为正
	cfg = base()
	cfg.Trading.ThresholdPct = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("threshold_pct = 0 应被拒绝")
	}

	cfg = base()
	cfg.Database.AlertRetention = -time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("负的 alert_retention 应被拒绝")
	}

	cfg = base()
	cfg.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("开启 telegram 但缺少 bot_token 应被拒绝")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("无覆盖时应用配置默认值, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("CLI 覆盖应生效, 实际 %d", got)
	}
}
