package arbitrage

import (
	"testing"
)

func resultWithPcts(aToB, bToA string) Result {
	return Result{
		AToB: Direction{Buy: "kucoin", Sell: "pancakeswap", ProfitPct: dec(aToB)},
		BToA: Direction{Buy: "pancakeswap", Sell: "kucoin", ProfitPct: dec(bToA)},
	}
}

func TestCheckBelowThreshold(t *testing.T) {
	if alert := Check(resultWithPcts("0.4", "-1.2"), dec("0.5")); alert != nil {
		t.Fatalf("低于阈值不应触发告警: %+v", alert)
	}
}

func TestCheckEqualityDoesNotQualify(t *testing.T) {
	if alert := Check(resultWithPcts("0.5", "0.5"), dec("0.5")); alert != nil {
		t.Fatal("等于阈值不应触发告警")
	}
}

func TestCheckSingleDirection(t *testing.T) {
	alert := Check(resultWithPcts("1.3", "-1.3"), dec("0.5"))
	if alert == nil {
		t.Fatal("超过阈值应触发告警")
	}
	if len(alert.Directions) != 1 {
		t.Fatalf("应只有一个方向达标, 实际 %d", len(alert.Directions))
	}
	if alert.Directions[0].Buy != "kucoin" {
		t.Fatalf("达标方向不正确: %s", alert.Directions[0].Buy)
	}
}

func TestCheckBothDirectionsShareOneAlert(t *testing.T) {
	alert := Check(resultWithPcts("1.3", "0.7"), dec("0.5"))
	if alert == nil {
		t.Fatal("两个方向都达标应触发告警")
	}
	if len(alert.Directions) != 2 {
		t.Fatalf("两个达标方向应合并为一条告警, 实际 %d", len(alert.Directions))
	}
	if alert.Directions[0].Buy != "kucoin" || alert.Directions[1].Buy != "pancakeswap" {
		t.Fatal("方向应保持评估顺序")
	}
}
