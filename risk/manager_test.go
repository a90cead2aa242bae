package risk

import (
	"testing"
	"time"

	"echotrade/config"
	"echotrade/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		BaseSizePercent:        0.02,
		StopLossPercent:        0.02,
		TakeProfitPercent:      0.04,
		MaxDrawdownPercent:     0.30,
		MinTradeAmount:         10,
		MaxConcurrentPositions: 5,
		MaxSingleTradePercent:  0.10,
		TradingPairs:           []string{"BTC/USDT", "ETH/USDT"},
	}
}

func testTrader() *config.TraderRecord {
	return &config.TraderRecord{
		ID:                 "t1",
		Name:               "Test Trader",
		Active:             true,
		PositionMultiplier: 1.0,
		MinConfidence:      0.5,
		MaxLeverage:        5,
	}
}

func testSignal() signal.Signal {
	return signal.Signal{
		TraderID:   "t1",
		TraderName: "Test Trader",
		Symbol:     "BTC/USDT",
		Side:       signal.SideBuy,
		Price:      50000,
		Confidence: 0.8,
		Leverage:   1,
		Timestamp:  time.Now(),
	}
}

func TestEvaluateAccept(t *testing.T) {
	m := NewManager(testParams(), 10000, NewEmergencyStop(HaltOnly))

	d := m.Evaluate(testSignal(), testTrader(), PortfolioView{})
	require.True(t, d.Allowed, "reason=%s detail=%s", d.Reason, d.Detail)

	// 10000 × 2% × 0.8置信度 × 1.0倍数 = 160 USDT
	assert.InDelta(t, 160.0, d.Notional, 1e-9)
	assert.InDelta(t, 160.0/50000, d.Quantity, 1e-12)
	assert.InDelta(t, 50000*0.98, d.StopLoss, 1e-6)
	assert.InDelta(t, 50000*1.04, d.TakeProfit, 1e-6)
}

func TestEvaluateConfidenceScalesSize(t *testing.T) {
	m := NewManager(testParams(), 10000, nil)
	trader := testTrader()
	trader.PositionMultiplier = 2.0

	sig := testSignal()
	sig.Confidence = 0.6

	d := m.Evaluate(sig, trader, PortfolioView{})
	require.True(t, d.Allowed)
	assert.InDelta(t, 10000*0.02*0.6*2.0, d.Notional, 1e-9)
}

func TestEvaluateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*signal.Signal, *config.TraderRecord, *PortfolioView)
		reason string
	}{
		{
			name:   "交易员未启用",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { tr.Active = false },
			reason: ReasonTraderInactive,
		},
		{
			name: "币种在黑名单",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) {
				tr.TokenBlacklist = []string{"BTC/USDT"}
			},
			reason: ReasonTokenNotAllowed,
		},
		{
			name:   "币对不在系统列表",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { s.Symbol = "DOGE/USDT" },
			reason: ReasonSymbolNotTraded,
		},
		{
			name:   "置信度过低",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { s.Confidence = 0.3 },
			reason: ReasonLowConfidence,
		},
		{
			name:   "杠杆超限",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { s.Leverage = 10 },
			reason: ReasonLeverageExceeded,
		},
		{
			name:   "持仓数已满",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { v.OpenPositions = 5 },
			reason: ReasonPositionLimit,
		},
		{
			name:   "同方向重复开仓",
			mutate: func(s *signal.Signal, tr *config.TraderRecord, v *PortfolioView) { v.HasSameSide = true },
			reason: ReasonDuplicatePosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testParams(), 10000, nil)
			sig, trader, view := testSignal(), testTrader(), PortfolioView{}
			tt.mutate(&sig, trader, &view)

			d := m.Evaluate(sig, trader, view)
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluateSizeBounds(t *testing.T) {
	// 置信度极低时仓位价值低于最小下单额
	m := NewManager(testParams(), 10000, nil)
	trader := testTrader()
	trader.MinConfidence = 0

	sig := testSignal()
	sig.Confidence = 0.04 // 10000 × 2% × 0.04 = 8 < 10

	d := m.Evaluate(sig, trader, PortfolioView{})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSizeTooSmall, d.Reason)

	// 交易员倍数过大时触发单笔上限
	trader.PositionMultiplier = 100 // 10000 × 2% × 0.8 × 100 = 16000 > 1000
	sig.Confidence = 0.8
	d = m.Evaluate(sig, trader, PortfolioView{})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSizeTooLarge, d.Reason)
}

func TestEvaluateNotionalNeverExceedsCap(t *testing.T) {
	// 任意置信度与倍数组合下，通过的仓位价值都不超过组合的单笔上限
	m := NewManager(testParams(), 10000, nil)
	trader := testTrader()
	trader.MinConfidence = 0

	for _, conf := range []float64{0.01, 0.2, 0.5, 0.8, 1.0} {
		for _, mult := range []float64{0.5, 1.0, 2.0, 5.0, 10.0} {
			trader.PositionMultiplier = mult
			sig := testSignal()
			sig.Confidence = conf

			d := m.Evaluate(sig, trader, PortfolioView{})
			if d.Allowed {
				assert.LessOrEqual(t, d.Notional, 10000*0.10+1e-9,
					"confidence=%.2f multiplier=%.1f", conf, mult)
			}
		}
	}
}

func TestEvaluateRejectsWhenHalted(t *testing.T) {
	halt := NewEmergencyStop(HaltOnly)
	m := NewManager(testParams(), 10000, halt)

	halt.Trip("manual")
	d := m.Evaluate(testSignal(), testTrader(), PortfolioView{})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHalted, d.Reason)

	// 解除后恢复正常评估
	halt.Reset()
	d = m.Evaluate(testSignal(), testTrader(), PortfolioView{})
	assert.True(t, d.Allowed)
}

func TestStopLossPriceBySide(t *testing.T) {
	m := NewManager(testParams(), 10000, nil)

	// 多仓止损在入场价下方，空仓在上方
	long := m.StopLossPrice(100, signal.SideBuy)
	short := m.StopLossPrice(100, signal.SideSell)
	assert.InDelta(t, 98.0, long, 1e-9)
	assert.Greater(t, short, 100.0)

	// 空仓止损触发时亏损同样约为止损比例
	assert.InDelta(t, 100.0/0.98, short, 1e-9)
}

func TestUpdateMarketTripsOnDrawdownBreach(t *testing.T) {
	halt := NewEmergencyStop(HaltOnly)
	m := NewManager(testParams(), 10000, halt)

	// 浮亏20%：未越限
	breached := m.UpdateMarket(-2000)
	assert.False(t, breached)
	assert.False(t, halt.IsTripped())
	assert.InDelta(t, 0.20, m.CurrentDrawdown(), 1e-9)

	// 浮亏35%：越限必须触发熔断且留下事件记录
	breached = m.UpdateMarket(-3500)
	assert.True(t, breached)
	assert.True(t, halt.IsTripped())
	require.Len(t, halt.History(), 1)
}

func TestDrawdownUsesPeakValue(t *testing.T) {
	m := NewManager(testParams(), 10000, nil)

	// 先浮盈把峰值推高到12000
	m.UpdateMarket(2000)
	assert.InDelta(t, 0.0, m.CurrentDrawdown(), 1e-9)

	// 回落到10000：相对峰值回撤 (12000-10000)/12000
	m.UpdateMarket(0)
	assert.InDelta(t, 2000.0/12000.0, m.CurrentDrawdown(), 1e-9)
}

func TestApplyCloseAdjustsPortfolio(t *testing.T) {
	m := NewManager(testParams(), 10000, nil)

	m.ApplyFill()
	m.ApplyClose(250)
	m.ApplyClose(-100)

	s := m.Snapshot()
	assert.InDelta(t, 10150.0, s.PortfolioValue, 1e-9)
	assert.InDelta(t, 150.0, s.DailyPnL, 1e-9)
	assert.Equal(t, 1, s.TradesToday)
}

func TestEvaluateDrawdownGateBeforeSizeAndDuplicate(t *testing.T) {
	// 多个门槛同时不满足时，回撤预估先于仓位边界和重复持仓给出拒绝原因
	t.Run("回撤优先于仓位过小", func(t *testing.T) {
		m := NewManager(testParams(), 10000, nil)
		sig, trader := testSignal(), testTrader()
		trader.MinConfidence = 0
		sig.Confidence = 0.04 // 名义价值8，低于最小下单额10
		view := PortfolioView{UnrealizedPnL: -3000}

		d := m.Evaluate(sig, trader, view)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDrawdownLimit, d.Reason)
	})

	t.Run("回撤优先于重复持仓", func(t *testing.T) {
		m := NewManager(testParams(), 10000, nil)
		view := PortfolioView{UnrealizedPnL: -3000, HasSameSide: true}

		d := m.Evaluate(testSignal(), testTrader(), view)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDrawdownLimit, d.Reason)
	})
}

func TestApplyCloseTripsOnDrawdownBreach(t *testing.T) {
	halt := NewEmergencyStop(HaltOnly)
	m := NewManager(testParams(), 10000, halt)

	// 已实现亏损20%：未越限
	m.ApplyClose(-2000)
	assert.False(t, halt.IsTripped())

	// 累计已实现亏损35%：平仓结算当场熔断，不等下一次行情刷新
	m.ApplyClose(-1500)
	assert.True(t, halt.IsTripped())
	require.Len(t, halt.History(), 1)
	assert.InDelta(t, 0.35, m.CurrentDrawdown(), 1e-9)
}

func TestDailyStatsResetAcrossDays(t *testing.T) {
	m := NewManager(testParams(), 10000, nil)
	m.ApplyFill()
	m.ApplyClose(100)

	// 模拟跨日
	m.mu.Lock()
	m.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	m.mu.Unlock()

	m.ApplyFill()
	s := m.Snapshot()
	assert.Equal(t, 1, s.TradesToday)
	assert.InDelta(t, 0.0, s.DailyPnL, 1e-9)
	// 组合价值不随日内重置回退
	assert.InDelta(t, 10100.0, s.PortfolioValue, 1e-9)
}
