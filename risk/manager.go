package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"echotrade/config"
	"echotrade/signal"
)

// Manager 风控管理器
// 持有组合状态（市值、峰值、日内盈亏），所有变更在同一把锁下进行：
// 信号评估、成交确认、平仓结算不会交错产生不一致状态
type Manager struct {
	mu sync.RWMutex

	params Params
	halt   *EmergencyStop

	portfolioValue float64 // 已实现市值（开仓不变，平仓时加上已实现盈亏）
	peakValue      float64
	unrealizedPnL  float64 // 最近一次行情更新时的浮动盈亏
	maxDrawdown    float64
	dailyPnL       float64
	tradesToday    int
	lastResetDate  time.Time

	now func() time.Time
}

// NewManager 创建风控管理器
func NewManager(params Params, portfolioValue float64, halt *EmergencyStop) *Manager {
	if params.MaxSingleTradePercent <= 0 {
		params.MaxSingleTradePercent = 0.10
	}
	return &Manager{
		params:         params,
		halt:           halt,
		portfolioValue: portfolioValue,
		peakValue:      portfolioValue,
		lastResetDate:  time.Now(),
		now:            time.Now,
	}
}

// Halt 返回紧急停止开关
func (m *Manager) Halt() *EmergencyStop {
	return m.halt
}

// Evaluate 评估一条信号，按固定顺序执行风控规则
// 拒绝是正常结果；只有系统性问题才返回错误
func (m *Manager) Evaluate(sig signal.Signal, trader *config.TraderRecord, view PortfolioView) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()

	// 0. 熔断状态下拒绝一切新信号
	if m.halt != nil && m.halt.IsTripped() {
		return reject(ReasonHalted, "系统处于紧急停止状态")
	}

	// a. 交易员状态与币种过滤
	if trader == nil || !trader.Active {
		return reject(ReasonTraderInactive, "交易员未启用")
	}
	if !trader.AllowsToken(sig.Symbol) {
		return reject(ReasonTokenNotAllowed, fmt.Sprintf("%s 不在该交易员允许的币种内", sig.Symbol))
	}
	if !m.symbolTraded(sig.Symbol) {
		return reject(ReasonSymbolNotTraded, fmt.Sprintf("%s 不在系统交易币对列表内", sig.Symbol))
	}

	// b. 置信度阈值
	if sig.Confidence < trader.MinConfidence {
		return reject(ReasonLowConfidence,
			fmt.Sprintf("置信度 %.2f 低于阈值 %.2f", sig.Confidence, trader.MinConfidence))
	}

	// c. 杠杆上限
	if sig.Leverage > trader.MaxLeverage {
		return reject(ReasonLeverageExceeded,
			fmt.Sprintf("杠杆 %dx 超过限制 %dx", sig.Leverage, trader.MaxLeverage))
	}

	// d. 并发持仓上限
	if view.OpenPositions >= m.params.MaxConcurrentPositions {
		return reject(ReasonPositionLimit,
			fmt.Sprintf("已达最大并发持仓数 %d", m.params.MaxConcurrentPositions))
	}

	// 仓位计算: 组合价值 × 基础比例 × 置信度 × 交易员倍数
	if sig.Price <= 0 {
		return reject(ReasonSizeTooSmall, "信号价格无效")
	}
	notional := m.portfolioValue * m.params.BaseSizePercent * sig.Confidence * trader.PositionMultiplier

	// e. 预估开仓后回撤（假设新仓直接打到止损）
	leverage := sig.Leverage
	if leverage < 1 {
		leverage = 1
	}
	worstLoss := notional * m.params.StopLossPercent * float64(leverage)
	projectedValue := m.portfolioValue + view.UnrealizedPnL - worstLoss
	if m.drawdownOfLocked(projectedValue) >= m.params.MaxDrawdownPercent {
		return reject(ReasonDrawdownLimit,
			fmt.Sprintf("预估开仓后回撤将达到上限 %.1f%%", m.params.MaxDrawdownPercent*100))
	}

	// f. 同币对同方向不重复开仓
	if view.HasSameSide {
		return reject(ReasonDuplicatePosition,
			fmt.Sprintf("%s 已有 %s 方向持仓", sig.Symbol, sig.Side))
	}

	// g. 仓位边界
	if notional < m.params.MinTradeAmount {
		return reject(ReasonSizeTooSmall,
			fmt.Sprintf("仓位价值 %.2f 低于最小下单额 %.2f", notional, m.params.MinTradeAmount))
	}
	maxSingle := m.portfolioValue * m.params.MaxSingleTradePercent
	if notional > maxSingle {
		return reject(ReasonSizeTooLarge,
			fmt.Sprintf("仓位价值 %.2f 超过单笔上限 %.2f", notional, maxSingle))
	}

	// h. 通过，计算下单数量与止损止盈价
	quantity := notional / sig.Price

	return Decision{
		Allowed:    true,
		Quantity:   quantity,
		Notional:   notional,
		StopLoss:   m.StopLossPrice(sig.Price, sig.Side),
		TakeProfit: m.TakeProfitPrice(sig.Price, sig.Side),
	}
}

func reject(reason, detail string) Decision {
	return Decision{Allowed: false, Reason: reason, Detail: detail}
}

func (m *Manager) symbolTraded(symbol string) bool {
	for _, pair := range m.params.TradingPairs {
		if pair == symbol {
			return true
		}
	}
	return false
}

// StopLossPrice 计算止损价（多仓在下方，空仓在上方）
func (m *Manager) StopLossPrice(entryPrice float64, side string) float64 {
	multiplier := 1 - m.params.StopLossPercent
	if side == signal.SideBuy {
		return entryPrice * multiplier
	}
	return entryPrice / multiplier
}

// TakeProfitPrice 计算止盈价（多仓在上方，空仓在下方）
func (m *Manager) TakeProfitPrice(entryPrice float64, side string) float64 {
	if m.params.TakeProfitPercent <= 0 {
		return 0
	}
	multiplier := 1 + m.params.TakeProfitPercent
	if side == signal.SideBuy {
		return entryPrice * multiplier
	}
	return entryPrice / multiplier
}

// ApplyFill 成交确认（组合价值不变，只累计当日交易数）
func (m *Manager) ApplyFill() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyStatsLocked()
	m.tradesToday++
}

// ApplyClose 平仓结算：已实现盈亏并入组合价值
// 已实现亏损使回撤越限时立即熔断，不等下一个行情周期
func (m *Manager) ApplyClose(pnl float64) {
	m.mu.Lock()
	m.resetDailyStatsLocked()
	m.portfolioValue += pnl
	m.dailyPnL += pnl
	breached := m.updateDrawdownLocked()
	m.mu.Unlock()

	m.tripOnBreach(breached)
}

// UpdateMarket 每个周期用最新浮动盈亏刷新峰值与回撤
// 回撤越过上限时触发熔断并返回 true（保证越限必有熔断事件）
func (m *Manager) UpdateMarket(unrealizedPnL float64) bool {
	m.mu.Lock()
	m.unrealizedPnL = unrealizedPnL
	breached := m.updateDrawdownLocked()
	m.mu.Unlock()

	return m.tripOnBreach(breached)
}

// tripOnBreach 越限时触发熔断，返回是否为本次新触发
// 熔断回调会回读风控状态，调用时不得持有 m.mu
func (m *Manager) tripOnBreach(breached bool) bool {
	if !breached || m.halt == nil {
		return false
	}
	if m.halt.Trip(fmt.Sprintf("回撤超过上限 %.1f%%", m.params.MaxDrawdownPercent*100)) {
		log.Printf("🚨 回撤熔断：当前回撤 %.2f%%", m.CurrentDrawdown()*100)
		return true
	}
	return false
}

// updateDrawdownLocked 更新峰值与最大回撤，返回是否越过上限
func (m *Manager) updateDrawdownLocked() bool {
	current := m.portfolioValue + m.unrealizedPnL
	if current > m.peakValue {
		m.peakValue = current
	}

	drawdown := m.drawdownOfLocked(current)
	if drawdown > m.maxDrawdown {
		m.maxDrawdown = drawdown
	}
	return drawdown >= m.params.MaxDrawdownPercent
}

func (m *Manager) drawdownOfLocked(value float64) float64 {
	if m.peakValue <= 0 {
		return 0
	}
	dd := (m.peakValue - value) / m.peakValue
	if dd < 0 {
		return 0
	}
	return dd
}

// resetDailyStatsLocked 跨日时重置日内统计
func (m *Manager) resetDailyStatsLocked() {
	now := m.now()
	y1, m1, d1 := m.lastResetDate.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return
	}
	m.tradesToday = 0
	m.dailyPnL = 0
	m.lastResetDate = now
	log.Println("🔄 日内统计已重置")
}

// PortfolioValue 当前组合价值（含浮动盈亏）
func (m *Manager) PortfolioValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolioValue + m.unrealizedPnL
}

// CurrentDrawdown 当前回撤比例
func (m *Manager) CurrentDrawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawdownOfLocked(m.portfolioValue + m.unrealizedPnL)
}

// Snapshot 只读状态摘要（供API等协作方消费）
func (m *Manager) Snapshot() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := m.portfolioValue + m.unrealizedPnL
	s := Summary{
		PortfolioValue:  current,
		PeakValue:       m.peakValue,
		DailyPnL:        m.dailyPnL,
		CurrentDrawdown: m.drawdownOfLocked(current),
		MaxDrawdown:     m.maxDrawdown,
		TradesToday:     m.tradesToday,
	}
	if m.halt != nil {
		s.Halted = m.halt.IsTripped()
		s.HaltReason = m.halt.Reason()
	}
	return s
}
