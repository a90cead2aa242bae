package trader

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"echotrade/config"
	"echotrade/execution"
	"echotrade/ledger"
	"echotrade/market"
	"echotrade/pkg/logger"
	"echotrade/risk"
	"echotrade/signal"

	"go.uber.org/zap"
)

// 新开仓要求的最低净情绪强度：多个信号源意见分歧过大时不跟单
const minNetSentiment = 0.3

// Alerter 交易事件外部告警接口（Telegram等），允许为nil
type Alerter interface {
	NotifyHalt(reason string)
	NotifyTrade(event, symbol, side string, quantity, price, pnl float64)
}

// CopyTrader 跟单交易器
// 每个周期：拉取信号 -> 风控评估 -> 执行下单 -> 更新台账 -> 检查止盈止损
type CopyTrader struct {
	cfg      *config.Config
	db       config.DatabaseInterface
	fetcher  *signal.Fetcher
	riskMgr  *risk.Manager
	book     *ledger.Ledger
	engine   *execution.Engine
	provider market.Provider
	alerter  Alerter

	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex

	startTime  time.Time
	cycleCount int
}

// NewCopyTrader 创建跟单交易器
func NewCopyTrader(
	cfg *config.Config,
	db config.DatabaseInterface,
	fetcher *signal.Fetcher,
	riskMgr *risk.Manager,
	book *ledger.Ledger,
	engine *execution.Engine,
	provider market.Provider,
	alerter Alerter,
) *CopyTrader {
	ct := &CopyTrader{
		cfg:      cfg,
		db:       db,
		fetcher:  fetcher,
		riskMgr:  riskMgr,
		book:     book,
		engine:   engine,
		provider: provider,
		alerter:  alerter,
	}

	// 熔断触发时：记录审计日志、推送告警；close_all模式下强制清仓
	halt := riskMgr.Halt()
	halt.OnTrip(func(reason string) {
		logger.TradeEvent("RISK_HALT", "*", zap.String("reason", reason))
		if ct.db != nil {
			_ = ct.db.InsertSystemLog("CRITICAL", "risk", "紧急停止触发", fmt.Sprintf(`{"reason":%q}`, reason))
		}
		if ct.alerter != nil {
			ct.alerter.NotifyHalt(reason)
		}
		if halt.Mode() == risk.CloseAll {
			ct.forceCloseAll(reason)
		}
	})

	return ct
}

// Run 启动主循环（阻塞，直到 Stop 被调用）
func (ct *CopyTrader) Run() error {
	ct.mu.Lock()
	if ct.isRunning {
		ct.mu.Unlock()
		return fmt.Errorf("跟单交易器已在运行中")
	}
	ct.isRunning = true
	ct.stopCh = make(chan struct{})
	ct.startTime = time.Now()
	ct.mu.Unlock()

	ct.wg.Add(1)
	defer ct.wg.Done()

	mode := "模拟盘"
	if !ct.cfg.PaperTrading {
		mode = "实盘"
	}
	log.Println("🚀 EchoTrade 跟单系统启动")
	log.Printf("💰 初始组合: %.2f USDT | 模式: %s", ct.riskMgr.PortfolioValue(), mode)
	log.Printf("⚙️  轮询间隔: %v | 交易币对: %v", ct.cfg.SignalCheckInterval, ct.cfg.TradingPairs)

	// 启动时立即执行一次，不等待第一个周期
	if err := ct.runCycle(); err != nil {
		log.Printf("❌ 执行周期失败: %v", err)
	}

	ticker := time.NewTicker(ct.cfg.SignalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ct.runCycle(); err != nil {
				log.Printf("❌ 执行周期失败: %v", err)
			}
		case <-ct.stopCh:
			log.Println("⏹ 收到停止信号，退出跟单主循环")
			return nil
		}
	}
}

// Stop 停止主循环并等待当前周期结束
func (ct *CopyTrader) Stop() {
	ct.mu.Lock()
	if !ct.isRunning {
		ct.mu.Unlock()
		return
	}
	ct.isRunning = false
	close(ct.stopCh)
	ct.mu.Unlock()

	ct.wg.Wait()
	log.Println("⏹ 跟单交易系统已停止")
}

// IsRunning 返回主循环是否在运行
func (ct *CopyTrader) IsRunning() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.isRunning
}

// StartTime 返回系统启动时间
func (ct *CopyTrader) StartTime() time.Time {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.startTime
}

// runCycle 执行一个完整的跟单周期
func (ct *CopyTrader) runCycle() error {
	ct.cycleCount++

	log.Print("\n" + strings.Repeat("=", 70) + "\n")
	log.Printf("⏰ %s - 跟单周期 #%d", time.Now().Format("2006-01-02 15:04:05"), ct.cycleCount)
	log.Println(strings.Repeat("=", 70))

	// 1. 获取最新价格，更新持仓估值
	prices, err := ct.currentPrices()
	if err != nil {
		return fmt.Errorf("获取行情失败: %w", err)
	}
	unrealized := ct.book.MarkPrices(prices)

	// 2. 回撤风控：先于一切交易动作检查
	if breached := ct.riskMgr.UpdateMarket(unrealized); breached {
		// 熔断回调里已处理告警与清仓，这里直接进入周期收尾
		ct.saveSnapshot()
		ct.logStatus(unrealized)
		return nil
	}

	// 3. 检查已有持仓的止盈止损
	ct.handleExits(ct.book.CheckExits(prices), prices)

	// 4. 拉取并执行新信号（熔断状态下跳过）
	if !ct.riskMgr.Halt().IsTripped() {
		if err := ct.processSignals(prices); err != nil {
			log.Printf("⚠️ 信号处理失败: %v", err)
		}
	} else {
		log.Printf("⏸ 系统处于熔断状态 (%s)，跳过新开仓", ct.riskMgr.Halt().Reason())
	}

	// 5. 周期收尾：落库快照、打印状态
	ct.saveSnapshot()
	ct.logStatus(ct.book.MarkPrices(prices))
	return nil
}

// processSignals 拉取交易员信号，逐币对挑选最优信号并尝试开仓
func (ct *CopyTrader) processSignals(prices map[string]float64) error {
	traders, err := ct.db.GetActiveTraders()
	if err != nil {
		return fmt.Errorf("读取交易员列表失败: %w", err)
	}
	if len(traders) == 0 {
		log.Println("📭 无活跃交易员，跳过本周期")
		return nil
	}

	signals, err := ct.fetcher.FetchForTraders(traders)
	if err != nil {
		return fmt.Errorf("拉取信号失败: %w", err)
	}
	if len(signals) == 0 {
		log.Println("📭 本周期无新信号")
		return nil
	}
	log.Printf("📡 收到 %d 条信号 (来自 %d 名交易员)", len(signals), len(traders))

	// 信号落库（审计用）
	signalRows := make(map[string]int64)
	for _, sig := range signals {
		rowID, err := ct.db.InsertSignal(sig.TraderID, sig.Symbol, sig.Side, sig.Price, sig.Amount, sig.Confidence)
		if err != nil {
			log.Printf("⚠️ 信号落库失败: %v", err)
			continue
		}
		signalRows[sig.TraderID+"|"+sig.Symbol+"|"+sig.Side] = rowID
	}

	traderByID := make(map[string]*config.TraderRecord, len(traders))
	for _, t := range traders {
		traderByID[t.ID] = t
	}

	// 逐币对聚合：信号分歧过大时不跟单
	for symbol, group := range signal.GroupBySymbol(signals) {
		strength := signal.GetSignalStrength(group, symbol)
		if math.Abs(strength.NetSentiment) < minNetSentiment {
			log.Printf("🤔 %s 信号分歧 (净情绪 %.2f)，跳过", symbol, strength.NetSentiment)
			continue
		}

		side := signal.SideBuy
		if strength.NetSentiment < 0 {
			side = signal.SideSell
		}

		best, err := signal.BestSignal(group, symbol, side)
		if err != nil {
			continue
		}

		ct.executeSignal(best, traderByID[best.TraderID], prices)

		if rowID, ok := signalRows[best.TraderID+"|"+best.Symbol+"|"+best.Side]; ok {
			_ = ct.db.MarkSignalProcessed(rowID)
		}
	}
	return nil
}

// executeSignal 对单条信号执行风控评估与下单
func (ct *CopyTrader) executeSignal(sig signal.Signal, traderRec *config.TraderRecord, prices map[string]float64) {
	view := risk.PortfolioView{
		OpenPositions: ct.book.OpenCount(),
		HasSameSide:   ct.book.HasPosition(sig.Symbol, sig.Side),
		UnrealizedPnL: ct.book.MarkPrices(prices),
	}

	decision := ct.riskMgr.Evaluate(sig, traderRec, view)
	if !decision.Allowed {
		log.Printf("🚫 风控拒绝 %s: %s (%s)", sig.String(), decision.Reason, decision.Detail)
		ct.recordRejection(sig, decision)
		return
	}

	fill, err := ct.engine.Execute(sig, decision.Quantity)
	if err != nil {
		logger.TradeEvent("ORDER_FAILED", sig.Symbol,
			zap.String("trader", sig.TraderID), zap.Error(err))
		_ = ct.db.RecordTraderSignal(sig.TraderID, false, false, 0)
		return
	}

	// 以实际成交价重算止损止盈（滑点会偏离信号价）
	stopLoss := ct.riskMgr.StopLossPrice(fill.Price, fill.Side)
	takeProfit := ct.riskMgr.TakeProfitPrice(fill.Price, fill.Side)

	rowID, err := ct.db.InsertTrade(&config.TradeRecord{
		TraderID:      sig.TraderID,
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		EntryPrice:    fill.Price,
		Quantity:      fill.Quantity,
		StopLossPrice: stopLoss,
		Status:        "open",
		EntryTime:     fill.Timestamp,
		OrderID:       fill.OrderID,
	})
	if err != nil {
		log.Printf("⚠️ 成交落库失败: %v", err)
	}

	pos, err := ct.book.Open(ledger.OpenParams{
		TraderID:   sig.TraderID,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Size:       fill.Quantity,
		EntryPrice: fill.Price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		TradeRowID: rowID,
	})
	if err != nil {
		// 成交已发生但台账冲突，属于不应出现的状态，强制平掉避免裸露头寸
		log.Printf("❌ 台账开仓失败: %v，正在回退", err)
		if _, cerr := ct.engine.ClosePosition(fill.Symbol, fill.Side, fill.Quantity, fill.Price); cerr != nil {
			log.Printf("❌ 回退平仓也失败: %v，需要人工介入", cerr)
		}
		return
	}

	// 交易所侧止损委托（模拟盘返回本地ID）
	if _, err := ct.engine.PlaceStopLoss(fill.Symbol, fill.Side, fill.Quantity, stopLoss); err != nil {
		log.Printf("⚠️ 止损委托失败（本地止损仍然生效）: %v", err)
	}

	ct.riskMgr.ApplyFill()
	_ = ct.db.RecordTraderSignal(sig.TraderID, true, false, 0)

	logger.TradeEvent("POSITION_OPENED", pos.Symbol,
		zap.String("position_id", pos.ID),
		zap.String("trader", pos.TraderID),
		zap.String("side", pos.Side),
		zap.Float64("quantity", pos.Size),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss))
	if ct.alerter != nil {
		ct.alerter.NotifyTrade("open", pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, 0)
	}
}

// handleExits 处理止盈/止损/移动止损触发的平仓
func (ct *CopyTrader) handleExits(events []ledger.ExitEvent, prices map[string]float64) {
	for _, ev := range events {
		// 先认领再下单：手动平仓/熔断清仓与周期检查并发时只有一方能发单
		if !ct.book.Claim(ev) {
			continue
		}
		fill, err := ct.engine.ClosePosition(ev.Symbol, ev.Side, ct.positionSize(ev), ev.Price)
		if err != nil {
			// 平仓失败下个周期重试：持仓恢复open，止损条件仍会再次触发
			ct.book.Release(ev)
			log.Printf("❌ 平仓下单失败 %s %s: %v", ev.Symbol, ev.Side, err)
			continue
		}

		pos, ok := ct.book.Close(ev, fill.Price)
		if !ok {
			// 已被其他路径平掉（幂等保护），不重复记账
			continue
		}
		ct.settleClose(pos, ev.Kind)
	}
}

// forceCloseAll 熔断(close_all模式)：强制平掉所有持仓
func (ct *CopyTrader) forceCloseAll(reason string) {
	prices, err := ct.currentPrices()
	if err != nil {
		log.Printf("❌ 强制清仓获取行情失败: %v", err)
		return
	}
	events := ct.book.ForceExitEvents(prices)
	if len(events) == 0 {
		return
	}
	log.Printf("🛑 熔断清仓: 正在平掉 %d 个持仓 (原因: %s)", len(events), reason)
	ct.handleExits(events, prices)
}

// settleClose 平仓后的统一记账：风控、数据库、交易员战绩、通知
func (ct *CopyTrader) settleClose(pos *ledger.Position, kind string) {
	pnl := pos.RealizedPnL
	ct.riskMgr.ApplyClose(pnl)

	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Size; notional > 0 {
		pnlPct = pnl / notional * 100
	}
	if pos.TradeRowID > 0 {
		if err := ct.db.CloseTrade(pos.TradeRowID, pos.ExitPrice, pnl, pnlPct); err != nil {
			log.Printf("⚠️ 平仓落库失败: %v", err)
		}
	}
	_ = ct.db.RecordTraderSignal(pos.TraderID, false, pnl > 0, pnl)

	event := "POSITION_CLOSED"
	alertKind := "close"
	if kind == ledger.ExitStopLoss || kind == ledger.ExitTrailingStop {
		event = "STOP_LOSS_TRIGGERED"
		alertKind = "stop_loss"
	}
	logger.TradeEvent(event, pos.Symbol,
		zap.String("position_id", pos.ID),
		zap.String("trader", pos.TraderID),
		zap.String("exit_kind", kind),
		zap.Float64("exit_price", pos.ExitPrice),
		zap.Float64("pnl", pnl))
	if ct.alerter != nil {
		ct.alerter.NotifyTrade(alertKind, pos.Symbol, pos.Side, pos.Size, pos.ExitPrice, pnl)
	}
}

// CloseManually 手动平仓指定持仓（API调用）
func (ct *CopyTrader) CloseManually(symbol, side string) error {
	prices, err := ct.currentPrices()
	if err != nil {
		return fmt.Errorf("获取行情失败: %w", err)
	}
	price, ok := prices[symbol]
	if !ok {
		if price, err = ct.provider.GetPrice(symbol); err != nil {
			return fmt.Errorf("获取 %s 价格失败: %w", symbol, err)
		}
	}

	positions := ct.book.OpenPositions()
	var target *ledger.Position
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Side == side {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("未找到持仓: %s %s", symbol, side)
	}

	ev := ledger.ExitEvent{
		PositionID: target.ID,
		Symbol:     symbol,
		Side:       side,
		Kind:       ledger.ExitManual,
		Price:      price,
		Time:       time.Now(),
	}
	// 认领失败说明周期检查或熔断清仓正在平这个仓，避免重复发单
	if !ct.book.Claim(ev) {
		return fmt.Errorf("持仓正在平仓或已被平掉: %s %s", symbol, side)
	}

	fill, err := ct.engine.ClosePosition(symbol, side, target.Size, price)
	if err != nil {
		ct.book.Release(ev)
		return fmt.Errorf("平仓下单失败: %w", err)
	}

	pos, ok := ct.book.Close(ev, fill.Price)
	if !ok {
		return fmt.Errorf("持仓已被平掉: %s %s", symbol, side)
	}
	ct.settleClose(pos, ledger.ExitManual)
	return nil
}

// currentPrices 获取持仓与交易币对的最新价格
func (ct *CopyTrader) currentPrices() (map[string]float64, error) {
	symbols := make(map[string]struct{})
	for _, pair := range ct.cfg.TradingPairs {
		symbols[pair] = struct{}{}
	}
	for _, s := range ct.book.OpenSymbols() {
		symbols[s] = struct{}{}
	}

	prices := make(map[string]float64, len(symbols))
	var lastErr error
	for sym := range symbols {
		price, err := ct.provider.GetPrice(sym)
		if err != nil {
			lastErr = err
			log.Printf("⚠️ 获取 %s 价格失败: %v", sym, err)
			continue
		}
		prices[sym] = price
	}
	if len(prices) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return prices, nil
}

// positionSize 查询退出事件对应持仓的数量
func (ct *CopyTrader) positionSize(ev ledger.ExitEvent) float64 {
	for _, pos := range ct.book.OpenPositions() {
		if pos.ID == ev.PositionID {
			return pos.Size
		}
	}
	return 0
}

// recordRejection 拒绝原因落库（审计用）
func (ct *CopyTrader) recordRejection(sig signal.Signal, decision risk.Decision) {
	details, _ := json.Marshal(map[string]interface{}{
		"trader_id":  sig.TraderID,
		"symbol":     sig.Symbol,
		"side":       sig.Side,
		"confidence": sig.Confidence,
		"reason":     decision.Reason,
		"detail":     decision.Detail,
	})
	_ = ct.db.InsertSystemLog("INFO", "risk", "信号被风控拒绝", string(details))
	_ = ct.db.RecordTraderSignal(sig.TraderID, false, false, 0)
}

// saveSnapshot 组合状态快照落库
func (ct *CopyTrader) saveSnapshot() {
	summary := ct.riskMgr.Snapshot()
	snap := &config.PortfolioSnapshot{
		Timestamp:          time.Now(),
		TotalValue:         summary.PortfolioValue,
		PeakValue:          summary.PeakValue,
		DailyPnL:           summary.DailyPnL,
		DrawdownCurrent:    summary.CurrentDrawdown,
		DrawdownMax:        summary.MaxDrawdown,
		OpenPositionsCount: ct.book.OpenCount(),
		TradesToday:        summary.TradesToday,
	}
	if err := ct.db.SavePortfolioSnapshot(snap); err != nil {
		log.Printf("⚠️ 快照落库失败: %v", err)
	}
}

// logStatus 打印周期结束时的组合状态
func (ct *CopyTrader) logStatus(unrealized float64) {
	summary := ct.riskMgr.Snapshot()
	haltStr := "正常"
	if summary.Halted {
		haltStr = "🛑 熔断"
	}
	log.Printf("📊 组合: %.2f USDT | 浮盈: %+.2f | 回撤: %.2f%% | 持仓: %d | 今日交易: %d | 状态: %s",
		summary.PortfolioValue, unrealized, summary.CurrentDrawdown*100,
		ct.book.OpenCount(), summary.TradesToday, haltStr)
}
