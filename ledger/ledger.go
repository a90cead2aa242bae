package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"echotrade/signal"
)

// 持仓状态
const (
	StatusOpen    = "open"
	StatusClosing = "closing" // 已被某个平仓路径认领，订单在途
	StatusClosed  = "closed"
)

// 退出事件类型
const (
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitTrailingStop = "trailing_stop"
	ExitManual       = "manual"
	ExitEmergency    = "emergency"
)

// Position 持仓记录
// 由成交确认创建，止盈止损检查时更新，平仓后归档
type Position struct {
	ID       string `json:"id"`
	TraderID string `json:"trader_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "buy" 或 "sell"

	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"` // 0 表示不设止盈

	// 移动止损：盈利方向每创新高(低)，止损价跟着上移(下移)
	TrailingStopPercent float64 `json:"trailing_stop_percent"` // 0 表示关闭
	bestPrice           float64 // 开仓以来最有利的价格

	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`

	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	ExitKind    string     `json:"exit_kind,omitempty"`
	RealizedPnL float64    `json:"realized_pnl,omitempty"`

	// 对应trades表的行ID（平仓时回写）
	TradeRowID int64 `json:"-"`
}

// pnlAt 指定价格下的盈亏
func (p *Position) pnlAt(price float64) float64 {
	if p.Side == signal.SideBuy {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// ExitEvent 止盈/止损/移动止损触发事件
type ExitEvent struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Kind       string    `json:"kind"`
	Price      float64   `json:"price"` // 触发时的市场价
	Time       time.Time `json:"time"`
}

// OpenParams 开仓参数
type OpenParams struct {
	TraderID            string
	Symbol              string
	Side                string
	Size                float64
	EntryPrice          float64
	StopLoss            float64
	TakeProfit          float64
	TrailingStopPercent float64
	TradeRowID          int64
}

// Ledger 持仓台账
// 持仓按 symbol+side 索引：同币对可同时存在多空两个方向
type Ledger struct {
	mu     sync.RWMutex
	open   map[string]*Position // key: symbol|side
	closed []*Position

	maxClosed int
}

// NewLedger 创建持仓台账
func NewLedger() *Ledger {
	return &Ledger{
		open:      make(map[string]*Position),
		maxClosed: 500,
	}
}

func positionKey(symbol, side string) string {
	return symbol + "|" + side
}

// Open 记录新开仓
func (l *Ledger) Open(params OpenParams) (*Position, error) {
	if params.Size <= 0 || params.EntryPrice <= 0 {
		return nil, fmt.Errorf("开仓参数无效: size=%.8f price=%.2f", params.Size, params.EntryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey(params.Symbol, params.Side)
	if _, exists := l.open[key]; exists {
		return nil, fmt.Errorf("%s 已有 %s 方向持仓", params.Symbol, params.Side)
	}

	pos := &Position{
		ID:                  uuid.NewString(),
		TraderID:            params.TraderID,
		Symbol:              params.Symbol,
		Side:                params.Side,
		Size:                params.Size,
		EntryPrice:          params.EntryPrice,
		StopLoss:            params.StopLoss,
		TakeProfit:          params.TakeProfit,
		TrailingStopPercent: params.TrailingStopPercent,
		bestPrice:           params.EntryPrice,
		CurrentPrice:        params.EntryPrice,
		Status:              StatusOpen,
		OpenedAt:            time.Now(),
		TradeRowID:          params.TradeRowID,
	}
	l.open[key] = pos

	log.Printf("📈 开仓: %s %s %.6f @ %.2f (止损 %.2f)",
		pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.StopLoss)
	return pos, nil
}

// MarkPrices 用最新价格刷新所有持仓的浮动盈亏，返回总浮动盈亏
func (l *Ledger) MarkPrices(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, pos := range l.open {
		if price, ok := prices[pos.Symbol]; ok && price > 0 {
			pos.CurrentPrice = price
			pos.UnrealizedPnL = pos.pnlAt(price)
		}
		total += pos.UnrealizedPnL
	}
	return total
}

// CheckExits 检查止损/止盈/移动止损触发
// 每个周期调用一次；移动止损在此处跟随有利价格收紧
func (l *Ledger) CheckExits(prices map[string]float64) []ExitEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []ExitEvent
	now := time.Now()

	for _, pos := range l.open {
		if pos.Status != StatusOpen {
			continue
		}
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}

		long := pos.Side == signal.SideBuy

		// 移动止损跟随
		if pos.TrailingStopPercent > 0 {
			if long && price > pos.bestPrice {
				pos.bestPrice = price
			} else if !long && price < pos.bestPrice {
				pos.bestPrice = price
			}
		}

		kind := ""
		switch {
		case long && price <= pos.StopLoss:
			kind = ExitStopLoss
		case !long && price >= pos.StopLoss:
			kind = ExitStopLoss
		case pos.TakeProfit > 0 && long && price >= pos.TakeProfit:
			kind = ExitTakeProfit
		case pos.TakeProfit > 0 && !long && price <= pos.TakeProfit:
			kind = ExitTakeProfit
		case pos.TrailingStopPercent > 0 && long && price <= pos.bestPrice*(1-pos.TrailingStopPercent):
			kind = ExitTrailingStop
		case pos.TrailingStopPercent > 0 && !long && price >= pos.bestPrice*(1+pos.TrailingStopPercent):
			kind = ExitTrailingStop
		}

		if kind == "" {
			continue
		}

		log.Printf("⚠️ %s 触发 %s: 当前价 %.2f", pos.Symbol, kind, price)
		events = append(events, ExitEvent{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Kind:       kind,
			Price:      price,
			Time:       now,
		})
	}
	return events
}

// Claim 认领持仓准备平仓，状态 open → closing
// 多个平仓路径（周期检查、手动平仓、熔断清仓）可能同时盯上同一个持仓，
// 只有认领成功的一方才允许发出平仓订单
func (l *Ledger) Claim(event ExitEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, exists := l.open[positionKey(event.Symbol, event.Side)]
	if !exists || pos.ID != event.PositionID || pos.Status != StatusOpen {
		return false
	}
	pos.Status = StatusClosing
	return true
}

// Release 平仓下单失败时回滚认领，持仓恢复 open 等待下个周期重试
func (l *Ledger) Release(event ExitEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, exists := l.open[positionKey(event.Symbol, event.Side)]
	if exists && pos.ID == event.PositionID && pos.Status == StatusClosing {
		pos.Status = StatusOpen
	}
}

// Close 按退出事件平仓，返回平掉的持仓与已实现盈亏
// 幂等：同一事件重复应用时返回 ok=false，不会重复结算
func (l *Ledger) Close(event ExitEvent, exitPrice float64) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey(event.Symbol, event.Side)
	pos, exists := l.open[key]
	if !exists || pos.ID != event.PositionID || pos.Status == StatusClosed {
		return nil, false
	}

	now := time.Now()
	pos.Status = StatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = exitPrice
	pos.ExitKind = event.Kind
	pos.RealizedPnL = pos.pnlAt(exitPrice)
	pos.UnrealizedPnL = 0

	delete(l.open, key)
	l.closed = append(l.closed, pos)
	if len(l.closed) > l.maxClosed {
		l.closed = l.closed[len(l.closed)-l.maxClosed:]
	}

	log.Printf("📉 平仓: %s %s @ %.2f 盈亏 %+.2f (%s)",
		pos.Symbol, pos.Side, exitPrice, pos.RealizedPnL, event.Kind)
	return pos, true
}

// HasPosition 该币对指定方向是否已有持仓
func (l *Ledger) HasPosition(symbol, side string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.open[positionKey(symbol, side)]
	return exists
}

// OpenCount 当前持仓数
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// OpenSymbols 所有持仓涉及的币对（去重）
func (l *Ledger) OpenSymbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	for _, pos := range l.open {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}
	return symbols
}

// OpenPositions 所有持仓的副本（只读快照）
func (l *Ledger) OpenPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions 最近的已平仓记录（只读快照）
func (l *Ledger) ClosedPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.closed))
	for _, pos := range l.closed {
		out = append(out, *pos)
	}
	return out
}

// ForceExitEvents 为所有持仓生成紧急平仓事件（熔断close_all模式用）
func (l *Ledger) ForceExitEvents(prices map[string]float64) []ExitEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []ExitEvent
	now := time.Now()
	for _, pos := range l.open {
		if pos.Status != StatusOpen {
			continue
		}
		price := prices[pos.Symbol]
		if price <= 0 {
			price = pos.CurrentPrice
		}
		events = append(events, ExitEvent{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Kind:       ExitEmergency,
			Price:      price,
			Time:       now,
		})
	}
	return events
}
