package execution

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"

	"echotrade/market"
	"echotrade/risk"
	"echotrade/signal"
)

// Fill 订单成交结果
type Fill struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`    // 实际成交均价
	Quantity  float64   `json:"quantity"` // 实际成交数量（可能部分成交）
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// SlippageConfig 模拟滑点区间（比例，0.0001 = 0.01%）
type SlippageConfig struct {
	Min float64
	Max float64
}

// DefaultSlippage 默认滑点区间 0.01% - 0.05%
func DefaultSlippage() SlippageConfig {
	return SlippageConfig{Min: 0.0001, Max: 0.0005}
}

// Engine 订单执行引擎
// 模拟盘：随机滑点 + 偶发部分成交；实盘：币安市价单 + 有界指数退避重试
type Engine struct {
	paperTrading bool
	client       *binance.Client
	halt         *risk.EmergencyStop

	slippage      SlippageConfig
	retryAttempts int
	retryDelay    time.Duration
	orderTimeout  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Option 引擎可选配置
type Option func(*Engine)

// WithSlippage 覆盖默认滑点区间
func WithSlippage(s SlippageConfig) Option {
	return func(e *Engine) { e.slippage = s }
}

// WithRetry 覆盖默认重试参数
func WithRetry(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		e.retryAttempts = attempts
		e.retryDelay = delay
	}
}

// WithSeed 固定随机种子（测试用）
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewSource(seed)) }
}

// NewEngine 创建执行引擎
// paperTrading=true 时不访问交易所，client 可为 nil
func NewEngine(paperTrading bool, client *binance.Client, halt *risk.EmergencyStop, opts ...Option) *Engine {
	e := &Engine{
		paperTrading:  paperTrading,
		client:        client,
		halt:          halt,
		slippage:      DefaultSlippage(),
		retryAttempts: 3,
		retryDelay:    time.Second,
		orderTimeout:  30 * time.Second,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.paperTrading {
		log.Println("📝 执行引擎运行在模拟盘模式")
	}
	return e
}

// Execute 执行经过风控批准的信号
// 熔断状态下拒绝执行（熔断在评估与执行之间触发时也能拦截）
func (e *Engine) Execute(sig signal.Signal, quantity float64) (*Fill, error) {
	if e.halt != nil && e.halt.IsTripped() && sig.TraderID != "SYSTEM" {
		return nil, ErrHalted
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: 数量 %.8f", ErrInvalidOrder, quantity)
	}

	log.Printf("⚡ 执行订单: %s %.6f %s @ ~%.2f", sig.Side, quantity, sig.Symbol, sig.Price)

	if e.paperTrading {
		return e.simulateOrder(sig, quantity), nil
	}
	return e.executeWithRetry(sig, quantity)
}

// simulateOrder 模拟成交：滑点在配置区间内随机，偶发部分成交
func (e *Engine) simulateOrder(sig signal.Signal, quantity float64) *Fill {
	e.mu.Lock()
	slippage := e.slippage.Min + e.rng.Float64()*(e.slippage.Max-e.slippage.Min)
	fillRatio := 0.95 + e.rng.Float64()*0.05
	e.mu.Unlock()

	// 买单向上滑点，卖单向下滑点
	fillPrice := sig.Price * (1 + slippage)
	if sig.Side == signal.SideSell {
		fillPrice = sig.Price * (1 - slippage)
	}

	fillQty := quantity * fillRatio

	orderID := fmt.Sprintf("PAPER_%d_%s_%s",
		time.Now().Unix(),
		strings.ReplaceAll(sig.Symbol, "/", ""),
		uuid.NewString()[:8])

	log.Printf("📝 [模拟] %s 成交: %.6f %s @ %.2f", sig.Side, fillQty, sig.Symbol, fillPrice)

	return &Fill{
		OrderID:   orderID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Price:     fillPrice,
		Quantity:  fillQty,
		Partial:   fillRatio < 1.0,
		Timestamp: time.Now(),
	}
}

// executeWithRetry 实盘市价单，有界指数退避重试
// 可重试：网络错误、限频；致命：余额不足、无效币对，立即返回
func (e *Engine) executeWithRetry(sig signal.Signal, quantity float64) (*Fill, error) {
	side := binance.SideTypeBuy
	if sig.Side == signal.SideSell {
		side = binance.SideTypeSell
	}
	qtyStr := strconv.FormatFloat(quantity, 'f', 6, 64)

	var lastErr error
	for attempt := 0; attempt < e.retryAttempts; attempt++ {
		if attempt > 0 {
			// 指数退避: delay, 2*delay, 4*delay...
			backoff := e.retryDelay * time.Duration(1<<(attempt-1))
			log.Printf("⏳ 第 %d/%d 次重试，等待 %v...", attempt+1, e.retryAttempts, backoff)
			time.Sleep(backoff)
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.orderTimeout)
		order, err := e.client.NewCreateOrderService().
			Symbol(market.ToExchangeSymbol(sig.Symbol)).
			Side(side).
			Type(binance.OrderTypeMarket).
			Quantity(qtyStr).
			Do(ctx)
		cancel()

		if err != nil {
			classified, retryable := classifyError(err)
			if !retryable {
				log.Printf("❌ 订单失败（致命）: %v", classified)
				return nil, classified
			}
			log.Printf("⚠️ 订单失败（可重试，第 %d 次）: %v", attempt+1, err)
			lastErr = classified
			continue
		}

		return fillFromOrder(sig, order), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

func fillFromOrder(sig signal.Signal, order *binance.CreateOrderResponse) *Fill {
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)

	// 成交均价按各笔成交加权
	var cost, qty float64
	for _, f := range order.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Quantity, 64)
		cost += p * q
		qty += q
	}
	avgPrice := sig.Price
	if qty > 0 {
		avgPrice = cost / qty
	}

	return &Fill{
		OrderID:   strconv.FormatInt(order.OrderID, 10),
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Price:     avgPrice,
		Quantity:  executed,
		Partial:   executed < origQty,
		Timestamp: time.Now(),
	}
}

// PlaceStopLoss 挂止损单
// 多仓的止损是反向卖单，空仓反之
func (e *Engine) PlaceStopLoss(symbol, side string, quantity, stopPrice float64) (string, error) {
	if e.paperTrading {
		orderID := fmt.Sprintf("PAPER_SL_%d_%s", time.Now().Unix(), strings.ReplaceAll(symbol, "/", ""))
		log.Printf("📝 [模拟] 止损单已挂: %s %s %.6f @ 止损价 %.2f", symbol, side, quantity, stopPrice)
		return orderID, nil
	}

	closeSide := binance.SideTypeSell
	if side == signal.SideSell {
		closeSide = binance.SideTypeBuy
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.orderTimeout)
	defer cancel()

	order, err := e.client.NewCreateOrderService().
		Symbol(market.ToExchangeSymbol(symbol)).
		Side(closeSide).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(strconv.FormatFloat(quantity, 'f', 6, 64)).
		Price(strconv.FormatFloat(stopPrice, 'f', 2, 64)).
		StopPrice(strconv.FormatFloat(stopPrice, 'f', 2, 64)).
		Do(ctx)
	if err != nil {
		classified, _ := classifyError(err)
		return "", fmt.Errorf("挂止损单失败: %w", classified)
	}

	log.Printf("✅ 止损单已挂: %d (%s @ %.2f)", order.OrderID, symbol, stopPrice)
	return strconv.FormatInt(order.OrderID, 10), nil
}

// CancelOrder 取消委托单
func (e *Engine) CancelOrder(symbol, orderID string) error {
	if e.paperTrading {
		log.Printf("📝 [模拟] 已取消订单: %s", orderID)
		return nil
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: 订单ID %s", ErrInvalidOrder, orderID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.orderTimeout)
	defer cancel()

	_, err = e.client.NewCancelOrderService().
		Symbol(market.ToExchangeSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		classified, _ := classifyError(err)
		return fmt.Errorf("取消订单失败: %w", classified)
	}
	log.Printf("✅ 已取消订单: %s", orderID)
	return nil
}

// ClosePosition 以市价平仓（方向取反）
// 熔断强平也走这里，traderID 固定为 SYSTEM 以绕过熔断拦截
func (e *Engine) ClosePosition(symbol, side string, quantity, refPrice float64) (*Fill, error) {
	closeSignal := signal.Signal{
		TraderID:   "SYSTEM",
		TraderName: "SYSTEM",
		Symbol:     symbol,
		Side:       signal.OppositeSide(side),
		Price:      refPrice,
		Confidence: 1.0,
		Timestamp:  time.Now(),
	}
	return e.Execute(closeSignal, quantity)
}
