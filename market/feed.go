package market

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	binanceStreamURL = "wss://stream.binance.com:9443/stream"
	historyMaxLen    = 1000
)

// PriceUpdate 实时价格更新
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// PricePoint 历史价格点
type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// miniTicker 币安 miniTicker 推送的组合流消息
type streamMessage struct {
	Stream string         `json:"stream"`
	Data   miniTickerData `json:"data"`
}

type miniTickerData struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

// PriceFeed 基于币安WebSocket的实时价格推送
// 维护最新价格与历史序列，并向订阅者回调
type PriceFeed struct {
	symbols []string

	mu            sync.RWMutex
	currentPrices map[string]PriceUpdate
	priceHistory  map[string][]PricePoint
	subscribers   []func(PriceUpdate)

	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewPriceFeed 创建实时价格推送
func NewPriceFeed(symbols []string) *PriceFeed {
	return &PriceFeed{
		symbols:       symbols,
		currentPrices: make(map[string]PriceUpdate),
		priceHistory:  make(map[string][]PricePoint),
		stopChan:      make(chan struct{}),
	}
}

// Subscribe 注册价格更新回调
func (f *PriceFeed) Subscribe(callback func(PriceUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, callback)
}

// Start 启动推送（后台goroutine，断线自动重连）
func (f *PriceFeed) Start() {
	f.mu.Lock()
	if f.isRunning {
		f.mu.Unlock()
		return
	}
	f.isRunning = true
	f.mu.Unlock()

	log.Printf("📡 启动实时价格推送 (%d 个币对)", len(f.symbols))

	f.wg.Add(1)
	go f.streamLoop()
}

// Stop 停止推送
func (f *PriceFeed) Stop() {
	f.mu.Lock()
	if !f.isRunning {
		f.mu.Unlock()
		return
	}
	f.isRunning = false
	f.mu.Unlock()

	close(f.stopChan)
	f.wg.Wait()
	log.Println("📡 实时价格推送已停止")
}

// streamURL 构造组合流URL: /stream?streams=btcusdt@miniTicker/ethusdt@miniTicker
func (f *PriceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(ToExchangeSymbol(s))+"@miniTicker")
	}
	return fmt.Sprintf("%s?streams=%s", binanceStreamURL, strings.Join(streams, "/"))
}

func (f *PriceFeed) streamLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		if err := f.connectAndRead(); err != nil {
			log.Printf("⚠️ 价格推送连接断开: %v，5秒后重连...", err)
		}

		// 断线后等待重连，期间可被停止
		select {
		case <-f.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *PriceFeed) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("连接币安WebSocket失败: %w", err)
	}
	defer conn.Close()

	log.Println("✅ 币安WebSocket已连接")

	// 单独goroutine监听停止信号并关闭连接，解除ReadMessage阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.stopChan:
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return nil
			default:
				return fmt.Errorf("读取消息失败: %w", err)
			}
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("⚠️ 解析行情消息失败: %v", err)
			continue
		}
		if msg.Data.EventType != "24hrMiniTicker" {
			continue
		}

		f.handleUpdate(msg.Data)
	}
}

func (f *PriceFeed) handleUpdate(data miniTickerData) {
	price, err := strconv.ParseFloat(data.Close, 64)
	if err != nil || price <= 0 {
		return
	}

	update := PriceUpdate{
		Symbol:    FromExchangeSymbol(data.Symbol),
		Price:     price,
		High24h:   parseFloat(data.High),
		Low24h:    parseFloat(data.Low),
		Volume:    parseFloat(data.Volume),
		Timestamp: data.EventTime,
	}

	f.mu.Lock()
	f.currentPrices[update.Symbol] = update
	history := append(f.priceHistory[update.Symbol], PricePoint{
		Timestamp: update.Timestamp,
		Price:     update.Price,
	})
	if len(history) > historyMaxLen {
		history = history[len(history)-historyMaxLen:]
	}
	f.priceHistory[update.Symbol] = history
	subscribers := make([]func(PriceUpdate), len(f.subscribers))
	copy(subscribers, f.subscribers)
	f.mu.Unlock()

	// 回调在锁外执行，避免订阅者阻塞行情更新
	for _, cb := range subscribers {
		cb(update)
	}
}

// CurrentPrices 获取所有币对的最新价格
func (f *PriceFeed) CurrentPrices() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prices := make(map[string]float64, len(f.currentPrices))
	for symbol, update := range f.currentPrices {
		prices[symbol] = update.Price
	}
	return prices
}

// History 获取某币对的历史价格序列
func (f *PriceFeed) History(symbol string) []PricePoint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	src := f.priceHistory[symbol]
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}
