package market

import (
	"math/rand"
	"strings"
	"sync"
)

// SimProvider 模拟行情数据源（纸面交易 / 测试用）
// 价格围绕基准价做随机游走，也可通过 SetPrice 固定价格
type SimProvider struct {
	mu     sync.RWMutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSimProvider 创建模拟行情数据源
// seed 固定时序列可复现，便于测试
func NewSimProvider(seed int64) *SimProvider {
	return &SimProvider{
		prices: make(map[string]float64),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// SetPrice 固定某币对的价格（后续 GetPrice 直接返回该值）
func (p *SimProvider) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// basePrice 未设置价格时的粗略基准
func basePrice(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "BTC"):
		return 50000
	case strings.Contains(symbol, "ETH"):
		return 3000
	default:
		return 100
	}
}

// GetPrice 获取模拟价格
func (p *SimProvider) GetPrice(symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if price, ok := p.prices[symbol]; ok {
		return price, nil
	}
	// 基准价±5%随机游走
	return basePrice(symbol) * (0.95 + p.rng.Float64()*0.10), nil
}

// GetTicker 构造模拟行情快照
func (p *SimProvider) GetTicker(symbol string) (*Ticker, error) {
	price, err := p.GetPrice(symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	change := (p.rng.Float64() - 0.5) * 10 // ±5%
	spread := price * 0.0002
	volume := 1000 + p.rng.Float64()*9000
	p.mu.Unlock()

	return &Ticker{
		Symbol:    symbol,
		Last:      price,
		Bid:       price - spread,
		Ask:       price + spread,
		Volume:    volume,
		Change24h: change,
		High24h:   price * 1.03,
		Low24h:    price * 0.97,
		Timestamp: nowMillis(),
	}, nil
}

var _ Provider = (*SimProvider)(nil)
var _ Provider = (*BinanceProvider)(nil)
