package signal

import (
	"fmt"
	"time"
)

// 信号方向
const (
	SideBuy  = "buy"  // 做多
	SideSell = "sell" // 做空
)

// Signal 来自跟单交易员的交易信号（创建后不可变）
type Signal struct {
	TraderID   string    `json:"trader_id"`
	TraderName string    `json:"trader_name"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // "buy" 或 "sell"
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Confidence float64   `json:"confidence"` // 0.0 - 1.0
	Leverage   int       `json:"leverage"`   // 0或1表示不加杠杆
	Timestamp  time.Time `json:"timestamp"`
}

// String 信号的日志表示
func (s Signal) String() string {
	return fmt.Sprintf("Signal(%s, %s, %s, %.2f, confidence=%.2f)",
		s.TraderName, s.Symbol, s.Side, s.Price, s.Confidence)
}

// OppositeSide 返回反方向（平仓用）
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Strength 某币对的信号强度汇总
type Strength struct {
	BuyStrength  float64 `json:"buy_strength"`
	SellStrength float64 `json:"sell_strength"`
	NetSentiment float64 `json:"net_sentiment"` // 买方强度 - 卖方强度
	TotalSignals int     `json:"total_signals"`
}

// Source 信号源统一接口
// 生产实现从外部数据源拉取，测试时可注入固定信号
type Source interface {
	Fetch() ([]Signal, error)
}
