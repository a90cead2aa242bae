package market

import (
	"strings"
	"time"
)

// Ticker 市场行情快照
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume    float64 `json:"volume"`
	Change24h float64 `json:"change_24h"` // 24小时涨跌幅(%)
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Timestamp int64   `json:"timestamp"` // 毫秒时间戳
}

// Provider 行情数据提供者统一接口
// 支持币安实盘行情与模拟行情
type Provider interface {
	// GetTicker 获取指定币对的行情快照
	GetTicker(symbol string) (*Ticker, error)

	// GetPrice 获取指定币对的最新成交价
	GetPrice(symbol string) (float64, error)
}

// ToExchangeSymbol 将 "BTC/USDT" 转换为交易所格式 "BTCUSDT"
func ToExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// FromExchangeSymbol 将 "BTCUSDT" 还原为 "BTC/USDT"
// 仅处理USDT计价币对，其他原样返回
func FromExchangeSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "/USDT"
	}
	return symbol
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
