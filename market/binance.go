package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

// BinanceProvider 币安现货行情数据源
type BinanceProvider struct {
	client  *binance.Client
	timeout time.Duration
}

// NewBinanceProvider 创建币安行情数据源
// 行情接口无需API密钥，密钥留空也可使用
func NewBinanceProvider(apiKey, secretKey string, testnet bool) *BinanceProvider {
	binance.UseTestnet = testnet
	return &BinanceProvider{
		client:  binance.NewClient(apiKey, secretKey),
		timeout: 10 * time.Second,
	}
}

// GetTicker 获取24小时行情统计
func (p *BinanceProvider) GetTicker(symbol string) (*Ticker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	stats, err := p.client.NewListPriceChangeStatsService().
		Symbol(ToExchangeSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取%s行情失败: %w", symbol, err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("获取%s行情失败: 交易所返回空数据", symbol)
	}

	s := stats[0]
	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(s.LastPrice),
		Bid:       parseFloat(s.BidPrice),
		Ask:       parseFloat(s.AskPrice),
		Volume:    parseFloat(s.Volume),
		Change24h: parseFloat(s.PriceChangePercent),
		High24h:   parseFloat(s.HighPrice),
		Low24h:    parseFloat(s.LowPrice),
		Timestamp: s.CloseTime,
	}, nil
}

// GetPrice 获取最新成交价
func (p *BinanceProvider) GetPrice(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	prices, err := p.client.NewListPricesService().
		Symbol(ToExchangeSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取%s价格失败: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("获取%s价格失败: 交易所返回空数据", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
