package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSIBounds(t *testing.T) {
	// 数据不足时返回0
	assert.InDelta(t, 0.0, CalculateRSI([]float64{1, 2, 3}, 14), 1e-9)

	// 单边上涨时RSI=100
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	assert.InDelta(t, 100.0, CalculateRSI(up, 14), 1e-9)

	// 单边下跌时RSI趋近0
	down := make([]float64, 30)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	assert.InDelta(t, 0.0, CalculateRSI(down, 14), 1e-9)

	// 涨跌交替时RSI在中间区域
	mixed := make([]float64, 40)
	for i := range mixed {
		mixed[i] = 100
		if i%2 == 0 {
			mixed[i] = 101
		}
	}
	rsi := CalculateRSI(mixed, 14)
	assert.Greater(t, rsi, 20.0)
	assert.Less(t, rsi, 80.0)
}

func TestCalculateEMA(t *testing.T) {
	assert.Nil(t, CalculateEMA([]float64{1, 2}, 5))

	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ema := CalculateEMA(data, 5)
	require.Len(t, ema, len(data))

	// 初始值为前5个的SMA
	assert.InDelta(t, 3.0, ema[4], 1e-9)
	// EMA滞后于持续上涨的价格
	assert.Less(t, ema[9], data[9])
	assert.Greater(t, ema[9], ema[4])
}

func TestCalculateVolatility(t *testing.T) {
	// 价格不变时波动率为0
	flat := []float64{100, 100, 100, 100}
	assert.InDelta(t, 0.0, CalculateVolatility(flat), 1e-12)

	// 数据不足返回0
	assert.InDelta(t, 0.0, CalculateVolatility([]float64{100}), 1e-12)

	// 波动越大数值越大
	small := CalculateVolatility([]float64{100, 101, 100, 101, 100})
	large := CalculateVolatility([]float64{100, 110, 95, 112, 90})
	assert.Greater(t, large, small)
	assert.Greater(t, small, 0.0)
}

func TestSymbolConversion(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "BTC/USDT", FromExchangeSymbol("BTCUSDT"))
	assert.Equal(t, "BTC/USDT", FromExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "XYZ", FromExchangeSymbol("XYZ"))
}

func TestSimProviderFixedPrice(t *testing.T) {
	p := NewSimProvider(1)
	p.SetPrice("BTC/USDT", 42000)

	price, err := p.GetPrice("BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 42000.0, price, 1e-9)

	ticker, err := p.GetTicker("BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 42000.0, ticker.Last, 1e-9)
	assert.Less(t, ticker.Bid, ticker.Ask)
}

func TestSimProviderRandomWalkStaysNearBase(t *testing.T) {
	p := NewSimProvider(7)

	for i := 0; i < 100; i++ {
		price, err := p.GetPrice("BTC/USDT")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, price, 50000*0.95)
		assert.LessOrEqual(t, price, 50000*1.05)
	}
}
