package signal

import (
	"testing"
	"time"

	"echotrade/config"
	"echotrade/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider 返回固定行情，便于控制信号生成概率
type stubProvider struct {
	ticker market.Ticker
}

func (s *stubProvider) GetTicker(symbol string) (*market.Ticker, error) {
	t := s.ticker
	t.Symbol = symbol
	return &t, nil
}

func (s *stubProvider) GetPrice(symbol string) (float64, error) {
	return s.ticker.Last, nil
}

func hotTicker() market.Ticker {
	// 大波动行情：高ROI交易员在此行情下信号概率达到上限30%
	return market.Ticker{
		Last:      50000,
		Bid:       49990,
		Ask:       50010,
		Change24h: 8.0,
		Volume:    1000,
	}
}

func activeTrader(id string, roi float64) *config.TraderRecord {
	return &config.TraderRecord{
		ID:                 id,
		Name:               id,
		Active:             true,
		PositionMultiplier: 1.0,
		MaxLeverage:        5,
		ROI30d:             roi,
		Priority:           1,
	}
}

func TestFetchThrottlesPerTrader(t *testing.T) {
	f := NewFetcher(&stubProvider{ticker: hotTicker()}, []string{"BTC/USDT"}, 1)
	trader := activeTrader("t1", 1700)

	// 反复拉取直到产出第一批信号（概率性生成）
	var first []Signal
	for i := 0; i < 600 && len(first) == 0; i++ {
		var err error
		first, err = f.FetchForTraders([]*config.TraderRecord{trader})
		require.NoError(t, err)
	}
	require.NotEmpty(t, first, "高波动+高ROI下600轮内应产出信号")

	// 刚出过信号的交易员在间隔内被节流
	again, err := f.FetchForTraders([]*config.TraderRecord{trader})
	require.NoError(t, err)
	assert.Empty(t, again)

	// 时间推进超过节流间隔后恢复产出
	f.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	var resumed []Signal
	for i := 0; i < 600 && len(resumed) == 0; i++ {
		resumed, err = f.FetchForTraders([]*config.TraderRecord{trader})
		require.NoError(t, err)
	}
	assert.NotEmpty(t, resumed)
}

func TestFetchSignalFields(t *testing.T) {
	f := NewFetcher(&stubProvider{ticker: hotTicker()}, []string{"BTC/USDT", "ETH/USDT"}, 99)
	trader := activeTrader("yun_qiang", 1700)

	var signals []Signal
	for i := 0; i < 600 && len(signals) == 0; i++ {
		f.lastSignalTime = map[string]time.Time{}
		var err error
		signals, err = f.FetchForTraders([]*config.TraderRecord{trader})
		require.NoError(t, err)
	}
	require.NotEmpty(t, signals)

	for _, sig := range signals {
		assert.Equal(t, "yun_qiang", sig.TraderID)
		assert.Contains(t, []string{SideBuy, SideSell}, sig.Side)
		assert.Greater(t, sig.Price, 0.0)
		assert.Greater(t, sig.Confidence, 0.0)
		assert.LessOrEqual(t, sig.Confidence, 1.0)
		assert.False(t, sig.Timestamp.IsZero())

		// 买单以卖一价计，卖单以买一价计
		if sig.Side == SideBuy {
			assert.InDelta(t, 50010.0, sig.Price, 1e-9)
		} else {
			assert.InDelta(t, 49990.0, sig.Price, 1e-9)
		}
	}
}

func TestGetSignalStrength(t *testing.T) {
	signals := []Signal{
		{Symbol: "BTC/USDT", Side: SideBuy, Confidence: 0.8},
		{Symbol: "BTC/USDT", Side: SideBuy, Confidence: 0.6},
		{Symbol: "BTC/USDT", Side: SideSell, Confidence: 0.4},
		{Symbol: "ETH/USDT", Side: SideSell, Confidence: 0.9}, // 其他币对不计入
	}

	s := GetSignalStrength(signals, "BTC/USDT")
	assert.Equal(t, 3, s.TotalSignals)
	assert.InDelta(t, 1.4/3, s.BuyStrength, 1e-9)
	assert.InDelta(t, 0.4/3, s.SellStrength, 1e-9)
	assert.InDelta(t, 1.0/3, s.NetSentiment, 1e-9)

	// 无信号时为零值
	assert.Equal(t, Strength{}, GetSignalStrength(signals, "DOGE/USDT"))
}

func TestBestSignalPicksHighestConfidence(t *testing.T) {
	signals := []Signal{
		{TraderID: "a", Symbol: "BTC/USDT", Side: SideBuy, Confidence: 0.6},
		{TraderID: "b", Symbol: "BTC/USDT", Side: SideBuy, Confidence: 0.9},
		{TraderID: "c", Symbol: "BTC/USDT", Side: SideSell, Confidence: 0.95},
	}

	best, err := BestSignal(signals, "BTC/USDT", SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "b", best.TraderID)

	_, err = BestSignal(signals, "ETH/USDT", SideBuy)
	assert.Error(t, err)
}

func TestGroupBySymbol(t *testing.T) {
	signals := []Signal{
		{Symbol: "BTC/USDT"},
		{Symbol: "ETH/USDT"},
		{Symbol: "BTC/USDT"},
	}

	grouped := GroupBySymbol(signals)
	assert.Len(t, grouped, 2)
	assert.Len(t, grouped["BTC/USDT"], 2)
	assert.Len(t, grouped["ETH/USDT"], 1)
}

func TestOppositeSide(t *testing.T) {
	assert.Equal(t, SideSell, OppositeSide(SideBuy))
	assert.Equal(t, SideBuy, OppositeSide(SideSell))
}
