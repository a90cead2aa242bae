package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	f := NewPriceFeed([]string{"BTC/USDT", "ETH/USDT"})
	assert.Equal(t,
		"wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker",
		f.streamURL())
}

func TestHandleUpdateMaintainsStateAndNotifies(t *testing.T) {
	f := NewPriceFeed([]string{"BTC/USDT"})

	var got []PriceUpdate
	f.Subscribe(func(u PriceUpdate) { got = append(got, u) })

	f.handleUpdate(miniTickerData{
		EventType: "24hrMiniTicker",
		EventTime: 1700000000000,
		Symbol:    "BTCUSDT",
		Close:     "50123.45",
		High:      "51000",
		Low:       "49000",
		Volume:    "1234.5",
	})

	prices := f.CurrentPrices()
	require.Contains(t, prices, "BTC/USDT")
	assert.InDelta(t, 50123.45, prices["BTC/USDT"], 1e-9)

	history := f.History("BTC/USDT")
	require.Len(t, history, 1)
	assert.Equal(t, int64(1700000000000), history[0].Timestamp)

	require.Len(t, got, 1)
	assert.Equal(t, "BTC/USDT", got[0].Symbol)
}

func TestHandleUpdateIgnoresBadPrice(t *testing.T) {
	f := NewPriceFeed([]string{"BTC/USDT"})

	f.handleUpdate(miniTickerData{Symbol: "BTCUSDT", Close: "not-a-number"})
	f.handleUpdate(miniTickerData{Symbol: "BTCUSDT", Close: "0"})

	assert.Empty(t, f.CurrentPrices())
	assert.Empty(t, f.History("BTC/USDT"))
}
