package signal

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"echotrade/config"
	"echotrade/market"
)

// 同一交易员两次信号之间的最小间隔
const minSignalInterval = 5 * time.Minute

// Fetcher 跟单信号拉取器
// 在没有真实跟单数据源的情况下，基于行情波动与交易员ROI模拟信号产出：
// 波动越大、交易员ROI越高，产生信号的概率越大
type Fetcher struct {
	provider market.Provider
	pairs    []string

	mu             sync.Mutex
	lastSignalTime map[string]time.Time
	rng            *rand.Rand
	now            func() time.Time
}

// NewFetcher 创建信号拉取器
// seed 固定时信号序列可复现，便于测试
func NewFetcher(provider market.Provider, pairs []string, seed int64) *Fetcher {
	return &Fetcher{
		provider:       provider,
		pairs:          pairs,
		lastSignalTime: make(map[string]time.Time),
		rng:            rand.New(rand.NewSource(seed)),
		now:            time.Now,
	}
}

// FetchForTraders 拉取所有交易员的信号（按优先级与ROI排序处理）
func (f *Fetcher) FetchForTraders(traders []*config.TraderRecord) ([]Signal, error) {
	sorted := make([]*config.TraderRecord, len(traders))
	copy(sorted, traders)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ROI30d > sorted[j].ROI30d
	})

	var all []Signal
	for _, trader := range sorted {
		signals, err := f.simulateTraderSignals(trader)
		if err != nil {
			log.Printf("⚠️ 模拟 %s 信号失败: %v", trader.Name, err)
			continue
		}
		all = append(all, signals...)
	}

	if len(all) > 0 {
		log.Printf("📊 本轮从 %d 个交易员获取 %d 条信号", len(sorted), len(all))
	}
	return all, nil
}

// simulateTraderSignals 基于行情模拟单个交易员的信号
func (f *Fetcher) simulateTraderSignals(trader *config.TraderRecord) ([]Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// 同一交易员的信号做节流
	if last, ok := f.lastSignalTime[trader.ID]; ok {
		if f.now().Sub(last) < minSignalInterval {
			return nil, nil
		}
	}

	var signals []Signal
	for _, symbol := range f.pairs {
		ticker, err := f.provider.GetTicker(symbol)
		if err != nil {
			log.Printf("⚠️ 获取%s行情失败: %v", symbol, err)
			continue
		}

		// 信号概率 = 波动率因子 × ROI因子，上限30%
		volatilityFactor := math.Abs(ticker.Change24h) / 100
		roiFactor := trader.ROI30d / 1000
		probability := math.Min(0.3, volatilityFactor*roiFactor*0.1)

		if f.rng.Float64() >= probability {
			continue
		}

		// 方向跟随近期趋势（70%概率顺势）
		var side string
		switch {
		case ticker.Change24h > 2:
			side = SideBuy
			if f.rng.Float64() >= 0.7 {
				side = SideSell
			}
		case ticker.Change24h < -2:
			side = SideSell
			if f.rng.Float64() >= 0.7 {
				side = SideBuy
			}
		default:
			side = SideBuy
			if f.rng.Float64() < 0.5 {
				side = SideSell
			}
		}

		confidence := math.Min(1.0, (roiFactor+volatilityFactor)/2)
		amount := 100 * (trader.ROI30d / 1000) * confidence

		price := ticker.Ask
		if side == SideSell {
			price = ticker.Bid
		}

		sig := Signal{
			TraderID:   trader.ID,
			TraderName: trader.Name,
			Symbol:     symbol,
			Side:       side,
			Price:      price,
			Amount:     amount,
			Confidence: confidence,
			Leverage:   1,
			Timestamp:  f.now(),
		}
		signals = append(signals, sig)
		log.Printf("📨 生成信号: %s", sig)
	}

	if len(signals) > 0 {
		f.lastSignalTime[trader.ID] = f.now()
	}
	return signals, nil
}

// GetSignalStrength 计算某币对的信号强度
func GetSignalStrength(signals []Signal, symbol string) Strength {
	var symbolSignals []Signal
	for _, s := range signals {
		if s.Symbol == symbol {
			symbolSignals = append(symbolSignals, s)
		}
	}
	if len(symbolSignals) == 0 {
		return Strength{}
	}

	var buySum, sellSum float64
	for _, s := range symbolSignals {
		if s.Side == SideBuy {
			buySum += s.Confidence
		} else {
			sellSum += s.Confidence
		}
	}

	total := float64(len(symbolSignals))
	buyStrength := buySum / total
	sellStrength := sellSum / total

	return Strength{
		BuyStrength:  buyStrength,
		SellStrength: sellStrength,
		NetSentiment: buyStrength - sellStrength,
		TotalSignals: len(symbolSignals),
	}
}

// BestSignal 从指定方向的信号中选出置信度最高的一条
func BestSignal(signals []Signal, symbol, side string) (Signal, error) {
	var best Signal
	found := false
	for _, s := range signals {
		if s.Symbol != symbol || s.Side != side {
			continue
		}
		if !found || s.Confidence > best.Confidence {
			best = s
			found = true
		}
	}
	if !found {
		return Signal{}, fmt.Errorf("没有 %s 方向为 %s 的信号", symbol, side)
	}
	return best, nil
}

// GroupBySymbol 按币对分组信号
func GroupBySymbol(signals []Signal) map[string][]Signal {
	grouped := make(map[string][]Signal)
	for _, s := range signals {
		grouped[s.Symbol] = append(grouped[s.Symbol], s)
	}
	return grouped
}
