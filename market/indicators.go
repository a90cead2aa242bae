package market

import "math"

// CalculateRSI 计算相对强弱指数 (Wilder's RSI)
// data: 价格序列 (按时间顺序，最新的在最后)
// period: 周期 (通常为 14)
func CalculateRSI(data []float64, period int) float64 {
	if len(data) < period+1 {
		return 0
	}

	var gains, losses float64

	// 初始平均值 (SMA)
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// 后续值的平滑平均 (Wilder's Smoothing)
	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var currentGain, currentLoss float64
		if diff > 0 {
			currentGain = diff
		} else {
			currentLoss = -diff
		}

		avgGain = ((avgGain * float64(period-1)) + currentGain) / float64(period)
		avgLoss = ((avgLoss * float64(period-1)) + currentLoss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateEMA 计算指数移动平均
func CalculateEMA(data []float64, period int) []float64 {
	if len(data) < period {
		return nil
	}

	ema := make([]float64, len(data))
	k := 2.0 / float64(period+1)

	// 初始EMA使用SMA
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = (data[i] * k) + (ema[i-1] * (1 - k))
	}

	return ema
}

// CalculateVolatility 计算收益率标准差（波动率，比例形式）
func CalculateVolatility(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(data)-1)
	for i := 1; i < len(data); i++ {
		if data[i-1] == 0 {
			continue
		}
		returns = append(returns, (data[i]-data[i-1])/data[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}
