package config

import (
	"time"
)

// TraderRecord 被跟单交易员的配置记录
// 由运营人员通过API维护，持久化在数据库中
type TraderRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"` // "binance", "telegram", "manual"

	Active         bool `json:"active"`
	PaperTradeOnly bool `json:"paper_trade_only"`

	// 风控参数
	PositionMultiplier float64 `json:"position_multiplier"` // 0.5x - 2.0x
	MinConfidence      float64 `json:"min_confidence"`      // 0.0 - 1.0
	MaxLeverage        int     `json:"max_leverage"`        // 1 - 20

	// 币种过滤（空白名单=全部允许，黑名单优先）
	TokenWhitelist []string `json:"token_whitelist"`
	TokenBlacklist []string `json:"token_blacklist"`

	Priority int     `json:"priority"` // 1 = 最高优先级
	ROI30d   float64 `json:"roi_30d"`  // 30天收益率(%)

	// 绩效统计（由跟单结果累计）
	TotalSignals  int     `json:"total_signals"`
	SignalsCopied int     `json:"signals_copied"`
	WinCount      int     `json:"win_count"`
	TotalPnL      float64 `json:"total_pnl"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllowsToken 判断该交易员是否允许交易指定币对
// 黑名单优先于白名单；白名单为空表示不限制
func (t *TraderRecord) AllowsToken(symbol string) bool {
	for _, b := range t.TokenBlacklist {
		if b == symbol {
			return false
		}
	}
	if len(t.TokenWhitelist) == 0 {
		return true
	}
	for _, w := range t.TokenWhitelist {
		if w == symbol {
			return true
		}
	}
	return false
}

// WinRate 计算胜率
func (t *TraderRecord) WinRate() float64 {
	if t.SignalsCopied == 0 {
		return 0
	}
	return float64(t.WinCount) / float64(t.SignalsCopied)
}

// TradeRecord 已执行交易的持久化记录
type TradeRecord struct {
	ID            int64      `json:"id"`
	TraderID      string     `json:"trader_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"` // "buy" 或 "sell"
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	Quantity      float64    `json:"quantity"`
	StopLossPrice float64    `json:"stop_loss_price"`
	Status        string     `json:"status"` // open, closed, cancelled
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	PnL           float64    `json:"pnl"`
	PnLPercentage float64    `json:"pnl_percentage"`
	OrderID       string     `json:"order_id"`
}

// PortfolioSnapshot 组合状态快照（每个周期落库一次）
type PortfolioSnapshot struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	TotalValue         float64   `json:"total_value"`
	PeakValue          float64   `json:"peak_value"`
	DailyPnL           float64   `json:"daily_pnl"`
	RealizedPnL        float64   `json:"realized_pnl"`
	DrawdownCurrent    float64   `json:"drawdown_current"`
	DrawdownMax        float64   `json:"drawdown_max"`
	OpenPositionsCount int       `json:"open_positions_count"`
	TradesToday        int       `json:"trades_today"`
}

// SystemLogRecord 系统事件记录（熔断、拒绝原因等审计用）
type SystemLogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARNING, ERROR, CRITICAL
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	Details   string    `json:"details"` // JSON字符串
}
