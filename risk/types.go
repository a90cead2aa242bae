package risk

import (
	"echotrade/config"
)

// 拒绝原因代码
const (
	ReasonNone              = ""
	ReasonHalted            = "system_halted"
	ReasonTraderInactive    = "trader_inactive"
	ReasonTokenNotAllowed   = "token_not_allowed"
	ReasonSymbolNotTraded   = "symbol_not_traded"
	ReasonLowConfidence     = "confidence_below_threshold"
	ReasonLeverageExceeded  = "leverage_exceeded"
	ReasonPositionLimit     = "position_limit_reached"
	ReasonDrawdownLimit     = "drawdown_limit"
	ReasonDuplicatePosition = "duplicate_position"
	ReasonSizeTooSmall      = "position_too_small"
	ReasonSizeTooLarge      = "single_trade_cap"
)

// Decision 风控评估结果
// 拒绝是正常业务结果而非错误，原因放在Reason/Detail中
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail"`

	// 通过时的下单参数
	Quantity   float64 `json:"quantity"`    // 基础币数量
	Notional   float64 `json:"notional"`    // 仓位价值(USDT)
	StopLoss   float64 `json:"stop_loss"`   // 建议止损价
	TakeProfit float64 `json:"take_profit"` // 建议止盈价
}

// Params 风控参数（比例均为小数形式，0.02 表示 2%）
type Params struct {
	BaseSizePercent        float64
	StopLossPercent        float64
	TakeProfitPercent      float64
	MaxDrawdownPercent     float64
	MinTradeAmount         float64
	MaxConcurrentPositions int
	MaxSingleTradePercent  float64 // 单笔仓位占组合上限，默认10%
	TradingPairs           []string
}

// ParamsFromConfig 从系统配置构造风控参数（百分比转小数）
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		BaseSizePercent:        cfg.PositionSizePercent / 100,
		StopLossPercent:        cfg.StopLossPercent / 100,
		TakeProfitPercent:      cfg.TakeProfitPercent / 100,
		MaxDrawdownPercent:     cfg.MaxDrawdownPercent / 100,
		MinTradeAmount:         cfg.MinTradeAmount,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		MaxSingleTradePercent:  0.10,
		TradingPairs:           cfg.TradingPairs,
	}
}

// PortfolioView 评估时刻的持仓视图（由PositionLedger提供）
type PortfolioView struct {
	OpenPositions int     // 当前持仓数
	HasSameSide   bool    // 该币对同方向是否已有持仓
	UnrealizedPnL float64 // 全部持仓的浮动盈亏
}

// Summary 组合风控状态摘要（供API等协作方只读消费）
type Summary struct {
	PortfolioValue  float64 `json:"portfolio_value"`
	PeakValue       float64 `json:"peak_value"`
	DailyPnL        float64 `json:"daily_pnl"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	TradesToday     int     `json:"trades_today"`
	Halted          bool    `json:"halted"`
	HaltReason      string  `json:"halt_reason,omitempty"`
}
