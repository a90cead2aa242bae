package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config 系统全局配置（从环境变量加载）
type Config struct {
	// 币安API配置
	BinanceAPIKey    string
	BinanceSecretKey string
	SandboxMode      bool

	// 交易模式
	PaperTrading bool // true=模拟盘（纸面交易）

	// 组合与风控参数（百分比均以 2.0 表示 2%）
	PortfolioValue         float64 `validate:"gt=0"`
	PositionSizePercent    float64 `validate:"gt=0,lte=10"`
	StopLossPercent        float64 `validate:"gt=0,lte=20"`
	TakeProfitPercent      float64 `validate:"gte=0,lte=100"`
	MaxDrawdownPercent     float64 `validate:"gt=0,lte=100"`
	MinTradeAmount         float64 `validate:"gte=0"`
	MaxConcurrentPositions int     `validate:"gt=0"`

	// 熔断模式: "halt_only"=仅停止新开仓, "close_all"=强制平掉所有持仓
	HaltMode string `validate:"oneof=halt_only close_all"`

	// 交易币对
	TradingPairs []string `validate:"min=1"`

	// 轮询配置
	SignalCheckInterval time.Duration `validate:"gt=0"`
	OrderTimeout        time.Duration `validate:"gt=0"`

	// 数据库配置（SQLite文件路径 或 MySQL连接字符串）
	DatabasePath string

	// API服务配置
	APIPort int

	// Telegram通知配置（可选）
	TelegramBotToken string
	TelegramChatID   int64

	// 日志配置
	LogDir string
	Debug  bool
}

// LoadConfig 从环境变量加载配置（需先由 godotenv 载入 .env）
func LoadConfig() (*Config, error) {
	cfg := &Config{
		BinanceAPIKey:          os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey:       os.Getenv("BINANCE_API_SECRET"),
		SandboxMode:            envBool("SANDBOX_MODE", true),
		PaperTrading:           envBool("PAPER_TRADING", true),
		PortfolioValue:         envFloat("PORTFOLIO_VALUE", 10000),
		PositionSizePercent:    envFloat("POSITION_SIZE_PERCENT", 2.0),
		StopLossPercent:        envFloat("STOP_LOSS_PERCENT", 2.0),
		TakeProfitPercent:      envFloat("TAKE_PROFIT_PERCENT", 4.0),
		MaxDrawdownPercent:     envFloat("MAX_DRAWDOWN_PERCENT", 30.0),
		MinTradeAmount:         envFloat("MIN_TRADE_AMOUNT", 10.0),
		MaxConcurrentPositions: envInt("MAX_CONCURRENT_POSITIONS", 5),
		HaltMode:               envString("HALT_MODE", "halt_only"),
		TradingPairs:           envList("TRADING_PAIRS", []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "ADA/USDT"}),
		SignalCheckInterval:    time.Duration(envInt("SIGNAL_CHECK_INTERVAL", 60)) * time.Second,
		OrderTimeout:           time.Duration(envInt("ORDER_TIMEOUT", 30)) * time.Second,
		DatabasePath:           envString("DATABASE_PATH", "echotrade.db"),
		APIPort:                envInt("API_PORT", 8080),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:         int64(envInt("TELEGRAM_CHAT_ID", 0)),
		LogDir:                 envString("LOG_DIR", "logs"),
		Debug:                  envBool("DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置合法性
// 实盘模式下必须配置API密钥，模拟盘允许为空
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	if !c.PaperTrading {
		if c.BinanceAPIKey == "" {
			return fmt.Errorf("实盘模式下必须设置 BINANCE_API_KEY")
		}
		if c.BinanceSecretKey == "" {
			return fmt.Errorf("实盘模式下必须设置 BINANCE_API_SECRET")
		}
	}
	return nil
}

// AllowsSymbol 判断币对是否在允许的交易列表中
func (c *Config) AllowsSymbol(symbol string) bool {
	for _, pair := range c.TradingPairs {
		if pair == symbol {
			return true
		}
	}
	return false
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
