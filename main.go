package main

import (
	"log"
	"os"
	osSignal "os/signal"
	"syscall"
	"time"

	"echotrade/api"
	"echotrade/config"
	"echotrade/execution"
	"echotrade/ledger"
	"echotrade/manager"
	"echotrade/market"
	"echotrade/notifier"
	"echotrade/pkg/logger"
	"echotrade/risk"
	"echotrade/signal"
	"echotrade/trader"

	"github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"
)

func main() {
	// 加载 .env（不存在时静默使用系统环境变量）
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ 未找到 .env 文件，使用系统环境变量")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}

	logger.InitLogger(cfg.LogDir, cfg.Debug)

	// 数据库（SQLite文件路径 或 MySQL DSN）
	db, err := config.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ 数据库初始化失败: %v", err)
	}
	defer db.Close()

	// Telegram通知（可选，未配置时退化为空实现）
	var alerter notifier.Notifier = notifier.NopNotifier{}
	if tg, err := notifier.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID); err == nil {
		alerter = tg
	} else {
		log.Printf("ℹ️ Telegram通知未启用: %v", err)
	}

	// 行情数据源：模拟盘用随机游走，实盘走币安REST
	var provider market.Provider
	var binanceClient *binance.Client
	if cfg.PaperTrading {
		provider = market.NewSimProvider(time.Now().UnixNano())
	} else {
		provider = market.NewBinanceProvider(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.SandboxMode)
		binanceClient = binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	}

	// 实时行情推送（websocket，供API侧查询价格与指标）
	var feed *market.PriceFeed
	if !cfg.PaperTrading {
		feed = market.NewPriceFeed(cfg.TradingPairs)
		feed.Start()
		defer feed.Stop()
	}

	// 核心组件装配
	halt := risk.NewEmergencyStop(risk.HaltMode(cfg.HaltMode))
	riskMgr := risk.NewManager(risk.ParamsFromConfig(cfg), cfg.PortfolioValue, halt)
	book := ledger.NewLedger()
	engine := execution.NewEngine(cfg.PaperTrading, binanceClient, halt,
		execution.WithRetry(3, time.Second))
	fetcher := signal.NewFetcher(provider, cfg.TradingPairs, time.Now().UnixNano())

	bot := trader.NewCopyTrader(cfg, db, fetcher, riskMgr, book, engine, provider, alerter)
	mgr := manager.New(cfg, db, bot, riskMgr, book)

	// 启动跟单主循环
	if err := mgr.Start(); err != nil {
		log.Fatalf("❌ 启动失败: %v", err)
	}

	// 启动API服务器
	server := api.NewServer(mgr, feed, cfg.APIPort)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("❌ API服务器异常退出: %v", err)
		}
	}()

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	osSignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("⏹ 收到退出信号: %v，正在优雅停止...", sig)

	mgr.Stop()
	log.Println("👋 EchoTrade 已退出")
}
