package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"echotrade/config"
	"echotrade/manager"
	"echotrade/market"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server HTTP API服务器
// 对外只读快照 + 少量运维操作（紧急停止、交易员管理、手动平仓）
type Server struct {
	router  *gin.Engine
	manager *manager.Manager
	feed    *market.PriceFeed // 可选，未启动实时行情时为nil
	port    int
}

// NewServer 创建API服务器
func NewServer(mgr *manager.Manager, feed *market.PriceFeed, port int) *Server {
	// 设置为Release模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	// 启用CORS
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		manager: mgr,
		feed:    feed,
		port:    port,
	}

	s.setupRoutes()
	return s
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// 健康检查
		api.Any("/health", s.handleHealth)

		// 系统状态快照（只读）
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/positions/closed", s.handleClosedPositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/portfolio/history", s.handlePortfolioHistory)
		api.GET("/logs", s.handleSystemLogs)

		// 实时行情（需要websocket行情已启动）
		api.GET("/market/prices", s.handleMarketPrices)
		api.GET("/market/indicators/:symbol", s.handleMarketIndicators)

		// 交易员管理
		api.GET("/traders", s.handleTraderList)
		api.GET("/traders/:id", s.handleGetTrader)
		api.POST("/traders", s.handleCreateTrader)
		api.PUT("/traders/:id", s.handleUpdateTrader)
		api.DELETE("/traders/:id", s.handleDeleteTrader)
		api.POST("/traders/:id/toggle", s.handleToggleTrader)

		// 运维操作
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.POST("/emergency-stop", s.handleEmergencyStop)
		api.POST("/emergency-stop/reset", s.handleEmergencyReset)
		api.GET("/emergency-stop", s.handleEmergencyHistory)
		api.POST("/positions/close", s.handleCloseManually)
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus 返回系统运行状态与组合风控摘要
func (s *Server) handleStatus(c *gin.Context) {
	summary := s.manager.Risk().Snapshot()
	halt := s.manager.Risk().Halt()

	c.JSON(http.StatusOK, gin.H{
		"running":        s.manager.IsRunning(),
		"paper_trading":  s.manager.Config().PaperTrading,
		"trading_pairs":  s.manager.Config().TradingPairs,
		"portfolio":      summary,
		"halted":         halt.IsTripped(),
		"halt_reason":    halt.Reason(),
		"halt_mode":      string(halt.Mode()),
		"open_positions": s.manager.Ledger().OpenCount(),
	})
}

// handlePositions 当前持仓列表
func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.manager.Ledger().OpenPositions()})
}

// handleClosedPositions 已平仓历史（内存环形缓冲）
func (s *Server) handleClosedPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.manager.Ledger().ClosedPositions()})
}

// handleTrades 成交历史（数据库）
func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.manager.Database().GetRecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handlePortfolioHistory 组合历史快照
func (s *Server) handlePortfolioHistory(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	history, err := s.manager.Database().GetPortfolioHistory(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// handleSystemLogs 系统事件日志（熔断、拒绝原因等审计记录）
func (s *Server) handleSystemLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	level := c.Query("level")
	logs, err := s.manager.Database().GetSystemLogs(limit, level)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleMarketPrices 实时价格快照
func (s *Server) handleMarketPrices(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "实时行情未启动"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": s.feed.CurrentPrices()})
}

// handleMarketIndicators 基于实时行情历史计算技术指标
func (s *Server) handleMarketIndicators(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "实时行情未启动"})
		return
	}

	symbol := c.Param("symbol")
	history := s.feed.History(symbol)
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("无 %s 的行情历史", symbol)})
		return
	}

	prices := make([]float64, len(history))
	for i, p := range history {
		prices[i] = p.Price
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"samples":    len(prices),
		"last_price": prices[len(prices)-1],
		"rsi_14":     market.CalculateRSI(prices, 14),
		"volatility": market.CalculateVolatility(prices),
	})
}

// handleTraderList 交易员列表
func (s *Server) handleTraderList(c *gin.Context) {
	traders, err := s.manager.Database().GetTraders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders})
}

// handleGetTrader 查询单个交易员
func (s *Server) handleGetTrader(c *gin.Context) {
	trader, err := s.manager.Database().GetTrader(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("交易员不存在: %s", c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, trader)
}

// handleCreateTrader 新增跟单交易员
func (s *Server) handleCreateTrader(c *gin.Context) {
	var trader config.TraderRecord
	if err := c.ShouldBindJSON(&trader); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if trader.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "交易员名称不能为空"})
		return
	}
	if trader.ID == "" {
		trader.ID = uuid.New().String()
	}
	if trader.PositionMultiplier <= 0 {
		trader.PositionMultiplier = 1.0
	}

	if err := s.manager.Database().CreateTrader(&trader); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Printf("✅ 新增交易员: %s (%s)", trader.Name, trader.ID)
	c.JSON(http.StatusCreated, trader)
}

// handleUpdateTrader 更新交易员配置
func (s *Server) handleUpdateTrader(c *gin.Context) {
	id := c.Param("id")
	existing, err := s.manager.Database().GetTrader(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("交易员不存在: %s", id)})
		return
	}

	var trader config.TraderRecord
	if err := c.ShouldBindJSON(&trader); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	trader.ID = existing.ID

	if err := s.manager.Database().UpdateTrader(&trader); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trader)
}

// handleDeleteTrader 删除交易员
func (s *Server) handleDeleteTrader(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Database().DeleteTrader(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Printf("🗑 删除交易员: %s", id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleToggleTrader 启用/停用交易员
func (s *Server) handleToggleTrader(c *gin.Context) {
	id := c.Param("id")
	trader, err := s.manager.Database().GetTrader(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("交易员不存在: %s", id)})
		return
	}

	newActive := !trader.Active
	if err := s.manager.Database().UpdateTraderActive(id, newActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": newActive})
}

// handleStart 启动跟单主循环
func (s *Server) handleStart(c *gin.Context) {
	if err := s.manager.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// handleStop 停止跟单主循环
func (s *Server) handleStop(c *gin.Context) {
	s.manager.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// handleEmergencyStop 手动触发紧急停止
func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual_stop"
	}

	tripped := s.manager.Risk().Halt().Trip(req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"tripped": tripped, // false表示此前已处于熔断状态
		"halted":  true,
		"reason":  s.manager.Risk().Halt().Reason(),
	})
}

// handleEmergencyReset 人工确认后解除熔断
func (s *Server) handleEmergencyReset(c *gin.Context) {
	reset := s.manager.Risk().Halt().Reset()
	c.JSON(http.StatusOK, gin.H{"reset": reset, "halted": false})
}

// handleEmergencyHistory 熔断历史记录
func (s *Server) handleEmergencyHistory(c *gin.Context) {
	halt := s.manager.Risk().Halt()
	c.JSON(http.StatusOK, gin.H{
		"halted":  halt.IsTripped(),
		"reason":  halt.Reason(),
		"history": halt.History(),
	})
}

// handleCloseManually 手动平仓指定持仓
func (s *Server) handleCloseManually(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
		Side   string `json:"side" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	if err := s.manager.Bot().CloseManually(req.Symbol, req.Side); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": req.Symbol + " " + req.Side})
}

// Start 启动API服务器（阻塞）
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("🌐 API服务器启动在 http://localhost%s", addr)
	log.Printf("📊 API文档:")
	log.Printf("  • GET  /api/status           - 系统状态与组合风控摘要")
	log.Printf("  • GET  /api/positions        - 当前持仓")
	log.Printf("  • GET  /api/trades           - 成交历史")
	log.Printf("  • GET  /api/traders          - 跟单交易员列表")
	log.Printf("  • POST /api/emergency-stop   - 手动触发紧急停止")

	return s.router.Run(addr)
}
