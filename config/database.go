package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// DatabaseInterface 定义了数据存储需要提供的方法集合
// 方便测试时替换为内存实现
type DatabaseInterface interface {
	CreateTrader(trader *TraderRecord) error
	GetTrader(id string) (*TraderRecord, error)
	GetTraders() ([]*TraderRecord, error)
	GetActiveTraders() ([]*TraderRecord, error)
	UpdateTrader(trader *TraderRecord) error
	UpdateTraderActive(id string, active bool) error
	DeleteTrader(id string) error
	RecordTraderSignal(id string, copied, won bool, pnl float64) error

	InsertSignal(traderID, symbol, side string, price, amount, confidence float64) (int64, error)
	MarkSignalProcessed(id int64) error

	InsertTrade(trade *TradeRecord) (int64, error)
	CloseTrade(id int64, exitPrice, pnl, pnlPct float64) error
	GetRecentTrades(limit int) ([]*TradeRecord, error)
	GetOpenTrades() ([]*TradeRecord, error)

	SavePortfolioSnapshot(snap *PortfolioSnapshot) error
	GetPortfolioHistory(days int) ([]*PortfolioSnapshot, error)

	InsertSystemLog(level, module, message, details string) error
	GetSystemLogs(limit int, level string) ([]*SystemLogRecord, error)

	Close() error
}

// Database 交易数据库
type Database struct {
	db      *sql.DB
	isMySQL bool // 标记是否为MySQL数据库
}

// getTimeFunc 根据数据库类型返回时间函数
func (d *Database) getTimeFunc() string {
	if d.isMySQL {
		return "NOW()"
	}
	return "datetime('now')"
}

// NewDatabase 创建交易数据库
// dbPath可以是SQLite文件路径，也可以是MySQL连接字符串
// MySQL连接字符串格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local
// 如果dbPath包含"@tcp("则认为是MySQL连接，否则认为是SQLite文件路径
func NewDatabase(dbPath string) (*Database, error) {
	var db *sql.DB
	var err error
	var isMySQL bool

	if strings.Contains(dbPath, "@tcp(") {
		// MySQL连接
		isMySQL = true
		db, err = sql.Open("mysql", dbPath)
		if err != nil {
			return nil, fmt.Errorf("打开MySQL数据库失败: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
		// 连接生命周期设为3分钟，避免复用已被服务端关闭的连接
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
		log.Printf("✅ 使用MySQL数据库连接")
	} else {
		// SQLite连接
		isMySQL = false
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("打开SQLite数据库失败: %w", err)
		}

		// 🔒 启用 WAL 模式，读操作不阻塞写操作，断电时保证数据完整
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("启用WAL模式失败: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置synchronous失败: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	d := &Database{db: db, isMySQL: isMySQL}

	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	if err := d.seedDefaultTraders(); err != nil {
		log.Printf("⚠️ 初始化默认交易员失败: %v", err)
	}

	return d, nil
}

// createTables 创建数据表（traders / trading_signals / trades / portfolio_snapshots / system_logs）
func (d *Database) createTables() error {
	autoIncr := "INTEGER PRIMARY KEY AUTOINCREMENT"
	textType := "TEXT"
	if d.isMySQL {
		autoIncr = "BIGINT PRIMARY KEY AUTO_INCREMENT"
		textType = "LONGTEXT"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS traders (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			source VARCHAR(20) NOT NULL DEFAULT 'manual',
			active BOOLEAN NOT NULL DEFAULT 1,
			paper_trade_only BOOLEAN NOT NULL DEFAULT 1,
			position_multiplier DOUBLE NOT NULL DEFAULT 1.0,
			min_confidence DOUBLE NOT NULL DEFAULT 0.7,
			max_leverage INTEGER NOT NULL DEFAULT 5,
			token_whitelist %s,
			token_blacklist %s,
			priority INTEGER NOT NULL DEFAULT 1,
			roi_30d DOUBLE NOT NULL DEFAULT 0,
			total_signals INTEGER NOT NULL DEFAULT 0,
			signals_copied INTEGER NOT NULL DEFAULT 0,
			win_count INTEGER NOT NULL DEFAULT 0,
			total_pnl DOUBLE NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`, textType, textType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trading_signals (
			id %s,
			trader_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			price DOUBLE NOT NULL,
			amount DOUBLE NOT NULL,
			confidence DOUBLE NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP
		)`, autoIncr),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trades (
			id %s,
			trader_id VARCHAR(64),
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			entry_price DOUBLE NOT NULL,
			exit_price DOUBLE,
			quantity DOUBLE NOT NULL,
			stop_loss_price DOUBLE,
			status VARCHAR(20) NOT NULL DEFAULT 'open',
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			pnl DOUBLE NOT NULL DEFAULT 0,
			pnl_percentage DOUBLE NOT NULL DEFAULT 0,
			order_id VARCHAR(100)
		)`, autoIncr),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id %s,
			created_at TIMESTAMP,
			total_value DOUBLE NOT NULL,
			peak_value DOUBLE NOT NULL,
			daily_pnl DOUBLE NOT NULL DEFAULT 0,
			realized_pnl DOUBLE NOT NULL DEFAULT 0,
			drawdown_current DOUBLE NOT NULL DEFAULT 0,
			drawdown_max DOUBLE NOT NULL DEFAULT 0,
			open_positions_count INTEGER NOT NULL DEFAULT 0,
			trades_today INTEGER NOT NULL DEFAULT 0
		)`, autoIncr),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS system_logs (
			id %s,
			created_at TIMESTAMP,
			level VARCHAR(10) NOT NULL,
			module VARCHAR(50) NOT NULL,
			message %s NOT NULL,
			details %s
		)`, autoIncr, textType, textType),
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

// seedDefaultTraders 初始化默认跟单交易员（仅首次）
func (d *Database) seedDefaultTraders() error {
	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM traders").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []*TraderRecord{
		{
			ID: "yun_qiang", Name: "Yun Qiang", Source: "binance",
			Active: true, PaperTradeOnly: true,
			PositionMultiplier: 1.0, MinConfidence: 0.7, MaxLeverage: 10,
			Priority: 1, ROI30d: 1700.0,
		},
		{
			ID: "crypto_loby", Name: "Crypto Loby", Source: "binance",
			Active: true, PaperTradeOnly: true,
			PositionMultiplier: 0.8, MinConfidence: 0.75, MaxLeverage: 5,
			Priority: 2, ROI30d: 850.0,
		},
	}
	for _, t := range defaults {
		if err := d.CreateTrader(t); err != nil {
			return err
		}
	}
	log.Printf("✅ 已初始化 %d 个默认交易员", len(defaults))
	return nil
}

// CreateTrader 新增交易员
func (d *Database) CreateTrader(trader *TraderRecord) error {
	wl, _ := json.Marshal(trader.TokenWhitelist)
	bl, _ := json.Marshal(trader.TokenBlacklist)

	query := fmt.Sprintf(`INSERT INTO traders
		(id, name, source, active, paper_trade_only, position_multiplier, min_confidence,
		 max_leverage, token_whitelist, token_blacklist, priority, roi_30d,
		 total_signals, signals_copied, win_count, total_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, %s, %s)`,
		d.getTimeFunc(), d.getTimeFunc())

	_, err := d.db.Exec(query,
		trader.ID, trader.Name, trader.Source, trader.Active, trader.PaperTradeOnly,
		trader.PositionMultiplier, trader.MinConfidence, trader.MaxLeverage,
		string(wl), string(bl), trader.Priority, trader.ROI30d,
		trader.TotalSignals, trader.SignalsCopied, trader.WinCount, trader.TotalPnL)
	if err != nil {
		return fmt.Errorf("插入交易员失败: %w", err)
	}
	return nil
}

func (d *Database) scanTrader(row interface{ Scan(...interface{}) error }) (*TraderRecord, error) {
	var t TraderRecord
	var wl, bl sql.NullString
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Name, &t.Source, &t.Active, &t.PaperTradeOnly,
		&t.PositionMultiplier, &t.MinConfidence, &t.MaxLeverage, &wl, &bl,
		&t.Priority, &t.ROI30d, &t.TotalSignals, &t.SignalsCopied, &t.WinCount,
		&t.TotalPnL, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if wl.Valid && wl.String != "" {
		_ = json.Unmarshal([]byte(wl.String), &t.TokenWhitelist)
	}
	if bl.Valid && bl.String != "" {
		_ = json.Unmarshal([]byte(bl.String), &t.TokenBlacklist)
	}
	if createdAt.Valid {
		t.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		t.UpdatedAt = updatedAt.Time
	}
	return &t, nil
}

const traderColumns = `id, name, source, active, paper_trade_only, position_multiplier,
	min_confidence, max_leverage, token_whitelist, token_blacklist, priority, roi_30d,
	total_signals, signals_copied, win_count, total_pnl, created_at, updated_at`

// GetTrader 获取单个交易员
func (d *Database) GetTrader(id string) (*TraderRecord, error) {
	row := d.db.QueryRow("SELECT "+traderColumns+" FROM traders WHERE id = ?", id)
	t, err := d.scanTrader(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("交易员不存在: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("查询交易员失败: %w", err)
	}
	return t, nil
}

// GetTraders 获取所有交易员（按优先级排序）
func (d *Database) GetTraders() ([]*TraderRecord, error) {
	return d.queryTraders("SELECT " + traderColumns + " FROM traders ORDER BY priority ASC, roi_30d DESC")
}

// GetActiveTraders 获取所有启用的交易员（按优先级排序）
func (d *Database) GetActiveTraders() ([]*TraderRecord, error) {
	return d.queryTraders("SELECT " + traderColumns + " FROM traders WHERE active = 1 ORDER BY priority ASC, roi_30d DESC")
}

func (d *Database) queryTraders(query string) ([]*TraderRecord, error) {
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("查询交易员列表失败: %w", err)
	}
	defer rows.Close()

	var traders []*TraderRecord
	for rows.Next() {
		t, err := d.scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// UpdateTrader 更新交易员配置
func (d *Database) UpdateTrader(trader *TraderRecord) error {
	wl, _ := json.Marshal(trader.TokenWhitelist)
	bl, _ := json.Marshal(trader.TokenBlacklist)

	query := fmt.Sprintf(`UPDATE traders SET
		name = ?, source = ?, active = ?, paper_trade_only = ?,
		position_multiplier = ?, min_confidence = ?, max_leverage = ?,
		token_whitelist = ?, token_blacklist = ?, priority = ?, roi_30d = ?,
		updated_at = %s WHERE id = ?`, d.getTimeFunc())

	result, err := d.db.Exec(query,
		trader.Name, trader.Source, trader.Active, trader.PaperTradeOnly,
		trader.PositionMultiplier, trader.MinConfidence, trader.MaxLeverage,
		string(wl), string(bl), trader.Priority, trader.ROI30d, trader.ID)
	if err != nil {
		return fmt.Errorf("更新交易员失败: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("交易员不存在: %s", trader.ID)
	}
	return nil
}

// UpdateTraderActive 切换交易员启用状态
func (d *Database) UpdateTraderActive(id string, active bool) error {
	query := fmt.Sprintf("UPDATE traders SET active = ?, updated_at = %s WHERE id = ?", d.getTimeFunc())
	result, err := d.db.Exec(query, active, id)
	if err != nil {
		return fmt.Errorf("更新交易员状态失败: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("交易员不存在: %s", id)
	}
	return nil
}

// DeleteTrader 删除交易员
func (d *Database) DeleteTrader(id string) error {
	result, err := d.db.Exec("DELETE FROM traders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("删除交易员失败: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("交易员不存在: %s", id)
	}
	return nil
}

// RecordTraderSignal 累计交易员信号绩效
// copied=是否实际跟单, won=是否盈利, pnl=已实现盈亏
func (d *Database) RecordTraderSignal(id string, copied, won bool, pnl float64) error {
	copiedN, wonN := 0, 0
	if copied {
		copiedN = 1
		if won {
			wonN = 1
		}
	} else {
		pnl = 0
	}

	query := fmt.Sprintf(`UPDATE traders SET
		total_signals = total_signals + 1,
		signals_copied = signals_copied + ?,
		win_count = win_count + ?,
		total_pnl = total_pnl + ?,
		updated_at = %s WHERE id = ?`, d.getTimeFunc())

	_, err := d.db.Exec(query, copiedN, wonN, pnl, id)
	if err != nil {
		return fmt.Errorf("更新交易员绩效失败: %w", err)
	}
	return nil
}

// InsertSignal 记录一条原始信号（审计用）
func (d *Database) InsertSignal(traderID, symbol, side string, price, amount, confidence float64) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO trading_signals
		(trader_id, symbol, side, price, amount, confidence, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, %s)`, d.getTimeFunc())

	result, err := d.db.Exec(query, traderID, symbol, side, price, amount, confidence)
	if err != nil {
		return 0, fmt.Errorf("插入信号失败: %w", err)
	}
	return result.LastInsertId()
}

// MarkSignalProcessed 标记信号已处理
func (d *Database) MarkSignalProcessed(id int64) error {
	_, err := d.db.Exec("UPDATE trading_signals SET processed = 1 WHERE id = ?", id)
	return err
}

// InsertTrade 记录开仓
func (d *Database) InsertTrade(trade *TradeRecord) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO trades
		(trader_id, symbol, side, entry_price, quantity, stop_loss_price, status, entry_time, order_id)
		VALUES (?, ?, ?, ?, ?, ?, 'open', %s, ?)`, d.getTimeFunc())

	result, err := d.db.Exec(query, trade.TraderID, trade.Symbol, trade.Side,
		trade.EntryPrice, trade.Quantity, trade.StopLossPrice, trade.OrderID)
	if err != nil {
		return 0, fmt.Errorf("插入交易记录失败: %w", err)
	}
	return result.LastInsertId()
}

// CloseTrade 记录平仓结果
func (d *Database) CloseTrade(id int64, exitPrice, pnl, pnlPct float64) error {
	query := fmt.Sprintf(`UPDATE trades SET
		exit_price = ?, pnl = ?, pnl_percentage = ?, status = 'closed', exit_time = %s
		WHERE id = ? AND status = 'open'`, d.getTimeFunc())

	_, err := d.db.Exec(query, exitPrice, pnl, pnlPct, id)
	if err != nil {
		return fmt.Errorf("更新平仓记录失败: %w", err)
	}
	return nil
}

func (d *Database) scanTrade(rows *sql.Rows) (*TradeRecord, error) {
	var t TradeRecord
	var traderID, orderID sql.NullString
	var exitPrice sql.NullFloat64
	var stopLoss sql.NullFloat64
	var entryTime, exitTime sql.NullTime

	err := rows.Scan(&t.ID, &traderID, &t.Symbol, &t.Side, &t.EntryPrice, &exitPrice,
		&t.Quantity, &stopLoss, &t.Status, &entryTime, &exitTime,
		&t.PnL, &t.PnLPercentage, &orderID)
	if err != nil {
		return nil, err
	}

	t.TraderID = traderID.String
	t.OrderID = orderID.String
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if stopLoss.Valid {
		t.StopLossPrice = stopLoss.Float64
	}
	if entryTime.Valid {
		t.EntryTime = entryTime.Time
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.Time
	}
	return &t, nil
}

const tradeColumns = `id, trader_id, symbol, side, entry_price, exit_price, quantity,
	stop_loss_price, status, entry_time, exit_time, pnl, pnl_percentage, order_id`

// GetRecentTrades 获取最近的交易记录
func (d *Database) GetRecentTrades(limit int) ([]*TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query("SELECT "+tradeColumns+" FROM trades ORDER BY entry_time DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("查询交易记录失败: %w", err)
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		t, err := d.scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetOpenTrades 获取所有未平仓的交易记录
func (d *Database) GetOpenTrades() ([]*TradeRecord, error) {
	rows, err := d.db.Query("SELECT " + tradeColumns + " FROM trades WHERE status = 'open' ORDER BY entry_time ASC")
	if err != nil {
		return nil, fmt.Errorf("查询未平仓记录失败: %w", err)
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		t, err := d.scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SavePortfolioSnapshot 保存组合状态快照
func (d *Database) SavePortfolioSnapshot(snap *PortfolioSnapshot) error {
	query := fmt.Sprintf(`INSERT INTO portfolio_snapshots
		(created_at, total_value, peak_value, daily_pnl, realized_pnl,
		 drawdown_current, drawdown_max, open_positions_count, trades_today)
		VALUES (%s, ?, ?, ?, ?, ?, ?, ?, ?)`, d.getTimeFunc())

	_, err := d.db.Exec(query, snap.TotalValue, snap.PeakValue, snap.DailyPnL,
		snap.RealizedPnL, snap.DrawdownCurrent, snap.DrawdownMax,
		snap.OpenPositionsCount, snap.TradesToday)
	if err != nil {
		return fmt.Errorf("保存组合快照失败: %w", err)
	}
	return nil
}

// GetPortfolioHistory 获取最近N天的组合快照
func (d *Database) GetPortfolioHistory(days int) ([]*PortfolioSnapshot, error) {
	if days <= 0 {
		days = 30
	}

	var query string
	if d.isMySQL {
		query = `SELECT id, created_at, total_value, peak_value, daily_pnl, realized_pnl,
			drawdown_current, drawdown_max, open_positions_count, trades_today
			FROM portfolio_snapshots
			WHERE created_at >= DATE_SUB(NOW(), INTERVAL ? DAY) ORDER BY created_at ASC`
	} else {
		query = `SELECT id, created_at, total_value, peak_value, daily_pnl, realized_pnl,
			drawdown_current, drawdown_max, open_positions_count, trades_today
			FROM portfolio_snapshots
			WHERE created_at >= datetime('now', '-' || ? || ' days') ORDER BY created_at ASC`
	}

	rows, err := d.db.Query(query, days)
	if err != nil {
		return nil, fmt.Errorf("查询组合历史失败: %w", err)
	}
	defer rows.Close()

	var snaps []*PortfolioSnapshot
	for rows.Next() {
		var s PortfolioSnapshot
		var ts sql.NullTime
		if err := rows.Scan(&s.ID, &ts, &s.TotalValue, &s.PeakValue, &s.DailyPnL,
			&s.RealizedPnL, &s.DrawdownCurrent, &s.DrawdownMax,
			&s.OpenPositionsCount, &s.TradesToday); err != nil {
			return nil, err
		}
		if ts.Valid {
			s.Timestamp = ts.Time
		}
		snaps = append(snaps, &s)
	}
	return snaps, rows.Err()
}

// InsertSystemLog 记录系统事件（熔断、信号拒绝等）
func (d *Database) InsertSystemLog(level, module, message, details string) error {
	query := fmt.Sprintf(`INSERT INTO system_logs (created_at, level, module, message, details)
		VALUES (%s, ?, ?, ?, ?)`, d.getTimeFunc())

	_, err := d.db.Exec(query, level, module, message, details)
	if err != nil {
		return fmt.Errorf("写入系统日志失败: %w", err)
	}
	return nil
}

// GetSystemLogs 查询系统事件（level为空则不过滤）
func (d *Database) GetSystemLogs(limit int, level string) ([]*SystemLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if level != "" {
		rows, err = d.db.Query(`SELECT id, created_at, level, module, message, details
			FROM system_logs WHERE level = ? ORDER BY created_at DESC LIMIT ?`, level, limit)
	} else {
		rows, err = d.db.Query(`SELECT id, created_at, level, module, message, details
			FROM system_logs ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查询系统日志失败: %w", err)
	}
	defer rows.Close()

	var logs []*SystemLogRecord
	for rows.Next() {
		var l SystemLogRecord
		var ts sql.NullTime
		var details sql.NullString
		if err := rows.Scan(&l.ID, &ts, &l.Level, &l.Module, &l.Message, &details); err != nil {
			return nil, err
		}
		if ts.Valid {
			l.Timestamp = ts.Time
		}
		l.Details = details.String
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	return d.db.Close()
}
