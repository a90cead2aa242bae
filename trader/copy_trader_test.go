package trader

import (
	"sync"
	"testing"
	"time"

	"echotrade/config"
	"echotrade/execution"
	"echotrade/ledger"
	"echotrade/market"
	"echotrade/risk"
	"echotrade/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB 内存数据库，记录调用便于断言
type fakeDB struct {
	mu        sync.Mutex
	traders   map[string]*config.TraderRecord
	trades    map[int64]*config.TradeRecord
	nextTrade int64
	signals   int64
	snapshots []*config.PortfolioSnapshot
	sysLogs   []string
	perf      map[string][]float64 // traderID -> pnl记录
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		traders: make(map[string]*config.TraderRecord),
		trades:  make(map[int64]*config.TradeRecord),
		perf:    make(map[string][]float64),
	}
}

func (f *fakeDB) CreateTrader(t *config.TraderRecord) error { f.traders[t.ID] = t; return nil }
func (f *fakeDB) GetTrader(id string) (*config.TraderRecord, error) {
	return f.traders[id], nil
}
func (f *fakeDB) GetTraders() ([]*config.TraderRecord, error) { return nil, nil }
func (f *fakeDB) GetActiveTraders() ([]*config.TraderRecord, error) {
	var out []*config.TraderRecord
	for _, t := range f.traders {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeDB) UpdateTrader(*config.TraderRecord) error { return nil }
func (f *fakeDB) UpdateTraderActive(string, bool) error   { return nil }
func (f *fakeDB) DeleteTrader(string) error               { return nil }
func (f *fakeDB) RecordTraderSignal(id string, copied, won bool, pnl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perf[id] = append(f.perf[id], pnl)
	return nil
}
func (f *fakeDB) InsertSignal(string, string, string, float64, float64, float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals++
	return f.signals, nil
}
func (f *fakeDB) MarkSignalProcessed(int64) error { return nil }
func (f *fakeDB) InsertTrade(t *config.TradeRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTrade++
	cp := *t
	cp.ID = f.nextTrade
	f.trades[f.nextTrade] = &cp
	return f.nextTrade, nil
}
func (f *fakeDB) CloseTrade(id int64, exitPrice, pnl, pnlPct float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.trades[id]; ok {
		t.Status = "closed"
		t.ExitPrice = &exitPrice
		t.PnL = pnl
		t.PnLPercentage = pnlPct
	}
	return nil
}
func (f *fakeDB) GetRecentTrades(int) ([]*config.TradeRecord, error) { return nil, nil }
func (f *fakeDB) GetOpenTrades() ([]*config.TradeRecord, error)      { return nil, nil }
func (f *fakeDB) SavePortfolioSnapshot(s *config.PortfolioSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
	return nil
}
func (f *fakeDB) GetPortfolioHistory(int) ([]*config.PortfolioSnapshot, error) { return nil, nil }
func (f *fakeDB) InsertSystemLog(level, module, message, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sysLogs = append(f.sysLogs, level+":"+message)
	return nil
}
func (f *fakeDB) GetSystemLogs(int, string) ([]*config.SystemLogRecord, error) { return nil, nil }
func (f *fakeDB) Close() error                                                 { return nil }

var _ config.DatabaseInterface = (*fakeDB)(nil)

type fixture struct {
	ct       *CopyTrader
	db       *fakeDB
	riskMgr  *risk.Manager
	book     *ledger.Ledger
	provider *market.SimProvider
	halt     *risk.EmergencyStop
}

func newFixture(t *testing.T, mode risk.HaltMode) *fixture {
	t.Helper()

	cfg := &config.Config{
		PaperTrading:           true,
		PortfolioValue:         10000,
		PositionSizePercent:    2.0,
		StopLossPercent:        2.0,
		TakeProfitPercent:      4.0,
		MaxDrawdownPercent:     30.0,
		MinTradeAmount:         10,
		MaxConcurrentPositions: 5,
		HaltMode:               string(mode),
		TradingPairs:           []string{"BTC/USDT", "ETH/USDT"},
		SignalCheckInterval:    time.Minute,
	}

	db := newFakeDB()
	db.traders["t1"] = &config.TraderRecord{
		ID: "t1", Name: "Test Trader", Active: true,
		PositionMultiplier: 1.0, MinConfidence: 0.5, MaxLeverage: 5,
	}

	halt := risk.NewEmergencyStop(mode)
	riskMgr := risk.NewManager(risk.ParamsFromConfig(cfg), cfg.PortfolioValue, halt)
	book := ledger.NewLedger()
	provider := market.NewSimProvider(1)
	provider.SetPrice("BTC/USDT", 50000)
	provider.SetPrice("ETH/USDT", 3000)
	engine := execution.NewEngine(true, nil, halt, execution.WithSeed(1))
	fetcher := signal.NewFetcher(provider, cfg.TradingPairs, 1)

	ct := NewCopyTrader(cfg, db, fetcher, riskMgr, book, engine, provider, nil)
	return &fixture{ct: ct, db: db, riskMgr: riskMgr, book: book, provider: provider, halt: halt}
}

func buySignal() signal.Signal {
	return signal.Signal{
		TraderID:   "t1",
		TraderName: "Test Trader",
		Symbol:     "BTC/USDT",
		Side:       signal.SideBuy,
		Price:      50000,
		Confidence: 0.8,
		Leverage:   1,
		Timestamp:  time.Now(),
	}
}

func TestExecuteSignalOpensPosition(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)

	require.Equal(t, 1, fx.book.OpenCount())
	pos := fx.book.OpenPositions()[0]
	assert.Equal(t, "t1", pos.TraderID)
	assert.Greater(t, pos.StopLoss, 0.0)
	assert.Less(t, pos.StopLoss, pos.EntryPrice)

	// 成交落库 + 交易员绩效累计
	assert.Len(t, fx.db.trades, 1)
	assert.Len(t, fx.db.perf["t1"], 1)
	assert.Equal(t, 1, fx.riskMgr.Snapshot().TradesToday)
}

func TestExecuteSignalRespectsRiskRejection(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000}

	sig := buySignal()
	sig.Confidence = 0.1 // 低于交易员阈值

	fx.ct.executeSignal(sig, fx.db.traders["t1"], prices)

	assert.Equal(t, 0, fx.book.OpenCount())
	assert.Empty(t, fx.db.trades)
	// 拒绝原因落库
	require.NotEmpty(t, fx.db.sysLogs)
	assert.Contains(t, fx.db.sysLogs[0], "INFO:")
}

func TestStopLossRoundTrip(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	require.Equal(t, 1, fx.book.OpenCount())
	pos := fx.book.OpenPositions()[0]

	// 价格跌破止损
	crash := map[string]float64{"BTC/USDT": pos.StopLoss * 0.99, "ETH/USDT": 3000}
	fx.provider.SetPrice("BTC/USDT", pos.StopLoss*0.99)
	fx.book.MarkPrices(crash)

	events := fx.book.CheckExits(crash)
	require.Len(t, events, 1)
	fx.ct.handleExits(events, crash)

	assert.Equal(t, 0, fx.book.OpenCount())
	require.Len(t, fx.book.ClosedPositions(), 1)
	closed := fx.book.ClosedPositions()[0]
	assert.Negative(t, closed.RealizedPnL)

	// 已实现亏损并入组合价值
	assert.Less(t, fx.riskMgr.Snapshot().PortfolioValue, 10000.0)

	// 数据库平仓记录
	trade := fx.db.trades[1]
	assert.Equal(t, "closed", trade.Status)
	require.NotNil(t, trade.ExitPrice)
}

func TestDrawdownBreachClosesAllInCloseAllMode(t *testing.T) {
	fx := newFixture(t, risk.CloseAll)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	sig := buySignal()
	sig.Symbol = "ETH/USDT"
	sig.Price = 3000
	fx.ct.executeSignal(sig, fx.db.traders["t1"], prices)
	require.Equal(t, 2, fx.book.OpenCount())

	// 浮亏超过30%回撤上限，触发熔断并强制清仓
	breached := fx.riskMgr.UpdateMarket(-3500)
	require.True(t, breached)
	assert.True(t, fx.halt.IsTripped())
	assert.Equal(t, 0, fx.book.OpenCount())

	// 审计日志里有熔断记录
	found := false
	for _, l := range fx.db.sysLogs {
		if l == "CRITICAL:紧急停止触发" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHaltOnlyModeKeepsPositions(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	require.Equal(t, 1, fx.book.OpenCount())

	fx.riskMgr.UpdateMarket(-3500)
	assert.True(t, fx.halt.IsTripped())
	// halt_only模式下持仓保留
	assert.Equal(t, 1, fx.book.OpenCount())

	// 熔断状态下新信号被拒
	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	assert.Equal(t, 1, fx.book.OpenCount())
}

func TestCloseManually(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	require.Equal(t, 1, fx.book.OpenCount())

	require.NoError(t, fx.ct.CloseManually("BTC/USDT", signal.SideBuy))
	assert.Equal(t, 0, fx.book.OpenCount())

	// 重复平仓报错
	assert.Error(t, fx.ct.CloseManually("BTC/USDT", signal.SideBuy))
}

func TestRunCycleEndToEnd(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)

	require.NoError(t, fx.ct.runCycle())

	// 每个周期都应落库组合快照
	require.NotEmpty(t, fx.db.snapshots)
	assert.InDelta(t, 10000.0, fx.db.snapshots[0].TotalValue, 1e-6)
}

func TestStaleExitEventsAfterManualClose(t *testing.T) {
	fx := newFixture(t, risk.HaltOnly)
	prices := map[string]float64{"BTC/USDT": 50000, "ETH/USDT": 3000}

	fx.ct.executeSignal(buySignal(), fx.db.traders["t1"], prices)
	require.Equal(t, 1, fx.book.OpenCount())
	pos := fx.book.OpenPositions()[0]

	// 周期检查先生成了止损事件，手动平仓抢先完成
	crash := map[string]float64{"BTC/USDT": pos.StopLoss * 0.99, "ETH/USDT": 3000}
	fx.provider.SetPrice("BTC/USDT", pos.StopLoss*0.99)
	events := fx.book.CheckExits(crash)
	require.Len(t, events, 1)

	require.NoError(t, fx.ct.CloseManually("BTC/USDT", signal.SideBuy))
	require.Equal(t, 0, fx.book.OpenCount())
	perfAfterManual := len(fx.db.perf["t1"])

	// 过期事件认领失败，不会二次发单或二次结算
	fx.ct.handleExits(events, crash)
	assert.Len(t, fx.book.ClosedPositions(), 1)
	assert.Len(t, fx.db.perf["t1"], perfAfterManual)
	assert.Equal(t, "closed", fx.db.trades[1].Status)
}
