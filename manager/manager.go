package manager

import (
	"fmt"
	"log"
	"sync"

	"echotrade/config"
	"echotrade/ledger"
	"echotrade/risk"
	"echotrade/trader"
)

// Manager 管理跟单交易器的生命周期，供API层启停和查询
type Manager struct {
	cfg     *config.Config
	db      config.DatabaseInterface
	bot     *trader.CopyTrader
	riskMgr *risk.Manager
	book    *ledger.Ledger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New 创建管理器
func New(cfg *config.Config, db config.DatabaseInterface, bot *trader.CopyTrader, riskMgr *risk.Manager, book *ledger.Ledger) *Manager {
	return &Manager{
		cfg:     cfg,
		db:      db,
		bot:     bot,
		riskMgr: riskMgr,
		book:    book,
	}
}

// Start 在后台goroutine中启动跟单主循环
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("系统已在运行中")
	}
	m.running = true
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		if err := m.bot.Run(); err != nil {
			log.Printf("❌ 跟单主循环退出: %v", err)
		}
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	return nil
}

// Stop 停止跟单主循环并等待其退出
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	done := m.done
	m.mu.Unlock()

	m.bot.Stop()
	<-done
}

// IsRunning 返回主循环是否在运行
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Bot 返回底层跟单交易器（手动平仓等直接操作用）
func (m *Manager) Bot() *trader.CopyTrader {
	return m.bot
}

// Risk 返回风控管理器
func (m *Manager) Risk() *risk.Manager {
	return m.riskMgr
}

// Ledger 返回持仓台账
func (m *Manager) Ledger() *ledger.Ledger {
	return m.book
}

// Database 返回数据库接口
func (m *Manager) Database() config.DatabaseInterface {
	return m.db
}

// Config 返回系统配置
func (m *Manager) Config() *config.Config {
	return m.cfg
}
