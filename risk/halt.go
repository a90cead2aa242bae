package risk

import (
	"log"
	"sync"
	"time"
)

// HaltMode 熔断模式
type HaltMode string

const (
	// HaltOnly 仅停止新开仓，已有持仓保留
	HaltOnly HaltMode = "halt_only"
	// CloseAll 停止新开仓并强制平掉所有持仓
	CloseAll HaltMode = "close_all"
)

// HaltEvent 熔断事件记录
type HaltEvent struct {
	Reason    string    `json:"reason"`
	TrippedAt time.Time `json:"tripped_at"`
}

// EmergencyStop 进程级紧急停止开关
// Trip幂等，所有组件在下一个周期立即可见
type EmergencyStop struct {
	mu        sync.RWMutex
	tripped   bool
	mode      HaltMode
	reason    string
	trippedAt time.Time
	history   []HaltEvent
	listeners []func(reason string)
}

// NewEmergencyStop 创建紧急停止开关
func NewEmergencyStop(mode HaltMode) *EmergencyStop {
	if mode != CloseAll {
		mode = HaltOnly
	}
	return &EmergencyStop{mode: mode}
}

// OnTrip 注册熔断回调（通知等用途），已熔断时立即触发
func (e *EmergencyStop) OnTrip(fn func(reason string)) {
	e.mu.Lock()
	tripped, reason := e.tripped, e.reason
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()

	if tripped {
		fn(reason)
	}
}

// Trip 触发熔断（幂等）
// 返回 true 表示本次调用真正触发了状态切换
func (e *EmergencyStop) Trip(reason string) bool {
	e.mu.Lock()
	if e.tripped {
		e.mu.Unlock()
		return false
	}
	e.tripped = true
	e.reason = reason
	e.trippedAt = time.Now()
	e.history = append(e.history, HaltEvent{Reason: reason, TrippedAt: e.trippedAt})
	listeners := make([]func(string), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	log.Printf("🛑 触发紧急停止: %s (模式: %s)", reason, e.mode)
	for _, fn := range listeners {
		fn(reason)
	}
	return true
}

// Reset 解除熔断（幂等，仅允许人工操作调用）
func (e *EmergencyStop) Reset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tripped {
		return false
	}
	e.tripped = false
	e.reason = ""
	log.Println("🟢 紧急停止已解除")
	return true
}

// IsTripped 当前是否处于熔断状态
func (e *EmergencyStop) IsTripped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tripped
}

// Mode 熔断模式
func (e *EmergencyStop) Mode() HaltMode {
	return e.mode
}

// Reason 当前熔断原因（未熔断时为空）
func (e *EmergencyStop) Reason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reason
}

// History 历史熔断事件
func (e *EmergencyStop) History() []HaltEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]HaltEvent, len(e.history))
	copy(out, e.history)
	return out
}
