package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTelegramNotifierRequiresConfig(t *testing.T) {
	_, err := NewTelegramNotifier("", 0)
	assert.Error(t, err)

	_, err = NewTelegramNotifier("token-only", 0)
	assert.Error(t, err)
}

func TestNopNotifierIsSafeToCall(t *testing.T) {
	var n Notifier = NopNotifier{}

	// 未配置通知渠道时的空实现：调用不产生任何副作用
	n.Notify("忽略")
	n.NotifyHalt("忽略")
	n.NotifyTrade("open", "BTC/USDT", "buy", 0.01, 50000, 0)
}
