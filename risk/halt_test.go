package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmergencyStopTripIsIdempotent(t *testing.T) {
	e := NewEmergencyStop(HaltOnly)

	require.True(t, e.Trip("drawdown"))
	assert.True(t, e.IsTripped())
	assert.Equal(t, "drawdown", e.Reason())

	// 重复Trip不覆盖原因、不产生新事件
	assert.False(t, e.Trip("another"))
	assert.Equal(t, "drawdown", e.Reason())
	assert.Len(t, e.History(), 1)
}

func TestEmergencyStopResetRequiresTripped(t *testing.T) {
	e := NewEmergencyStop(HaltOnly)

	assert.False(t, e.Reset())

	e.Trip("manual")
	assert.True(t, e.Reset())
	assert.False(t, e.IsTripped())
	assert.Empty(t, e.Reason())

	// 历史记录保留
	assert.Len(t, e.History(), 1)
}

func TestEmergencyStopListeners(t *testing.T) {
	e := NewEmergencyStop(CloseAll)

	var got []string
	e.OnTrip(func(reason string) { got = append(got, reason) })

	e.Trip("first")
	e.Trip("ignored")
	require.Equal(t, []string{"first"}, got)

	// 已熔断后注册的监听器立即收到当前原因
	e.OnTrip(func(reason string) { got = append(got, "late:"+reason) })
	assert.Equal(t, []string{"first", "late:first"}, got)
}

func TestEmergencyStopModeDefaults(t *testing.T) {
	assert.Equal(t, CloseAll, NewEmergencyStop(CloseAll).Mode())
	assert.Equal(t, HaltOnly, NewEmergencyStop(HaltOnly).Mode())
	// 非法模式回退到halt_only
	assert.Equal(t, HaltOnly, NewEmergencyStop("bogus").Mode())
}
