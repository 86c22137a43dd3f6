package internal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
	"github.com/koopa0/system-design/14-duo-lobby/internal/testutils"
)

// TestSweeper_RunOnce 測試手動清理
func TestSweeper_RunOnce(t *testing.T) {
	clock := testutils.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	registry, _ := newTestRegistry(t, internal.WithClock(clock.Now))
	sweeper := internal.NewSweeper(registry, time.Minute, 30*time.Minute, testLogger())

	code := createRoom(t, registry)
	registry.Disconnect("c1")

	clock.Advance(29 * time.Minute)
	assert.Empty(t, sweeper.RunOnce())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, []string{code}, sweeper.RunOnce())
	assert.Equal(t, 0, registry.Len())
}

// TestSweeper_Loop 測試定期清理
func TestSweeper_Loop(t *testing.T) {
	clock := testutils.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	registry, _ := newTestRegistry(t, internal.WithClock(clock.Now))

	createRoom(t, registry)
	registry.Disconnect("c1")
	clock.Advance(time.Hour)

	sweeper := internal.NewSweeper(registry, 10*time.Millisecond, 30*time.Minute, testLogger())
	sweeper.Start()
	defer sweeper.Stop()

	testutils.WaitForCondition(t, func() bool { return registry.Len() == 0 }, time.Second, "abandoned room swept")
}

// TestSweeper_Disabled idleFor 為 0 時不清理
func TestSweeper_Disabled(t *testing.T) {
	registry, _ := newTestRegistry(t)
	createRoom(t, registry)
	registry.Disconnect("c1")

	sweeper := internal.NewSweeper(registry, 10*time.Millisecond, 0, testLogger())
	sweeper.Start()
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop()

	require.Equal(t, 1, registry.Len())
}
