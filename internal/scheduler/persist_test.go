package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klend-bot/liquidator/internal/models"
)

func TestPlanQueueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan_queue.json")
	q := NewPlanQueue(path)

	plans := []*models.Plan{
		{Version: models.PlanVersion, Key: "obligation-a", RepayMint: "USDC", AmountUi: 100},
		{Version: models.PlanVersion, Key: "obligation-b", RepayMint: "SOL", AmountUi: 5},
	}
	require.NoError(t, q.Replace(plans))

	loaded, err := q.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Equal(t, "USDC", loaded["obligation-a"].RepayMint)
	assert.Equal(t, 5.0, loaded["obligation-b"].AmountUi)
}

func TestPlanQueueMissingFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	q := NewPlanQueue(path)
	loaded, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPlanQueueRefreshSubsetLeavesOthersUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan_queue.json")
	q := NewPlanQueue(path)

	require.NoError(t, q.Replace([]*models.Plan{
		{Version: models.PlanVersion, Key: "a", AmountUi: 1},
		{Version: models.PlanVersion, Key: "b", AmountUi: 2},
	}))

	require.NoError(t, q.RefreshSubset(map[string]*models.Plan{
		"a": {Version: models.PlanVersion, Key: "a", AmountUi: 99},
	}))

	loaded, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, 99.0, loaded["a"].AmountUi)
	assert.Equal(t, 2.0, loaded["b"].AmountUi)
}

func TestSetupStoreBlockedCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_state.json")
	s := NewSetupStore(path)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkBlocked("key-1", "sim-error", now))

	blocked, reason := s.IsBlocked("key-1", now.Add(30*time.Second))
	assert.True(t, blocked)
	assert.Equal(t, "sim-error", reason)

	blocked, _ = s.IsBlocked("key-1", now.Add(90*time.Second))
	assert.False(t, blocked)
}

func TestSetupStoreAtaCreatedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_state.json")
	s := NewSetupStore(path)

	assert.False(t, s.AtaCreated("USDC"))
	require.NoError(t, s.MarkAtaCreated("USDC"))
	assert.True(t, s.AtaCreated("USDC"))
}
