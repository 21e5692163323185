package presubmit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klend-bot/liquidator/internal/models"
)

func TestGetOrBuildCachesFreshEntry(t *testing.T) {
	c := New(60*time.Second, 2*time.Second)
	now := time.Now()
	builds := 0
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		builds++
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}

	e1, err := c.GetOrBuild("obl-1", "bh-1", now, build)
	require.NoError(t, err)
	assert.Equal(t, "bh-1", e1.Blockhash)

	e2, err := c.GetOrBuild("obl-1", "bh-1", now.Add(time.Second), build)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, builds)
}

func TestGetOrBuildRebuildsOnBlockhashChange(t *testing.T) {
	c := New(60*time.Second, 0)
	now := time.Now()
	builds := 0
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		builds++
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}

	_, err := c.GetOrBuild("obl-1", "bh-1", now, build)
	require.NoError(t, err)
	// New treats a zero throttle as DefaultRefreshThrottle, so the second
	// call comes once that window has passed (still well inside the TTL).
	_, err = c.GetOrBuild("obl-1", "bh-2", now.Add(DefaultRefreshThrottle), build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestGetOrBuildThrottlesRepeatedFailedRebuild(t *testing.T) {
	c := New(time.Millisecond, 10*time.Second)
	now := time.Now()
	attempts := 0
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		attempts++
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}

	_, err := c.GetOrBuild("obl-1", "bh-1", now, build)
	require.NoError(t, err)

	// Entry goes stale (TTL elapsed) but blockhash unchanged; within the
	// refresh throttle window a second call should not trigger a rebuild.
	_, err = c.GetOrBuild("obl-1", "bh-1", now.Add(5*time.Second), build)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestEvictStaleRemovesMismatchedBlockhash(t *testing.T) {
	c := New(60*time.Second, 0)
	now := time.Now()
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}
	_, err := c.GetOrBuild("obl-1", "bh-old", now, build)
	require.NoError(t, err)

	evicted := c.EvictStale("bh-new")
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, c.Len())
}

func TestPrebuildTopKCapsToAvailableAddresses(t *testing.T) {
	c := New(60*time.Second, 0)
	now := time.Now()
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}
	errs := c.PrebuildTopK([]string{"a", "b"}, 5, "bh", now, build)
	assert.Empty(t, errs)
	assert.Equal(t, 2, c.Len())
}

func TestPrebuildTopKCollectsPerKeyErrors(t *testing.T) {
	c := New(60*time.Second, 0)
	now := time.Now()
	build := func(addr, blockhash string) (*models.PresubmitEntry, error) {
		if addr == "bad" {
			return nil, fmt.Errorf("build failed")
		}
		return &models.PresubmitEntry{ObligationAddress: addr, Blockhash: blockhash, BuiltAt: now}, nil
	}
	errs := c.PrebuildTopK([]string{"good", "bad"}, 2, "bh", now, build)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs, "bad")
}
