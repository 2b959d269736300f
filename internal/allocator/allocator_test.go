package allocator

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestAllocator(t *testing.T, equity string) *Allocator {
	t.Helper()
	a, err := New(d(equity))
	require.NoError(t, err)
	return a
}

func TestNew_BucketAmounts(t *testing.T) {
	a := newTestAllocator(t, "5000")
	state := a.GetState()

	assert.True(t, state.CoreBot.Equal(d("3050")), "core %s", state.CoreBot)
	assert.True(t, state.Reserve.Equal(d("1200")), "reserve %s", state.Reserve)
	assert.True(t, state.Experiments.Equal(d("750")), "experiments %s", state.Experiments)
}

func TestNew_AmountsRoundDownToCents(t *testing.T) {
	// 1234.56 * 0.61 = 753.0816, which must floor to 753.08.
	a := newTestAllocator(t, "1234.56")
	assert.Equal(t, "753.08", a.GetState().CoreBot.StringFixed(2))
}

func TestNewWithAllocations_RejectsBadSplit(t *testing.T) {
	_, err := NewWithAllocations(d("1000"), map[Bucket]decimal.Decimal{
		BucketCoreBot: d("0.5"),
		BucketReserve: d("0.4"),
	}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1.0")
}

func TestCanDeploy(t *testing.T) {
	t.Run("reserve is never directly deployable", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.CanDeploy(BucketReserve, d("100"))
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "drawdown recovery only")
	})

	t.Run("insufficient funds", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.CanDeploy(BucketCoreBot, d("4000"))
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "Insufficient")
	})

	t.Run("approval without warnings", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.CanDeploy(BucketCoreBot, d("1000"))
		assert.True(t, check.Allowed)
		assert.Empty(t, check.Warnings)
	})

	t.Run("thin grid remainder warns", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		// 3050 core; deploying 2700 leaves 350 < 400
		check := a.CanDeploy(BucketCoreBot, d("2700"))
		require.True(t, check.Allowed)
		require.Len(t, check.Warnings, 1)
		assert.Contains(t, check.Warnings[0], "thin grids")
	})

	t.Run("sub-minimum core position warns", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.CanDeploy(BucketCoreBot, d("300"))
		require.True(t, check.Allowed)
		require.Len(t, check.Warnings, 1)
		assert.Contains(t, check.Warnings[0], "below minimum recommended position")
	})

	t.Run("experiments bucket has no grid warnings", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.CanDeploy(BucketExperiments, d("100"))
		assert.True(t, check.Allowed)
		assert.Empty(t, check.Warnings)
	})
}

func TestDeployAndRelease(t *testing.T) {
	a := newTestAllocator(t, "5000")

	require.True(t, a.Deploy(BucketCoreBot, d("1000"), false))
	assert.True(t, a.Available(BucketCoreBot).Equal(d("2050")))

	// Disallowed deployments do not mutate state.
	assert.False(t, a.Deploy(BucketCoreBot, d("9999"), false))
	assert.True(t, a.Available(BucketCoreBot).Equal(d("2050")))

	// force bypasses the check.
	assert.True(t, a.Deploy(BucketCoreBot, d("9999"), true))

	a.Release(BucketCoreBot, d("9999"))
	assert.True(t, a.Available(BucketCoreBot).Equal(d("2050")))

	// Releasing more than deployed clamps at zero.
	a.Release(BucketCoreBot, d("5000"))
	assert.True(t, a.Available(BucketCoreBot).Equal(d("3050")))
}

func TestUseReserve(t *testing.T) {
	t.Run("denied below drawdown threshold", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		check := a.UseReserve(d("500"), "losses")
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "below 15% threshold")
	})

	t.Run("approved after deep drawdown", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		// Equity drops 20%; core shrinks proportionally.
		a.UpdateEquity(d("4000"))
		check := a.UseReserve(d("500"), "drawdown recovery")
		require.True(t, check.Allowed)
		assert.Contains(t, check.Message, "drawdown recovery")
	})

	t.Run("approved but insufficient reserve", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		a.UpdateEquity(d("4000"))
		check := a.UseReserve(d("99999"), "too much")
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "Insufficient reserve")
	})

	t.Run("equity growth never unlocks the reserve", func(t *testing.T) {
		a := newTestAllocator(t, "5000")
		a.UpdateEquity(d("6000"))
		check := a.UseReserve(d("100"), "fomo")
		assert.False(t, check.Allowed)
	})
}

func TestStatePersistence(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "allocator.json")

	a, err := NewWithAllocations(d("5000"), DefaultAllocations(), statePath)
	require.NoError(t, err)
	require.True(t, a.Deploy(BucketCoreBot, d("1200"), false))
	require.True(t, a.Deploy(BucketExperiments, d("250"), false))

	restored, err := NewWithAllocations(d("5000"), DefaultAllocations(), statePath)
	require.NoError(t, err)
	require.NoError(t, restored.LoadState())

	assert.True(t, restored.Available(BucketCoreBot).Equal(d("1850")))
	assert.True(t, restored.Available(BucketExperiments).Equal(d("500")))

	state := restored.GetState()
	assert.True(t, state.CoreBotDeployed.Equal(d("1200")))
	assert.True(t, state.ExperimentsDeployed.Equal(d("250")))
}

func TestLoadState_MissingFileIsFine(t *testing.T) {
	a, err := NewWithAllocations(d("5000"), DefaultAllocations(), filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.NoError(t, a.LoadState())
}

func TestSummary(t *testing.T) {
	a := newTestAllocator(t, "5000")
	require.True(t, a.Deploy(BucketCoreBot, d("1000"), false))

	summary := a.Summary()
	assert.Contains(t, summary, "Total Equity: $5000.00")
	assert.Contains(t, summary, "CORE_BOT (61%)")
	assert.Contains(t, summary, "RESERVE (24%)")
	assert.Contains(t, summary, "EXPERIMENTS (15%)")
	assert.Contains(t, summary, "Deployed:  $1000.00")
}
