package service

import (
	"context"
	"testing"

	"github.com/dushixiang/strata/internal/models"
	"github.com/stretchr/testify/require"
)

const paramCode = `
// @param enabled bool true
// @param count int 3
// @param slippage bps 100
// @param ratio number 0.5
// @param amount eth 0.001
// @param allocation percent 25
// @param mode enum fast fast|slow
// @param label string hello
function main(bot) {}
`

func setupParamStrategy(t *testing.T, params string) (*ParamService, *models.Strategy) {
	t.Helper()
	db := setupDB(t)
	svc := NewParamService(db, testLogger())
	strategy := &models.Strategy{
		ID:       "strategy-params",
		Name:     "params",
		Exchange: "test",
		Code:     paramCode,
		Params:   params,
		Status:   models.StrategyStatusDraft,
	}
	require.NoError(t, db.Create(strategy).Error)
	return svc, strategy
}

func TestReconcileValidValuesPassThrough(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{
		"enabled": false,
		"count": 7,
		"slippage": 250,
		"ratio": 0.8,
		"amount": 0.005,
		"allocation": 50,
		"mode": "slow",
		"label": "world"
	}`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, false, result.Params["enabled"])
	require.Equal(t, 7, result.Params["count"])
	require.Equal(t, 250, result.Params["slippage"])
	require.Equal(t, 0.8, result.Params["ratio"])
	require.Equal(t, 0.005, result.Params["amount"])
	require.Equal(t, 50.0, result.Params["allocation"])
	require.Equal(t, "slow", result.Params["mode"])
	require.Equal(t, "world", result.Params["label"])
}

func TestReconcileMissingKeysGetDefaults(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{}`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, true, result.Params["enabled"])
	require.Equal(t, 3, result.Params["count"])
	require.Equal(t, 100, result.Params["slippage"])
	require.Equal(t, 0.5, result.Params["ratio"])
	require.Equal(t, 0.001, result.Params["amount"])
	require.Equal(t, 25.0, result.Params["allocation"])
	require.Equal(t, "fast", result.Params["mode"])
	require.Equal(t, "hello", result.Params["label"])
}

func TestReconcileBadValuesResetToDefault(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{
		"count": "not-a-number",
		"mode": "warp"
	}`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.ElementsMatch(t, []string{"count", "mode"}, result.Fixed)
	require.Equal(t, 3, result.Params["count"])
	require.Equal(t, "fast", result.Params["mode"])
}

func TestReconcileClampsBpsAndPercent(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{
		"slippage": 9000,
		"allocation": 120
	}`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.Equal(t, 5000, result.Params["slippage"])
	require.Equal(t, 100.0, result.Params["allocation"])
}

func TestReconcileDropsUndeclaredKeys(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{"count": 5, "ghost": 1}`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, []string{"ghost"}, result.Extra)
	require.NotContains(t, result.Params, "ghost")
}

func TestReconcileUnreadableParamsRebuiltFromDefaults(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{broken json`)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, 3, result.Params["count"])
}

func TestReconcileIdempotent(t *testing.T) {
	svc, strategy := setupParamStrategy(t, `{"count": "bad", "ghost": 1}`)
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, strategy)
	require.NoError(t, err)
	require.True(t, first.Changed)

	// 第一次修复后参数已回写，再次校对不应有任何变化
	second, err := svc.Reconcile(ctx, strategy)
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Empty(t, second.Fixed)
	require.Empty(t, second.Extra)
	require.Equal(t, first.Params["count"], second.Params["count"])
}

func TestReconcileSchemaLessPassThrough(t *testing.T) {
	db := setupDB(t)
	svc := NewParamService(db, testLogger())
	strategy := &models.Strategy{
		ID:       "strategy-free",
		Name:     "free",
		Exchange: "test",
		Code:     "function main(bot) {}",
		Params:   `{"anything": "goes", "n": 42}`,
		Status:   models.StrategyStatusDraft,
	}
	require.NoError(t, db.Create(strategy).Error)

	result, err := svc.Reconcile(context.Background(), strategy)
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, "goes", result.Params["anything"])
	require.Equal(t, float64(42), result.Params["n"])
}
