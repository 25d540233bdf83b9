package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelconsole/pkg/types"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestStatsEmpty(t *testing.T) {
	l := openTestLedger(t)
	stats, err := l.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalOperations)
	assert.Zero(t, stats.TotalPromptTokens)
	assert.Zero(t, stats.TotalCompletionTokens)
	assert.Zero(t, stats.TotalDuration)
	assert.NotNil(t, stats.OperationsByType)
	assert.Empty(t, stats.OperationsByType)
}

func TestStatsAggregatesPerModel(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	for _, r := range []types.UsageRecord{
		{ModelName: "m", Operation: types.OpGenerate, PromptTokens: 3, CompletionTokens: 10, DurationSeconds: 1.5},
		{ModelName: "m", Operation: types.OpStop, PromptTokens: 5, DurationSeconds: 0.25},
		{ModelName: "m", Operation: types.OpPull, PromptTokens: 11, DurationSeconds: 30},
		{ModelName: "other", Operation: types.OpPull, PromptTokens: 100, CompletionTokens: 100, DurationSeconds: 2},
	} {
		_, err := l.Log(ctx, r)
		require.NoError(t, err)
	}

	stats, err := l.Stats(ctx, "m")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalOperations)
	assert.EqualValues(t, 3+5+11, stats.TotalPromptTokens)
	assert.EqualValues(t, 10, stats.TotalCompletionTokens)
	assert.InDelta(t, 31.75, stats.TotalDuration, 1e-9)
	assert.Equal(t, map[string]int64{"generate": 1, "stop": 1, "pull": 1}, stats.OperationsByType)

	all, err := l.Stats(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.TotalOperations)
	assert.EqualValues(t, 119, all.TotalPromptTokens)
	assert.EqualValues(t, 2, all.OperationsByType["pull"])

	none, err := l.Stats(ctx, "absent")
	require.NoError(t, err)
	assert.Zero(t, none.TotalOperations)
}

func TestLogDefaultsAndValidation(t *testing.T) {
	l := openTestLedger(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, err := l.Log(ctx, types.UsageRecord{ModelName: "  "})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	rec, err := l.Log(ctx, types.UsageRecord{ModelName: "m", Operation: "chat"})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, types.OpOther, rec.Operation)
	assert.True(t, rec.Timestamp.Equal(fixed))

	recent, err := l.Recent(ctx, "m", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, rec.ID, recent[0].ID)
	assert.True(t, recent[0].Timestamp.Equal(fixed))
}

func TestRecentOrdering(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.Log(ctx, types.UsageRecord{ModelName: "m", Operation: types.OpPull, DurationSeconds: float64(i)})
		require.NoError(t, err)
	}
	recent, err := l.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 4.0, recent[0].DurationSeconds)
	assert.Equal(t, 3.0, recent[1].DurationSeconds)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()
	l, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = l.Log(ctx, types.UsageRecord{ModelName: "m", Operation: types.OpStop})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(ctx, path)
	require.NoError(t, err)
	defer l2.Close()
	stats, err := l2.Stats(ctx, "m")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalOperations)
}
