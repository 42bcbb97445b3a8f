package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"socialpredict-amm/config"
	"socialpredict-amm/database/dbtest"
	"socialpredict-amm/models"
)

func TestCommandsEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := &app{cfg: config.Default(), db: dbtest.Open(t), log: zaptest.NewLogger(t)}

	steps := [][]string{
		{"migrate"},
		{"open", "-title", "Will the ferry run on Sunday?", "-liquidity", "50"},
		{"account", "-username", "alice"},
		{"deposit", "-account", "1", "-amount", "100", "-key", "d1"},
		{"state", "-market", "1"},
		{"simulate", "-market", "1", "-outcome", "yes", "-amount", "5"},
		{"buy", "-account", "1", "-market", "1", "-outcome", "yes", "-amount", "5", "-key", "b1"},
		{"buy", "-account", "1", "-market", "1", "-outcome", "yes", "-amount", "5", "-key", "b1"},
		{"sell", "-account", "1", "-market", "1", "-outcome", "yes", "-shares", "1.5", "-key", "s1"},
		{"resolve", "-market", "1", "-outcome", "YES"},
		{"payout", "-market", "1"},
		{"reconcile"},
		{"reconcile", "-account", "1"},
	}
	for _, step := range steps {
		require.NoError(t, a.run(ctx, step[0], step[1:]), "%v", step)
	}

	var trades int64
	require.NoError(t, a.db.Model(&models.Trade{}).Count(&trades).Error)
	assert.Equal(t, int64(2), trades)

	var m models.Market
	require.NoError(t, a.db.First(&m, 1).Error)
	assert.True(t, m.IsResolved)
	assert.Equal(t, 50*models.Scale, m.LiquidityMicros)

	assert.Error(t, a.run(ctx, "frobnicate", nil))
	assert.Error(t, a.run(ctx, "buy", []string{"-account", "1", "-market", "1", "-amount", "x"}))
}
