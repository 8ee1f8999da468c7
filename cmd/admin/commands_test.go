package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nero/internal/shared/config"
	"nero/internal/shared/telemetry"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"sweep"},
		{"stale"},
		{"sync"},
		{"logs"},
		{"token"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSyncCommand_RequiresUserAndConnection(t *testing.T) {
	root := newRootCommand()
	sync, _, err := root.Find([]string{"sync"})
	require.NoError(t, err)

	assert.Error(t, sync.Args(sync, []string{"user-1"}))
	assert.NoError(t, sync.Args(sync, []string{"user-1", "conn-1"}))

	notify := sync.Flags().Lookup("notify")
	require.NotNil(t, notify)
	assert.Equal(t, "false", notify.DefValue)
}

func TestMigrateDown_DefaultsToOneStep(t *testing.T) {
	root := newRootCommand()
	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)

	steps := down.Flags().Lookup("steps")
	require.NotNil(t, steps)
	assert.Equal(t, "1", steps.DefValue)
}

func TestTelemetryConfig_OneShotCommand(t *testing.T) {
	cfg := &config.Config{
		OpenFinance: config.OpenFinanceConfig{BaseURL: "https://api.pluggy.ai"},
		Scheduler:   config.SchedulerConfig{Workers: 2},
		Telemetry: config.TelemetryConfig{
			ServiceName:  "nero-api",
			OTLPEndpoint: "tempo:4317",
			MetricsPort:  "9464",
			SampleRatio:  0.5,
		},
	}

	got := telemetryConfig(cfg)

	assert.Equal(t, telemetry.RoleAdmin, got.Role)
	assert.Equal(t, "api.pluggy.ai", got.AggregatorHost)
	assert.Equal(t, 2, got.SyncWorkers)
	assert.Equal(t, "tempo:4317", got.OTLPEndpoint)
	assert.Empty(t, got.MetricsPort, "a one-shot command must not bind the metrics port")
}
