package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "quantd", cfg.App.Name)
	assert.Equal(t, "rule_based", cfg.Aggregation.Method)
	assert.InDelta(t, 0.60, cfg.Aggregation.MinSignalStrength, 1e-9)
	assert.InDelta(t, 0.10, cfg.Aggregation.MaxPositionSize, 1e-9)

	require.Len(t, cfg.Agents, 6)
	var total float64
	for _, name := range AgentNames {
		agent, ok := cfg.Agents[name]
		require.True(t, ok, "missing agent %s", name)
		assert.True(t, agent.Enabled)
		assert.Equal(t, 30*time.Second, agent.Timeout)
		assert.Equal(t, 2, agent.RetryAttempts)
		assert.Equal(t, 5*time.Minute, agent.CacheTTL)
		total += agent.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-9, "default weights sum to 1")
	assert.InDelta(t, 0.30, cfg.Agents["fundamental"].Weight, 1e-9)

	assert.Equal(t, "sim", cfg.Broker.Mode)
	assert.InDelta(t, 1_000_000, cfg.Broker.InitialCash, 1e-9)
	assert.InDelta(t, 0.0003, cfg.Broker.CommissionRate, 1e-12)
	assert.InDelta(t, 5.0, cfg.Broker.MinCommission, 1e-9)
	assert.InDelta(t, 0.001, cfg.Broker.StampDutyRate, 1e-12)

	assert.Equal(t, 20000, cfg.Risk.MaxDailyOrders)
	assert.Equal(t, 50, cfg.Risk.MaxOrdersPerSecond)

	assert.Equal(t, time.Minute, cfg.Strategy.ScanInterval)
	assert.Equal(t, "Asia/Shanghai", cfg.Strategy.Timezone)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad aggregation method", func(c *Config) { c.Aggregation.Method = "vibes" }},
		{"signal strength above 1", func(c *Config) { c.Aggregation.MinSignalStrength = 1.5 }},
		{"zero position size", func(c *Config) { c.Aggregation.MaxPositionSize = 0 }},
		{"negative weight", func(c *Config) {
			a := c.Agents["technical"]
			a.Weight = -0.1
			c.Agents["technical"] = a
		}},
		{"zero agent timeout", func(c *Config) {
			a := c.Agents["technical"]
			a.Timeout = 0
			c.Agents["technical"] = a
		}},
		{"bad broker mode", func(c *Config) { c.Broker.Mode = "paper" }},
		{"negative cash", func(c *Config) { c.Broker.InitialCash = -1 }},
		{"zero daily orders", func(c *Config) { c.Risk.MaxDailyOrders = 0 }},
		{"zero scan interval", func(c *Config) { c.Strategy.ScanInterval = 0 }},
		{"bad timezone", func(c *Config) { c.Strategy.Timezone = "Mars/Olympus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, valid(t).Validate())
	})
}
