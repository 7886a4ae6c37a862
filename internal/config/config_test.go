package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/types"
)

func TestDefault_MatchesProductionLine(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 480, cfg.Production.DailyTarget)
	assert.Equal(t, 3, cfg.Production.ShiftsPerDay)
	assert.Equal(t, int64(604800), cfg.Policy.MaintenanceIntervalTicks)
	assert.Equal(t, types.Range{Min: 0.85, Max: 0.95}, cfg.Policy.InitialEfficiency)
	assert.Equal(t, "factory", cfg.MQTT.TopicPrefix)

	p := cfg.StationPolicy()
	assert.Equal(t, types.Range{Min: 300, Max: 1800}, p.RepairDuration)
	assert.Equal(t, 0.05, p.ConditionalPassRate)
}

func TestDefaultStations_FormValidGraph(t *testing.T) {
	specs := DefaultStations()
	require.Len(t, specs, 15)

	g, err := graph.New(specs)
	require.NoError(t, err)
	assert.Equal(t, []types.StationID{StationDoor}, g.Entries())
	assert.Equal(t, []types.StationID{StationWaterLeakTest}, g.Terminals())
	assert.True(t, g.CanReach(StationDoor, StationWaterLeakTest))

	merge, _ := g.Spec(StationChassisMerge)
	assert.Equal(t, 1, merge.BufferCapacity)
	assert.True(t, merge.Critical)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "line.yaml")
	content := `
seed: 7
tick_interval_ms: 0
policy:
  repair_duration: {min: 10, max: 20}
stations:
  - id: S1
    successors: [S2]
    buffer_capacity: 2
    min_cycle_ticks: 1
    max_cycle_ticks: 2
    pass_rate: 1
  - id: S2
    prerequisites: [S1]
    buffer_capacity: 1
    min_cycle_ticks: 1
    max_cycle_ticks: 1
    pass_rate: 0.9
    critical: true
work_orders:
  - kind: priority
    rule: 'vehicle.Model == "PALISADE"'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("LINESIM_HTTP_ADDR", ":9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, types.Range{Min: 10, Max: 20}, cfg.Policy.RepairDuration)
	assert.Equal(t, types.Range{Min: 1800, Max: 7200}, cfg.Policy.MaintenanceDuration, "untouched keys keep defaults")

	specs := cfg.StationSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, []types.StationID{"S1"}, specs[1].Prerequisites)
	assert.True(t, specs[1].Critical)
	require.Len(t, cfg.WorkOrders, 1)
	assert.Equal(t, "priority", cfg.WorkOrders[0].Kind)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero target":          func(c *Config) { c.Production.DailyTarget = 0 },
		"negative ticks":       func(c *Config) { c.MaxTicks = -1 },
		"efficiency above one": func(c *Config) { c.Policy.RepairEfficiency = types.Range{Min: 0.9, Max: 1.2} },
		"inverted duration":    func(c *Config) { c.Policy.RepairDuration = types.Range{Min: 10, Max: 5} },
		"probability":          func(c *Config) { c.Policy.MaintenanceChance = 2 },
		"qos":                  func(c *Config) { c.MQTT.QoS = 3 },
		"forward without url": func(c *Config) {
			c.Forward.Enabled = true
			c.Forward.BaseURL = ""
		},
		"supply chance": func(c *Config) {
			c.Supply.Enabled = true
			c.Supply.ShortageChance = -0.1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
