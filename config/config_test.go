package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 0.1, c.Learning.Alpha)
	assert.Equal(t, 0.9, c.Learning.Gamma)
	assert.Equal(t, 0.1, c.Learning.Epsilon)
	assert.Equal(t, time.Second, c.Learning.DecisionInterval.Std())
	assert.Equal(t, 4, c.Learning.QueueCap)
	assert.Equal(t, 20.0, c.Sensor.MaxQueueDistance)
	assert.Equal(t, 2.0, c.Sensor.LaneHalfWidth)
	assert.Equal(t, "traffic_qtable.json", c.Persistence.Path())
	assert.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	content := `
learning:
  alpha: 0.2
  epsilon: 0.05
  decision_interval: 500ms
  queue_cap: 6
persistence:
  backend: badger
  dir: /var/lib/traffic
  file_name: qtable.db
sensor:
  stop_lines:
    N: {x: -1.5, z: 10}
simulation:
  direction_weights: [2, 1, 1, 1]
`
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 0.2, c.Learning.Alpha)
	assert.Equal(t, 0.9, c.Learning.Gamma)
	assert.Equal(t, 0.05, c.Learning.Epsilon)
	assert.Equal(t, 500*time.Millisecond, c.Learning.DecisionInterval.Std())
	assert.Equal(t, 6, c.Learning.QueueCap)
	assert.Equal(t, BackendBadger, c.Persistence.Backend)
	assert.Equal(t, "/var/lib/traffic/qtable.db", c.Persistence.Path())
	assert.Equal(t, map[string]Point{"N": {X: -1.5, Z: 10}}, c.Sensor.StopLines)
	assert.Equal(t, []float64{2, 1, 1, 1}, c.Simulation.DirectionWeights)
	assert.Equal(t, 20.0, c.Sensor.MaxQueueDistance)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("learning:\n  gamma: 0.5\n"), 0644))
	t.Setenv("TRAFFIC_GAMMA", "0.8")
	t.Setenv("TRAFFIC_DECISION_INTERVAL", "2.5")
	t.Setenv("TRAFFIC_SAVE_TO_FILE", "false")
	t.Setenv("TRAFFIC_SEED", "17")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 0.8, c.Learning.Gamma)
	assert.Equal(t, 2500*time.Millisecond, c.Learning.DecisionInterval.Std())
	assert.False(t, c.Persistence.SaveToFile)
	assert.Equal(t, uint64(17), c.Learning.Seed)
}

func TestDecisionIntervalInSeconds(t *testing.T) {
	cases := map[string]struct {
		file string
		want time.Duration
	}{
		"yaml int":      {"c.yaml", time.Second},
		"yaml float":    {"c.yaml", 1500 * time.Millisecond},
		"yaml duration": {"c.yaml", 250 * time.Millisecond},
		"json int":      {"c.json", time.Second},
		"json float":    {"c.json", 1500 * time.Millisecond},
		"json duration": {"c.json", 250 * time.Millisecond},
	}
	contents := map[string]string{
		"yaml int":      "learning:\n  decision_interval: 1\n",
		"yaml float":    "learning:\n  decision_interval: 1.5\n",
		"yaml duration": "learning:\n  decision_interval: 250ms\n",
		"json int":      `{"learning": {"decision_interval": 1}}`,
		"json float":    `{"learning": {"decision_interval": 1.5}}`,
		"json duration": `{"learning": {"decision_interval": "250ms"}}`,
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), tc.file)
			require.NoError(t, os.WriteFile(p, []byte(contents[name]), 0644))
			c, err := Load(p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Learning.DecisionInterval.Std())
		})
	}
}

func TestDurationJSON(t *testing.T) {
	d := Duration(0)
	require.NoError(t, json.Unmarshal([]byte("2"), &d))
	assert.Equal(t, 2*time.Second, d.Std())
	require.NoError(t, json.Unmarshal([]byte(`"0.25"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.Std())
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	bs, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(bs))
}

func TestDecisionIntervalRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("learning:\n  decision_interval: soon\n"), 0644))
	_, err := Load(p)
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("learning: [unclosed"), 0644))
	_, err := Load(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"alpha zero":     func(c *Config) { c.Learning.Alpha = 0 },
		"alpha above 1":  func(c *Config) { c.Learning.Alpha = 1.5 },
		"gamma negative": func(c *Config) { c.Learning.Gamma = -0.1 },
		"epsilon":        func(c *Config) { c.Learning.Epsilon = 2 },
		"interval":       func(c *Config) { c.Learning.DecisionInterval = 0 },
		"queue cap":      func(c *Config) { c.Learning.QueueCap = -1 },
		"geometry":       func(c *Config) { c.Sensor.LaneHalfWidth = -1 },
		"backend":        func(c *Config) { c.Persistence.Backend = "s3" },
		"file name":      func(c *Config) { c.Persistence.FileName = "" },
		"weights length": func(c *Config) { c.Simulation.DirectionWeights = []float64{1, 1} },
		"weights sign":   func(c *Config) { c.Simulation.DirectionWeights = []float64{1, -1, 1, 1} },
		"stop line":      func(c *Config) { c.Sensor.StopLines = map[string]Point{"NE": {}} },
		"speed":          func(c *Config) { c.Simulation.Speed = 0 },
		"log level":      func(c *Config) { c.Log.Level = "verbose" },
		"server addr":    func(c *Config) { c.Server.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Learning.Alpha = 1
	c.Learning.Gamma = 0
	assert.NoError(t, c.Validate())
}
