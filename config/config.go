// Package config holds the controller settings.
//
// Values are resolved with priority env > file > defaults. A missing file
// is not an error.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config is the top-level configuration.
type Config struct {
	Learning    LearningConfig    `json:"learning" yaml:"learning"`
	Sensor      SensorConfig      `json:"sensor" yaml:"sensor"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Simulation  SimulationConfig  `json:"simulation" yaml:"simulation"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// LearningConfig contains the Q-learning hyperparameters and the decision cadence.
type LearningConfig struct {
	Alpha            float64  `json:"alpha" yaml:"alpha" validate:"gt=0,lte=1"`
	Gamma            float64  `json:"gamma" yaml:"gamma" validate:"gte=0,lte=1"`
	Epsilon          float64  `json:"epsilon" yaml:"epsilon" validate:"gte=0,lte=1"`
	DecisionInterval Duration `json:"decision_interval" yaml:"decision_interval" validate:"gt=0"`
	QueueCap         int      `json:"queue_cap" yaml:"queue_cap" validate:"gte=0"`
	// Seed for exploration, 0 seeds from the clock
	Seed uint64 `json:"seed" yaml:"seed"`
}

// SensorConfig is the queue region geometry.
type SensorConfig struct {
	MaxQueueDistance float64 `json:"max_queue_distance" yaml:"max_queue_distance" validate:"gte=0"`
	LaneHalfWidth    float64 `json:"lane_half_width" yaml:"lane_half_width" validate:"gte=0"`
	// StopLines by approach name (N, S, E, W). Empty uses the layout of the
	// built-in simulator.
	StopLines map[string]Point `json:"stop_lines" yaml:"stop_lines" validate:"dive,keys,oneof=N S E W,endkeys"`
}

// Duration reads either a Go duration string ("500ms") or a bare number of
// seconds (1, 0.5).
type Duration time.Duration

// ParseDuration parses a Go duration string or a plain number of seconds.
func ParseDuration(s string) (Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return Duration(d), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: expected seconds or a duration like 500ms", s)
	}
	return seconds(f), nil
}

func seconds(f float64) Duration {
	return Duration(f * float64(time.Second))
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseDuration(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid duration %s: expected seconds or a duration string", data)
	}
	*d = seconds(f)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Point on the ground plane
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Z float64 `json:"z" yaml:"z"`
}

type PersistenceConfig struct {
	LoadFromFile bool   `json:"load_from_file" yaml:"load_from_file"`
	SaveToFile   bool   `json:"save_to_file" yaml:"save_to_file"`
	Backend      string `json:"backend" yaml:"backend" validate:"oneof=file badger"`
	Dir          string `json:"dir" yaml:"dir"`
	FileName     string `json:"file_name" yaml:"file_name"`
}

// Path of the table file (or badger directory).
func (p PersistenceConfig) Path() string {
	if p.Dir == "" {
		return p.FileName
	}
	return filepath.Join(p.Dir, p.FileName)
}

type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

type RedisConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Key     string `json:"key" yaml:"key"`
	Channel string `json:"channel" yaml:"channel"`
}

type SimulationConfig struct {
	SpawnRate    float64 `json:"spawn_rate" yaml:"spawn_rate" validate:"gte=0"`
	Speed        float64 `json:"speed" yaml:"speed" validate:"gt=0"`
	SafeDistance float64 `json:"safe_distance" yaml:"safe_distance" validate:"gte=0"`
	FrameRate    int     `json:"frame_rate" yaml:"frame_rate" validate:"gt=0"`
	// DirectionWeights in the order N->S, S->N, W->E, E->W; empty is uniform
	DirectionWeights []float64 `json:"direction_weights" yaml:"direction_weights" validate:"omitempty,len=4,dive,gte=0"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Learning: LearningConfig{
			Alpha:            0.1,
			Gamma:            0.9,
			Epsilon:          0.1,
			DecisionInterval: Duration(time.Second),
			QueueCap:         4,
		},
		Sensor: SensorConfig{
			MaxQueueDistance: 20,
			LaneHalfWidth:    2,
		},
		Persistence: PersistenceConfig{
			LoadFromFile: true,
			SaveToFile:   true,
			Backend:      BackendFile,
			FileName:     "traffic_qtable.json",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "localhost:7070",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
			Key:     "traffic:signal",
			Channel: "traffic:signal:updates",
		},
		Simulation: SimulationConfig{
			SpawnRate:    0.4,
			Speed:        3,
			SafeDistance: 3,
			FrameRate:    50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the configuration.
//
// Inputs:
//   - configPath: YAML (or JSON) file, may be empty.
//
// Outputs:
//   - Config: merged configuration.
//   - error: non-nil if the file exists but is invalid, or the result fails validation.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func loadConfigFromEnv(config *Config) {
	envFloat("TRAFFIC_ALPHA", &config.Learning.Alpha)
	envFloat("TRAFFIC_GAMMA", &config.Learning.Gamma)
	envFloat("TRAFFIC_EPSILON", &config.Learning.Epsilon)
	if v := os.Getenv("TRAFFIC_DECISION_INTERVAL"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			config.Learning.DecisionInterval = d
		}
	}
	if v := os.Getenv("TRAFFIC_QUEUE_CAP"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Learning.QueueCap = i
		}
	}
	if v := os.Getenv("TRAFFIC_SEED"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Learning.Seed = i
		}
	}

	envFloat("TRAFFIC_MAX_QUEUE_DISTANCE", &config.Sensor.MaxQueueDistance)
	envFloat("TRAFFIC_LANE_HALF_WIDTH", &config.Sensor.LaneHalfWidth)

	envBool("TRAFFIC_LOAD_FROM_FILE", &config.Persistence.LoadFromFile)
	envBool("TRAFFIC_SAVE_TO_FILE", &config.Persistence.SaveToFile)
	envString("TRAFFIC_STORE_BACKEND", &config.Persistence.Backend)
	envString("TRAFFIC_STORE_DIR", &config.Persistence.Dir)
	envString("TRAFFIC_QTABLE_FILE", &config.Persistence.FileName)

	envBool("TRAFFIC_SERVER_ENABLED", &config.Server.Enabled)
	envString("TRAFFIC_SERVER_ADDR", &config.Server.Addr)

	envBool("TRAFFIC_REDIS_ENABLED", &config.Redis.Enabled)
	envString("TRAFFIC_REDIS_ADDR", &config.Redis.Addr)

	envString("TRAFFIC_LOG_LEVEL", &config.Log.Level)
	envString("TRAFFIC_LOG_FORMAT", &config.Log.Format)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Persistence.FileName == "" && (c.Persistence.LoadFromFile || c.Persistence.SaveToFile) {
		return fmt.Errorf("file_name must be set when persistence is enabled")
	}
	return nil
}
