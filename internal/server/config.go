package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/createlink/internal/logging"
	"github.com/shaunagostinho/createlink/internal/recorder"
	"github.com/shaunagostinho/createlink/internal/sensor"
)

// DefaultConfigPath is where LoadConfig and Save look when no path is given.
const DefaultConfigPath = "/etc/createlink/config.yaml"

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	// Robot link
	Robot RobotConfig `yaml:"robot" json:"robot"`

	// Requested sensor stream
	Stream StreamConfig `yaml:"stream" json:"stream"`

	// How stream values fold into the sensor table
	Accumulator AccumulatorConfig `yaml:"accumulator" json:"accumulator"`

	Logging   logging.Config  `yaml:"logging" json:"logging"`
	Recording recorder.Config `yaml:"recording" json:"recording"`
	Server    ServerConfig    `yaml:"server" json:"server"`

	path string // file path for save/load
}

type RobotConfig struct {
	Type          string     `yaml:"type" json:"type"`          // "serial" or "demo"
	PortPath      string     `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate      int        `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int        `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	Demo          DemoConfig `yaml:"demo" json:"demo"`
}

// DemoConfig tunes the simulated robot.
type DemoConfig struct {
	PeriodMs     int `yaml:"period_ms" json:"periodMs"`
	CorruptEvery int `yaml:"corrupt_every" json:"corruptEvery"` // 0 disables
	NoiseEvery   int `yaml:"noise_every" json:"noiseEvery"`     // 0 disables
}

type StreamConfig struct {
	// Packets are field names (or decimal ids) in stream order.
	Packets []string `yaml:"packets" json:"packets"`
	// Initialize sends the wake up sequence before streaming.
	Initialize bool `yaml:"initialize" json:"initialize"`
}

type AccumulatorConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	// Strategies maps a field name (or decimal id) to "replace" or "sum".
	Strategies map[string]string `yaml:"strategies" json:"strategies"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" json:"listenAddr"`
	BroadcastHz int    `yaml:"broadcast_hz" json:"broadcastHz"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Robot: RobotConfig{
			Type:          "demo",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      57600,
			ReadTimeoutMs: 13,
			Demo: DemoConfig{
				PeriodMs:     15,
				CorruptEvery: 50,
				NoiseEvery:   20,
			},
		},
		Stream: StreamConfig{
			Packets:    []string{"bumps_wheel_drops", "distance", "angle", "cargo_bay_analog"},
			Initialize: true,
		},
		Accumulator: AccumulatorConfig{
			PollIntervalMs: 10,
			Strategies: map[string]string{
				"bumps_wheel_drops": "replace",
				"distance":          "sum",
				"angle":             "sum",
				"cargo_bay_analog":  "replace",
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Recording: recorder.Config{
			Enabled:    false,
			Path:       "/var/log/createlink",
			IntervalMs: 100,
		},
		Server: ServerConfig{
			ListenAddr:  ":8080",
			BroadcastHz: 10,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the YAML is missing or bad.
func LoadConfig(path string, log *zap.Logger) *Config {
	if path == "" {
		path = DefaultConfigPath
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file, using defaults", zap.String("path", path))
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn("bad config file, using defaults", zap.String("path", path), zap.Error(err))
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info("loaded config", zap.String("path", path))
	}

	// .env next to the config, then in CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep, log)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already in the real environment win.
func loadEnvFile(path string, log *zap.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Info("loading .env", zap.String("path", path))
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

func envBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ROBOT_TYPE, ROBOT_PORT, ROBOT_BAUD, READ_TIMEOUT_MS,
// LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT, RECORD_ENABLED, RECORD_PATH,
// RECORD_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROBOT_TYPE"); v != "" {
		c.Robot.Type = v
	}
	if v := os.Getenv("ROBOT_PORT"); v != "" {
		c.Robot.PortPath = v
	}
	if v := os.Getenv("ROBOT_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Robot.BaudRate = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Robot.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RECORD_ENABLED"); v != "" {
		c.Recording.Enabled = envBool(v)
	}
	if v := os.Getenv("RECORD_PATH"); v != "" {
		c.Recording.Path = v
	}
	if v := os.Getenv("RECORD_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recording.IntervalMs = n
		}
	}
}

// Path is the file Save writes to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	path := c.Path()

	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. An update that leaves the stream or
// strategies unresolvable is rejected and the config is left unchanged.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := DefaultConfig()
	next.Accumulator.Strategies = nil
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if _, err := next.streamIDs(); err != nil {
		return err
	}
	if _, err := next.strategies(); err != nil {
		return err
	}

	c.Robot = next.Robot
	c.Stream = next.Stream
	c.Accumulator = next.Accumulator
	c.Logging = next.Logging
	c.Recording = next.Recording
	c.Server = next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// StreamIDs resolves Stream.Packets to sensor ids.
func (c *Config) StreamIDs() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamIDs()
}

func (c *Config) streamIDs() ([]byte, error) {
	ids := make([]byte, 0, len(c.Stream.Packets))
	for _, name := range c.Stream.Packets {
		id, ok := sensor.FieldID(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown stream packet %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Strategies resolves Accumulator.Strategies to the accumulator's form.
func (c *Config) Strategies() (map[byte]sensor.Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategies()
}

func (c *Config) strategies() (map[byte]sensor.Strategy, error) {
	out := make(map[byte]sensor.Strategy, len(c.Accumulator.Strategies))
	for name, s := range c.Accumulator.Strategies {
		id, ok := sensor.FieldID(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown sensor %q", name)
		}
		strategy, err := sensor.ParseStrategy(s)
		if err != nil {
			return nil, fmt.Errorf("config: sensor %q: %w", name, err)
		}
		out[id] = strategy
	}
	return out, nil
}

// TrackedIDs is the sorted set of ids with a strategy.
func (c *Config) TrackedIDs() []byte {
	s, err := c.Strategies()
	if err != nil {
		return nil
	}
	ids := make([]byte, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a copy of the config safe to read without locking.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Config{
		Robot:     c.Robot,
		Stream:    c.Stream,
		Logging:   c.Logging,
		Recording: c.Recording,
		Server:    c.Server,
		path:      c.path,
	}
	out.Stream.Packets = append([]string(nil), c.Stream.Packets...)
	out.Accumulator.PollIntervalMs = c.Accumulator.PollIntervalMs
	out.Accumulator.Strategies = make(map[string]string, len(c.Accumulator.Strategies))
	for k, v := range c.Accumulator.Strategies {
		out.Accumulator.Strategies[k] = v
	}
	return out
}

// ReadTimeout is the per-read timeout handed to the reader.
func (r RobotConfig) ReadTimeout() time.Duration {
	if r.ReadTimeoutMs <= 0 {
		return 13 * time.Millisecond
	}
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}
