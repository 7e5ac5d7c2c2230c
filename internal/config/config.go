package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"max_size_mb"`
		MaxBackups int      `yaml:"max_backups"`
		MaxAgeDays int      `yaml:"max_age_days"`
	} `yaml:"log"`

	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Capture struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"capture"`

	Rules struct {
		File string `yaml:"file"`
	} `yaml:"rules"`

	Intruder Intruder `yaml:"intruder"`
	Replay   Replay   `yaml:"replay"`
	CDP      CDP      `yaml:"cdp"`
}

// Intruder 攻击引擎配置
type Intruder struct {
	MaxInFlight    int     `yaml:"max_in_flight"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	ResultCapacity int     `yaml:"result_capacity"`
	MaxRequests    int     `yaml:"max_requests"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Insecure       bool    `yaml:"insecure"`
	Proxy          string  `yaml:"proxy"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`

	// 单个攻击活动可覆盖的上限
	MaxInFlightLimit    int `yaml:"max_in_flight_limit"`
	ResultCapacityLimit int `yaml:"result_capacity_limit"`

	// 生成接口一次返回的请求数与总字节上限
	GenerateMaxRequests int `yaml:"generate_max_requests"`
	GenerateMaxBytes    int `yaml:"generate_max_bytes"`
}

// Replay 重放服务配置
type Replay struct {
	TimeoutMS    int    `yaml:"timeout_ms"`
	PreviewBytes int    `yaml:"preview_bytes"`
	Record       bool   `yaml:"record"`
	Insecure     bool   `yaml:"insecure"`
	Proxy        string `yaml:"proxy"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// CDP 浏览器拦截源配置
type CDP struct {
	Enabled          bool   `yaml:"enabled"`
	DevToolsURL      string `yaml:"devtools_url"`
	Target           string `yaml:"target"`
	Concurrency      int    `yaml:"concurrency"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	ProcessTimeoutMS int    `yaml:"process_timeout_ms"`
	PendingLimit     int    `yaml:"pending_limit"`
	PendingTTLMS     int    `yaml:"pending_ttl_ms"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}

	c.Sqlite.Dsn = "netforge.sqlite3"
	c.Sqlite.Prefix = "netforge_"

	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/netforge.log"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 14

	c.Server.Listen = "127.0.0.1:8710"
	c.Capture.Capacity = 10000

	c.Intruder = Intruder{
		MaxInFlight:    10,
		TimeoutMS:      10000,
		ResultCapacity: 5000,
		MaxRequests:    1_000_000,
		MaxBodyBytes:   1 << 20,

		MaxInFlightLimit:    512,
		ResultCapacityLimit: 1_000_000,
		GenerateMaxRequests: 10_000,
		GenerateMaxBytes:    64 << 20,
	}
	c.Replay = Replay{
		TimeoutMS:    30000,
		PreviewBytes: 64 << 10,
		Record:       true,
		MaxBodyBytes: 8 << 20,
	}
	c.CDP = CDP{
		DevToolsURL:      "http://127.0.0.1:9222",
		Concurrency:      8,
		QueueCapacity:    256,
		ProcessTimeoutMS: 3000,
		PendingLimit:     4096,
		PendingTTLMS:     120000,
	}
	return c
}

// Load 从 YAML 文件加载配置，未出现的字段保留默认值
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save 以 YAML 写出配置
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.New("config path is required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Capture.Capacity <= 0 {
		return errors.New("capture.capacity must be > 0")
	}
	if c.Intruder.MaxInFlight <= 0 {
		return errors.New("intruder.max_in_flight must be > 0")
	}
	if c.Intruder.TimeoutMS <= 0 {
		return errors.New("intruder.timeout_ms must be > 0")
	}
	if c.Intruder.ResultCapacity <= 0 {
		return errors.New("intruder.result_capacity must be > 0")
	}
	if c.Intruder.MaxRequests <= 0 {
		return errors.New("intruder.max_requests must be > 0")
	}
	if c.Intruder.MaxInFlightLimit > 0 && c.Intruder.MaxInFlight > c.Intruder.MaxInFlightLimit {
		return errors.New("intruder.max_in_flight must be <= intruder.max_in_flight_limit")
	}
	if c.Intruder.ResultCapacityLimit > 0 && c.Intruder.ResultCapacity > c.Intruder.ResultCapacityLimit {
		return errors.New("intruder.result_capacity must be <= intruder.result_capacity_limit")
	}
	if c.Intruder.RatePerSecond < 0 {
		return errors.New("intruder.rate_per_second must be >= 0")
	}
	if c.Replay.TimeoutMS <= 0 {
		return errors.New("replay.timeout_ms must be > 0")
	}
	if c.Replay.PreviewBytes < 0 {
		return errors.New("replay.preview_bytes must be >= 0")
	}
	if c.CDP.Enabled && c.CDP.DevToolsURL == "" {
		return errors.New("cdp.devtools_url is required when cdp is enabled")
	}
	if c.CDP.Concurrency < 0 || c.CDP.QueueCapacity < 0 {
		return errors.New("cdp.concurrency and cdp.queue_capacity must be >= 0")
	}
	for _, w := range c.Log.Writer {
		switch w {
		case "console", "file":
		default:
			return fmt.Errorf("log.writer %q must be one of: console, file", w)
		}
	}
	return nil
}
