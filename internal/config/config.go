package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`

	Engine struct {
		Workers      int           `yaml:"workers"`
		ExecutorSize int           `yaml:"executor_size"`
		PollInterval time.Duration `yaml:"poll_interval"`
		CancelGrace  time.Duration `yaml:"cancel_grace"`
		HistoryLimit int           `yaml:"history_limit"`
	} `yaml:"engine"`

	Work struct {
		Steps        int           `yaml:"steps"`
		StepInterval time.Duration `yaml:"step_interval"`
	} `yaml:"work"`

	Scan struct {
		Dir        string        `yaml:"dir"`
		Recursive  bool          `yaml:"recursive"`
		Extensions []string      `yaml:"extensions"`
		Priority   string        `yaml:"priority"`
		Watch      bool          `yaml:"watch"`
		Debounce   time.Duration `yaml:"debounce"`
	} `yaml:"scan"`

	Redis struct {
		Addr         string `yaml:"addr"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"redis"`

	MetricsAddr string `yaml:"metrics_addr"`
	ExportPath  string `yaml:"export_path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Name = "fileq"
	c.LogLevel = "info"
	c.Engine.Workers = 4
	c.Engine.ExecutorSize = 4
	c.Engine.PollInterval = 100 * time.Millisecond
	c.Engine.CancelGrace = 500 * time.Millisecond
	c.Work.Steps = 100
	c.Work.StepInterval = 20 * time.Millisecond
	c.Scan.Priority = "Medium"
	c.Scan.Debounce = 200 * time.Millisecond
	c.ExportPath = "task_history.csv"
	return &c
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Name = getEnv("FILEQ_NAME", c.Name)
	c.LogLevel = getEnv("FILEQ_LOG_LEVEL", c.LogLevel)
	c.Engine.Workers = getEnvAsInt("FILEQ_WORKERS", c.Engine.Workers)
	c.Engine.ExecutorSize = getEnvAsInt("FILEQ_EXECUTOR", c.Engine.ExecutorSize)
	c.Work.StepInterval = getEnvAsDuration("FILEQ_STEP_INTERVAL", c.Work.StepInterval)
	c.Scan.Dir = getEnv("FILEQ_SCAN_DIR", c.Scan.Dir)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.MetricsAddr = getEnv("FILEQ_METRICS_ADDR", c.MetricsAddr)
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1")
	}
	if c.Engine.ExecutorSize < 1 {
		return fmt.Errorf("engine.executor_size must be >= 1")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be > 0")
	}
	if c.Engine.CancelGrace < 0 {
		return fmt.Errorf("engine.cancel_grace must be >= 0")
	}
	if c.Work.Steps < 1 {
		return fmt.Errorf("work.steps must be >= 1")
	}
	if c.Work.StepInterval <= 0 {
		return fmt.Errorf("work.step_interval must be > 0")
	}
	switch c.Scan.Priority {
	case "High", "Medium", "Low":
	default:
		return fmt.Errorf("scan.priority must be High, Medium or Low")
	}
	if c.Scan.Watch && c.Scan.Dir == "" {
		return fmt.Errorf("scan.dir is required when scan.watch is set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
