// Package config loads the tradelab YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor TRADELAB_CONFIG is set.
const DefaultPath = "config/tradelab.yaml"

// Bar sources selectable in the backtest section.
const (
	SourceParquet = "parquet"
	SourceCSV     = "csv"
	SourceAlpaca  = "alpaca"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage    Storage      `yaml:"storage"`
	Server     Server       `yaml:"server"`
	Alpaca     Alpaca       `yaml:"alpaca"`
	Logging    Logging      `yaml:"logging"`
	Backtest   Backtest     `yaml:"backtest"`
	Gather     GatherConfig `yaml:"gather"`
	Strategies Strategies   `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	CSVDir     string `yaml:"csv_dir"`
	SQLitePath string `yaml:"sqlite_path"` // empty: runs are not persisted
}

// Server holds the gRPC listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns host:port for the gRPC listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds defaults for a backtest run. CLI flags override them.
type Backtest struct {
	Strategy string   `yaml:"strategy"`
	Symbols  []string `yaml:"symbols"`
	Market   string   `yaml:"market"`
	Source   string   `yaml:"source"`
	Capital  float64  `yaml:"capital"`
	Begin    string   `yaml:"begin"` // YYYY-MM-DD, empty: all history
	End      string   `yaml:"end"`
	Verbose  bool     `yaml:"verbose"`
	Workers  int      `yaml:"workers"`
}

// GatherConfig controls the daily bar gatherer.
type GatherConfig struct {
	Symbols         []string `yaml:"symbols"`
	StartDate       string   `yaml:"start_date"`
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// Strategies holds parameters for the bundled strategies.
type Strategies struct {
	SMACross SMACross `yaml:"sma_cross"`
	RSI      RSI      `yaml:"rsi"`
}

// SMACross parameters.
type SMACross struct {
	Short int `yaml:"short"`
	Long  int `yaml:"long"`
}

// RSI parameters.
type RSI struct {
	Period int     `yaml:"period"`
	Low    float64 `yaml:"low"`
	High   float64 `yaml:"high"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", CSVDir: "data/csv"},
		Server:  Server{Host: "127.0.0.1", GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL: "https://api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "sip",
		},
		Logging: Logging{Level: "info", Format: "text"},
		Backtest: Backtest{
			Strategy: "sma-cross",
			Market:   "us",
			Source:   SourceParquet,
			Capital:  1000,
			Workers:  4,
		},
		Gather: GatherConfig{
			StartDate:       "2016-01-01",
			BatchSize:       100,
			MaxWorkers:      4,
			RateLimitPerMin: 180,
		},
		Strategies: Strategies{
			SMACross: SMACross{Short: 10, Long: 30},
			RSI:      RSI{Period: 14, Low: 30, High: 70},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default(), then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default() with
// environment overrides when required is false.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || required || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path resolves the configuration file path: flag first, then
// TRADELAB_CONFIG, then DefaultPath. explicit reports whether the user chose
// it.
func Path(flag string) (path string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if v := os.Getenv("TRADELAB_CONFIG"); v != "" {
		return v, true
	}
	return DefaultPath, false
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("TRADELAB_CAPITAL"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRADELAB_CAPITAL: %w", err)
		}
		cfg.Backtest.Capital = c
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Backtest.Capital > 0) || math.IsInf(c.Backtest.Capital, 0) {
		errs = append(errs, fmt.Errorf("backtest.capital must be positive and finite, got %v", c.Backtest.Capital))
	}
	switch c.Backtest.Source {
	case SourceParquet, SourceCSV, SourceAlpaca:
	default:
		errs = append(errs, fmt.Errorf("backtest.source %q is not one of parquet, csv, alpaca", c.Backtest.Source))
	}
	if _, _, err := c.Backtest.Range(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDate(c.Gather.StartDate); err != nil {
		errs = append(errs, fmt.Errorf("gather.start_date: %w", err))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	return errors.Join(errs...)
}

// Range parses Begin and End. Empty values give the zero time.
func (b Backtest) Range() (begin, end time.Time, err error) {
	if begin, err = ParseDate(b.Begin); err != nil {
		return begin, end, fmt.Errorf("backtest.begin: %w", err)
	}
	if end, err = ParseDate(b.End); err != nil {
		return begin, end, fmt.Errorf("backtest.end: %w", err)
	}
	if !begin.IsZero() && !end.IsZero() && begin.After(end) {
		return begin, end, fmt.Errorf("backtest.begin %s is after backtest.end %s", b.Begin, b.End)
	}
	return begin, end, nil
}

// ParseDate parses YYYY-MM-DD as a UTC date. An empty string is the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// EndOfDay extends a date to its last instant so a daily bar stamped later
// that day is still in range.
func EndOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
