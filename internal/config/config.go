package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig              `mapstructure:"app"`
	Agents      map[string]AgentConfig `mapstructure:"agents"`
	Aggregation AggregationConfig      `mapstructure:"aggregation"`
	LLM         LLMConfig              `mapstructure:"llm"`
	Risk        RiskConfig             `mapstructure:"risk"`
	Broker      BrokerConfig           `mapstructure:"broker"`
	Strategy    StrategyConfig         `mapstructure:"strategy"`
	Database    DatabaseConfig         `mapstructure:"database"`
	API         APIConfig              `mapstructure:"api"`
	Monitoring  MonitoringConfig       `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// AgentConfig contains per-analyst settings. Keys of the Agents map are
// the canonical agent names: technical, fundamental, sentiment, risk,
// market, policy.
type AgentConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Weight        float64       `mapstructure:"weight"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"` // 0 disables caching
}

// AggregationConfig controls how agent opinions become one signal
type AggregationConfig struct {
	Method            string  `mapstructure:"method"`              // "rule_based" or "llm"
	MinSignalStrength float64 `mapstructure:"min_signal_strength"` // 0.60
	MaxPositionSize   float64 `mapstructure:"max_position_size"`   // 0.10 (10% of portfolio)
}

// LLMConfig contains settings for the external reasoning service
type LLMConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RiskConfig contains the pre-trade risk gate limits
type RiskConfig struct {
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`      // 0.10 per symbol
	MaxSectorPct       float64 `mapstructure:"max_sector_pct"`        // 0.30 per sector
	MaxCorrelation     float64 `mapstructure:"max_correlation"`       // 0.70
	MaxStopLossPct     float64 `mapstructure:"max_stop_loss_pct"`     // 0.20 adverse move
	MaxDailyOrders     int     `mapstructure:"max_daily_orders"`      // 20000
	MaxOrdersPerSecond int     `mapstructure:"max_orders_per_second"` // 50
}

// BrokerConfig contains broker selection and simulation parameters
type BrokerConfig struct {
	Mode           string  `mapstructure:"mode"` // "sim" or "live"
	InitialCash    float64 `mapstructure:"initial_cash"`
	CommissionRate float64 `mapstructure:"commission_rate"` // 0.0003 (0.03%)
	MinCommission  float64 `mapstructure:"min_commission"`  // 5.0 CNY floor
	StampDutyRate  float64 `mapstructure:"stamp_duty_rate"` // 0.001, sell side only
}

// StrategyConfig contains the periodic scan loop settings
type StrategyConfig struct {
	Name         string        `mapstructure:"name"`
	Symbols      []string      `mapstructure:"symbols"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	Timezone     string        `mapstructure:"timezone"` // A-share market hours evaluated here
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig contains REST/SSE API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// AgentNames lists the canonical analyst keys
var AgentNames = []string{"technical", "fundamental", "sentiment", "risk", "market", "policy"}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("QUANTD")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "quantd")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Agent defaults. Fundamentals weigh heaviest for A-shares,
	// sentiment and policy the lightest.
	weights := map[string]float64{
		"technical":   0.25,
		"fundamental": 0.30,
		"sentiment":   0.10,
		"risk":        0.15,
		"market":      0.10,
		"policy":      0.10,
	}
	for name, weight := range weights {
		v.SetDefault(fmt.Sprintf("agents.%s.enabled", name), true)
		v.SetDefault(fmt.Sprintf("agents.%s.weight", name), weight)
		v.SetDefault(fmt.Sprintf("agents.%s.timeout", name), "30s")
		v.SetDefault(fmt.Sprintf("agents.%s.retry_attempts", name), 2)
		v.SetDefault(fmt.Sprintf("agents.%s.cache_ttl", name), "5m")
	}

	// Aggregation defaults
	v.SetDefault("aggregation.method", "rule_based")
	v.SetDefault("aggregation.min_signal_strength", 0.60)
	v.SetDefault("aggregation.max_position_size", 0.10)

	// LLM defaults
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", "30s")

	// Risk defaults
	v.SetDefault("risk.max_position_pct", 0.10)
	v.SetDefault("risk.max_sector_pct", 0.30)
	v.SetDefault("risk.max_correlation", 0.70)
	v.SetDefault("risk.max_stop_loss_pct", 0.20)
	v.SetDefault("risk.max_daily_orders", 20000)
	v.SetDefault("risk.max_orders_per_second", 50)

	// Broker defaults
	v.SetDefault("broker.mode", "sim")
	v.SetDefault("broker.initial_cash", 1000000.0)
	v.SetDefault("broker.commission_rate", 0.0003)
	v.SetDefault("broker.min_commission", 5.0)
	v.SetDefault("broker.stamp_duty_rate", 0.001)

	// Strategy defaults
	v.SetDefault("strategy.name", "multi_agent")
	v.SetDefault("strategy.symbols", []string{"600519", "000001"})
	v.SetDefault("strategy.scan_interval", "60s")
	v.SetDefault("strategy.timezone", "Asia/Shanghai")

	// Database defaults
	v.SetDefault("database.path", "quantd.db")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks configuration for values that cannot work at runtime
func (c *Config) Validate() error {
	switch c.Aggregation.Method {
	case "rule_based", "llm":
	default:
		return fmt.Errorf("invalid aggregation method: %q", c.Aggregation.Method)
	}

	if c.Aggregation.MinSignalStrength < 0 || c.Aggregation.MinSignalStrength > 1 {
		return fmt.Errorf("aggregation.min_signal_strength must be in [0,1], got %f", c.Aggregation.MinSignalStrength)
	}
	if c.Aggregation.MaxPositionSize <= 0 || c.Aggregation.MaxPositionSize > 1 {
		return fmt.Errorf("aggregation.max_position_size must be in (0,1], got %f", c.Aggregation.MaxPositionSize)
	}

	for name, agent := range c.Agents {
		if agent.Weight < 0 || agent.Weight > 1 {
			return fmt.Errorf("agents.%s.weight must be in [0,1], got %f", name, agent.Weight)
		}
		if agent.Timeout <= 0 {
			return fmt.Errorf("agents.%s.timeout must be positive", name)
		}
		if agent.RetryAttempts < 0 {
			return fmt.Errorf("agents.%s.retry_attempts must not be negative", name)
		}
	}

	switch c.Broker.Mode {
	case "sim", "live":
	default:
		return fmt.Errorf("invalid broker mode: %q", c.Broker.Mode)
	}
	if c.Broker.InitialCash < 0 {
		return fmt.Errorf("broker.initial_cash must not be negative")
	}

	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0,1], got %f", c.Risk.MaxPositionPct)
	}
	if c.Risk.MaxSectorPct <= 0 || c.Risk.MaxSectorPct > 1 {
		return fmt.Errorf("risk.max_sector_pct must be in (0,1], got %f", c.Risk.MaxSectorPct)
	}
	if c.Risk.MaxDailyOrders <= 0 {
		return fmt.Errorf("risk.max_daily_orders must be positive")
	}
	if c.Risk.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("risk.max_orders_per_second must be positive")
	}

	if c.Strategy.ScanInterval <= 0 {
		return fmt.Errorf("strategy.scan_interval must be positive")
	}
	if _, err := time.LoadLocation(c.Strategy.Timezone); err != nil {
		return fmt.Errorf("invalid strategy.timezone: %w", err)
	}

	return nil
}
