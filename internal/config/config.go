// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the full application configuration, populated by viper from
// defaults, an optional YAML file and WEBPILOT_* environment variables.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Perception PerceptionConfig `mapstructure:"perception" yaml:"perception"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Policy     PolicyConfig     `mapstructure:"policy" yaml:"policy"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the driven Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// PerceptionConfig bounds the snapshot handed to the oracle.
type PerceptionConfig struct {
	MaxElements   int `mapstructure:"max_elements" yaml:"max_elements"`
	MaxHeadings   int `mapstructure:"max_headings" yaml:"max_headings"`
	ExcerptBudget int `mapstructure:"excerpt_budget" yaml:"excerpt_budget"`
	TextBudget    int `mapstructure:"text_budget" yaml:"text_budget"`
	MaxOptions    int `mapstructure:"max_options" yaml:"max_options"`
	OptionBudget  int `mapstructure:"option_budget" yaml:"option_budget"`
}

// AgentConfig bounds the control loop.
type AgentConfig struct {
	MaxIterations          int `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxConsecutiveNoAction int `mapstructure:"max_consecutive_no_action" yaml:"max_consecutive_no_action"`
}

// LLMConfig configures the decision oracle transport.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// PolicyConfig controls the destructive-action gate. The gate itself always
// runs; this only decides whether a confirmation prompt is attached and lets
// deployments extend the phrase table.
type PolicyConfig struct {
	ConfirmDestructive bool     `mapstructure:"confirm_destructive" yaml:"confirm_destructive"`
	ExtraPatterns      []string `mapstructure:"extra_patterns" yaml:"extra_patterns"`
}

// StoreConfig selects the optional run archive backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "", "file" or "postgres"
	Dir     string `mapstructure:"dir" yaml:"dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// Browser
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 1100)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.quiet_period", "500ms")
	v.SetDefault("browser.settle_delay", "500ms")

	// Perception
	v.SetDefault("perception.max_elements", 200)
	v.SetDefault("perception.max_headings", 24)
	v.SetDefault("perception.excerpt_budget", 2800)
	v.SetDefault("perception.text_budget", 120)
	v.SetDefault("perception.max_options", 12)
	v.SetDefault("perception.option_budget", 48)

	// Agent
	v.SetDefault("agent.max_iterations", 40)
	v.SetDefault("agent.max_consecutive_no_action", 3)

	// LLM
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30.0)
	v.SetDefault("llm.api_timeout", "120s")

	// Policy
	v.SetDefault("policy.confirm_destructive", true)

	// Store
	v.SetDefault("store.backend", "")
	v.SetDefault("store.dir", "~/.webpilot/runs")
}

// NewConfigFromViper unmarshals and validates the assembled configuration.
// Secrets are bound to environment variables here so they never need to live
// in the config file.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	_ = v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.dsn", "WEBPILOT_STORE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig builds a Config carrying only the defaults. Used by tests
// and as the fallback when no file is present.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults must always validate.
		panic(fmt.Sprintf("default configuration invalid: %v", err))
	}
	return cfg
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxConsecutiveNoAction <= 0 {
		return fmt.Errorf("agent.max_consecutive_no_action must be positive, got %d", c.Agent.MaxConsecutiveNoAction)
	}
	if c.Perception.MaxElements <= 0 {
		return fmt.Errorf("perception.max_elements must be positive, got %d", c.Perception.MaxElements)
	}
	if c.Perception.ExcerptBudget < 0 {
		return fmt.Errorf("perception.excerpt_budget must not be negative, got %d", c.Perception.ExcerptBudget)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive, got %dx%d", c.Browser.WindowWidth, c.Browser.WindowHeight)
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider must not be empty")
	}
	if c.LLM.RequestsPerMinute <= 0 {
		return fmt.Errorf("llm.requests_per_minute must be positive, got %v", c.LLM.RequestsPerMinute)
	}
	switch c.Store.Backend {
	case "", "file", "postgres":
	default:
		return fmt.Errorf("store.backend must be one of \"\", \"file\", \"postgres\", got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.backend=postgres requires store.dsn")
	}
	return nil
}

// expandPaths resolves ~ in every configured filesystem location.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Store.Dir, &c.Browser.UserDataDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = filepath.Clean(expanded)
	}
	return nil
}

// EnvKeyReplacer is the mapping from config keys to environment variables
// (dots become underscores, e.g. WEBPILOT_AGENT_MAX_ITERATIONS).
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
