package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	APIBaseURL     string `mapstructure:"api_base_url" yaml:"api_base_url"`
	CodegenModel   string `mapstructure:"codegen_model" yaml:"codegen_model"`
	SynthesisModel string `mapstructure:"synthesis_model" yaml:"synthesis_model"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Sandbox service
	SandboxBaseURL    string `mapstructure:"sandbox_base_url" yaml:"sandbox_base_url"`
	SandboxAPIKey     string `mapstructure:"sandbox_api_key" yaml:"sandbox_api_key"`
	SandboxTimeoutSec int    `mapstructure:"sandbox_timeout_sec" yaml:"sandbox_timeout_sec"`

	// Agent behavior
	TaskTimeoutSec int `mapstructure:"task_timeout_sec" yaml:"task_timeout_sec"`
	MaxAttempts    int `mapstructure:"max_attempts" yaml:"max_attempts"`
	MinCharts      int `mapstructure:"min_charts" yaml:"min_charts"`

	// Dataset limits
	MaxRows    int `mapstructure:"max_rows" yaml:"max_rows"`
	SampleRows int `mapstructure:"sample_rows" yaml:"sample_rows"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.datascope/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".datascope")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("DATASCOPE")
	v.AutomaticEnv()

	// Defaults. Keys must be registered for AutomaticEnv values to survive
	// Unmarshal, so the credential keys get empty defaults too.
	v.SetDefault("api_key", "")
	v.SetDefault("sandbox_api_key", "")
	v.SetDefault("sandbox_base_url", "")
	v.SetDefault("api_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("codegen_model", "anthropic/claude-sonnet-4")
	v.SetDefault("synthesis_model", "anthropic/claude-sonnet-4")
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("sandbox_timeout_sec", 120)
	v.SetDefault("task_timeout_sec", 120)
	v.SetDefault("max_attempts", 2)
	v.SetDefault("min_charts", 1)
	v.SetDefault("max_rows", 100000)
	v.SetDefault("sample_rows", 5)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("output_dir", "datascope-output")

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".datascope")
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}
