// Package config loads StepFlow Monitor's configuration via viper. Each
// setting in envBindings is controlled by a single, unprefixed environment
// variable (the wire names are part of the public interface — see spec §6);
// log_json is switched on by LOG_LEVEL=json, and shutdown_grace_seconds and
// cancel_grace_seconds have no variable of their own. An optional YAML
// tuning file (LoadFromFile) can be layered on top.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one server process.
type Config struct {
	StoragePath string `mapstructure:"storage_path" yaml:"storage_path"`
	HTTPPort    int    `mapstructure:"http_port" yaml:"http_port"`
	WSPort      int    `mapstructure:"ws_port" yaml:"ws_port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON     bool   `mapstructure:"log_json" yaml:"log_json"`
	AuthEnabled bool   `mapstructure:"auth_enabled" yaml:"auth_enabled"`
	AuthToken   string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`

	MaxConcurrentExecutions        int   `mapstructure:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	MaxLineBytes                   int   `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	MaxArtifactBytes               int64 `mapstructure:"max_artifact_bytes" yaml:"max_artifact_bytes"`
	DefaultExecutionTimeoutSeconds int   `mapstructure:"default_execution_timeout_seconds" yaml:"default_execution_timeout_seconds"`
	SubscriberHighWaterMark        int   `mapstructure:"subscriber_high_water_mark" yaml:"subscriber_high_water_mark"`
	StepLogBufferSize              int   `mapstructure:"step_log_buffer_size" yaml:"step_log_buffer_size"`

	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds" yaml:"shutdown_grace_seconds"`
	CancelGraceSeconds   int `mapstructure:"cancel_grace_seconds" yaml:"cancel_grace_seconds"`
}

var (
	globalConfig *Config
	viperInst    *viper.Viper
)

// envBindings maps each struct key (dot notation into the mapstructure tags
// above) to the exact, unprefixed environment variable name spec.md §6
// names. Kept as an explicit table — like BindSensitiveEnvVars in the
// grounding config package — rather than a prefix+replacer scheme, because
// the wire names here are flat and not dotted.
var envBindings = map[string]string{
	"storage_path":                       "STORAGE_PATH",
	"http_port":                          "HTTP_PORT",
	"ws_port":                            "WS_PORT",
	"log_level":                          "LOG_LEVEL",
	"auth_enabled":                       "AUTH_ENABLED",
	"auth_token":                         "AUTH_TOKEN",
	"max_concurrent_executions":          "MAX_CONCURRENT_EXECUTIONS",
	"max_line_bytes":                     "MAX_LINE_BYTES",
	"max_artifact_bytes":                 "MAX_ARTIFACT_BYTES",
	"default_execution_timeout_seconds":  "DEFAULT_EXECUTION_TIMEOUT_SECONDS",
	"subscriber_high_water_mark":         "SUBSCRIBER_HIGH_WATER_MARK",
	"step_log_buffer_size":               "STEP_LOG_BUFFER_SIZE",
}

// SetDefaults installs the documented defaults (spec §5, §6) onto v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage_path", "./storage")
	v.SetDefault("http_port", 8080)
	v.SetDefault("ws_port", 8765)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("auth_enabled", false)
	v.SetDefault("auth_token", "")
	v.SetDefault("max_concurrent_executions", 500)
	v.SetDefault("max_line_bytes", 64*1024)
	v.SetDefault("max_artifact_bytes", 100*1024*1024)
	v.SetDefault("default_execution_timeout_seconds", 0) // 0 = no wall-clock timeout
	v.SetDefault("subscriber_high_water_mark", 256)
	v.SetDefault("step_log_buffer_size", 1024)
	v.SetDefault("shutdown_grace_seconds", 10)
	v.SetDefault("cancel_grace_seconds", 5)
}

// bindEnv explicitly binds every known key; AutomaticEnv alone would require
// a prefix, which spec.md's flat variable names don't carry.
func bindEnv(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	if strings.EqualFold(v.GetString("log_level"), "json") {
		v.Set("log_json", true)
	}
}

func initViper() *viper.Viper {
	if viperInst != nil {
		return viperInst
	}
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)
	viperInst = v
	return v
}

// Load resolves and caches the process configuration. Subsequent calls
// return the cached value; use Reset in tests to force a reload.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return globalConfig, nil
}

// Reset clears the cached configuration. Test helper.
func Reset() {
	globalConfig = nil
	viperInst = nil
}

// LoadFromFile reads a YAML tuning-file override (an operator convenience
// layered on top of the env-var configuration, not a replacement for it).
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
