// Package config loads the engine supervisor's startup configuration:
// binary path, fixed UCI options, and queue/buffer sizing. Values come from
// (lowest to highest precedence) defaults, an optional config file on
// viper's search path, and ESCACS_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig configures one engine supervisor instance.
type EngineConfig struct {
	// BinaryPath is the path to the engine executable. Mandatory.
	BinaryPath string `mapstructure:"binary_path"`

	// Threads, MultiPV, and ShowWDL are applied as fixed setoption commands
	// during Start, matching the core's options policy.
	Threads int  `mapstructure:"threads"`
	MultiPV int  `mapstructure:"multi_pv"`
	ShowWDL bool `mapstructure:"show_wdl"`

	// QueueCapacity bounds the request queue and the engine channel's
	// write/read queues.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// LineBufferSize bounds a single line of engine stdout before the
	// reader pump raises ErrLineBufferOverflow.
	LineBufferSize int `mapstructure:"line_buffer_size"`

	// StopTimeout is an optional convenience the caller may apply around a
	// cancellation ack await. Zero means no timeout; the core contract
	// itself never imposes one.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

const envPrefix = "ESCACS"

func defaults(v *viper.Viper) {
	v.SetDefault("binary_path", "")
	v.SetDefault("threads", 8)
	v.SetDefault("multi_pv", 3)
	v.SetDefault("show_wdl", true)
	v.SetDefault("queue_capacity", 32)
	v.SetDefault("line_buffer_size", 16384)
	v.SetDefault("stop_timeout", time.Duration(0))
}

// Load builds an EngineConfig from defaults, an optional config file
// (escacs.yaml/json/toml on the given search paths), ESCACS_-prefixed
// environment variables, and finally a non-empty binaryPath argument,
// applied in that ascending order of precedence. binaryPath is the only
// field that can be overridden by argument.
func Load(binaryPath string, searchPaths ...string) (EngineConfig, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigName("escacs")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return EngineConfig{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if binaryPath != "" {
		cfg.BinaryPath = binaryPath
	}
	if cfg.BinaryPath == "" {
		return EngineConfig{}, fmt.Errorf("config: binary_path is required")
	}

	return cfg, nil
}
