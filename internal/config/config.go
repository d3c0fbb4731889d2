package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCHost       string
	RPCUser       string
	RPCPass       string
	CacheDepth    int64
	MaxCalls      int
	Out           string
	PgDSN         string
	MetricsListen string
	LogLevel      string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NODEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache-depth", int64(1))
	v.SetDefault("max-calls", 2)
	v.SetDefault("out", "./data/txoutset.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCHost:       v.GetString("rpc-host"),
		RPCUser:       v.GetString("rpc-user"),
		RPCPass:       v.GetString("rpc-pass"),
		CacheDepth:    v.GetInt64("cache-depth"),
		MaxCalls:      v.GetInt("max-calls"),
		Out:           v.GetString("out"),
		PgDSN:         v.GetString("pg-dsn"),
		MetricsListen: v.GetString("metrics-listen"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}
