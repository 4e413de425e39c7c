package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	// client
	SignalURL          string        `mapstructure:"signal_url"`
	Room               string        `mapstructure:"room"`
	Username           string        `mapstructure:"username"`
	Name               string        `mapstructure:"name"`
	AudioFile          string        `mapstructure:"audio_file"`
	StunServers        []string      `mapstructure:"stun_servers"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`

	// relay
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SignalLimit   int           `mapstructure:"signal_limit"`
	SignalLimitIn time.Duration `mapstructure:"signal_limit_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "http://localhost:8080")
	v.SetDefault("room", "stoop")
	v.SetDefault("username", "guest")
	v.SetDefault("audio_file", "mic.ogg")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("max_reconnects", 0)
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "stoop-dev-secret")
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("signal_limit", 60)
	v.SetDefault("signal_limit_interval", "10s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
