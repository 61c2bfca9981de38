package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Password   string        `mapstructure:"password"`

	// Call tuning. Empirically chosen defaults; all overridable.
	HostGrace       time.Duration `mapstructure:"host_grace"`
	RestartCooldown time.Duration `mapstructure:"restart_cooldown"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	JoinRateLimit   int           `mapstructure:"join_rate_limit"`
	JoinRateWindow  time.Duration `mapstructure:"join_rate_window"`

	// Voice activity detection (client side).
	VADThreshold float64       `mapstructure:"vad_threshold"`
	VADDecay     time.Duration `mapstructure:"vad_decay"`
	VADHold      time.Duration `mapstructure:"vad_hold"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("host_grace", "15s")
	v.SetDefault("restart_cooldown", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "30s")
	v.SetDefault("vad_threshold", 0.05)
	v.SetDefault("vad_decay", "800ms")
	v.SetDefault("vad_hold", "200ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
