package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	UserID string `mapstructure:"user_id"`
	// AuthToken is the bearer token for the backend and the broadcast relay.
	AuthToken string `mapstructure:"auth_token"`

	Control   ControlConfig   `mapstructure:"control"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Peer      PeerConfig      `mapstructure:"peer"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Media     MediaConfig     `mapstructure:"media"`
	Call      CallConfig      `mapstructure:"call"`
}

// ControlConfig is the local API a UI process drives the client through.
type ControlConfig struct {
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PeerConfig struct {
	URL          string        `mapstructure:"url"`
	AppID        string        `mapstructure:"app_id"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	RenewMargin  time.Duration `mapstructure:"renew_margin"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReadLimit    int64         `mapstructure:"read_limit"`
}

type BroadcastConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

type MediaConfig struct {
	SFUURL         string        `mapstructure:"sfu_url"`
	AppID          string        `mapstructure:"app_id"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	LockWait       time.Duration `mapstructure:"lock_wait"`
	LockPoll       time.Duration `mapstructure:"lock_poll"`
	DisconnectWait time.Duration `mapstructure:"disconnect_wait"`
	RecordDir      string        `mapstructure:"record_dir"`
}

type CallConfig struct {
	Expiry       time.Duration `mapstructure:"expiry"`
	RejectNotice time.Duration `mapstructure:"reject_notice"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	LeaveTimeout time.Duration `mapstructure:"leave_timeout"`
	InviteLimit  int           `mapstructure:"invite_limit"`
	InviteWindow time.Duration `mapstructure:"invite_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("control.port", 8090)
	v.SetDefault("control.secret", "")
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("peer.url", "ws://localhost:8081/rtm")
	v.SetDefault("peer.max_attempts", 3)
	v.SetDefault("peer.backoff_base", "2s")
	v.SetDefault("peer.login_timeout", "10s")
	v.SetDefault("peer.renew_margin", "30s")
	v.SetDefault("peer.ping_period", "54s")
	v.SetDefault("peer.read_limit", 32768)

	v.SetDefault("broadcast.url", "ws://localhost:8080/api/ws")
	v.SetDefault("broadcast.reconnect_delay", "3s")
	v.SetDefault("broadcast.ping_period", "30s")
	v.SetDefault("broadcast.read_limit", 65536)

	v.SetDefault("media.sfu_url", "ws://localhost:8082/api/ws/signal")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.lock_wait", "5s")
	v.SetDefault("media.lock_poll", "100ms")
	v.SetDefault("media.disconnect_wait", "2s")

	v.SetDefault("call.expiry", "20s")
	v.SetDefault("call.reject_notice", "1500ms")
	v.SetDefault("call.send_timeout", "5s")
	v.SetDefault("call.leave_timeout", "5s")
	v.SetDefault("call.invite_limit", 5)
	v.SetDefault("call.invite_window", "1m")
}

// Default returns the built-in settings without touching files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

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

	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | User: %s | Control port: %d\n", cfg.Mode, cfg.UserID, cfg.Control.Port)
	return &cfg, nil
}

// Validate checks the settings the call feature cannot run without.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("config: user_id is required")
	}
	if c.Call.Expiry <= 0 {
		return fmt.Errorf("config: call.expiry must be positive")
	}
	if c.Peer.MaxAttempts < 1 {
		return fmt.Errorf("config: peer.max_attempts must be at least 1")
	}
	if c.Media.LockPoll <= 0 || c.Media.LockWait < c.Media.LockPoll {
		return fmt.Errorf("config: media.lock_wait must be >= media.lock_poll > 0")
	}
	return nil
}
