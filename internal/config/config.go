package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// secretKeys are never given defaults, so they are bound to the environment explicitly.
var secretKeys = []string{
	"secret",
	"credential.token",
	"credential.server_url",
	"credential.expires_at",
	"credential.issuer_url",
	"credential.issuer_token",
	"credential.api_key",
	"credential.api_secret",
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Session    SessionConfig    `mapstructure:"session"`
	Credential CredentialConfig `mapstructure:"credential"`
	RTC        RTCConfig        `mapstructure:"rtc"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Limits     LimitsConfig     `mapstructure:"limits"`
}

// SessionConfig drives the coordinator, the watchdog and the audio pipeline.
type SessionConfig struct {
	CredentialTimeout time.Duration `mapstructure:"credential_timeout"`
	// ConnectTimeout bounds one transport attempt from open to ready.
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ActivateTimeout   time.Duration `mapstructure:"activate_timeout"`
	DeactivateTimeout time.Duration `mapstructure:"deactivate_timeout"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
}

// CredentialConfig selects where room grants come from.
// Source is one of static, http, local.
type CredentialConfig struct {
	Source      string        `mapstructure:"source"`
	ServerURL   string        `mapstructure:"server_url"`
	Token       string        `mapstructure:"token"`
	ExpiresAt   time.Time     `mapstructure:"expires_at"`
	IssuerURL   string        `mapstructure:"issuer_url"`
	IssuerToken string        `mapstructure:"issuer_token"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	Room        string        `mapstructure:"room"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type RTCConfig struct {
	SignalPath       string        `mapstructure:"signal_path"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// AudioConfig describes the local devices. An empty SourcePath captures
// silence; an empty PlayerCommand discards remote audio.
type AudioConfig struct {
	SourcePath    string        `mapstructure:"source_path"`
	FrameDuration time.Duration `mapstructure:"frame_duration"`
	PlayerCommand string        `mapstructure:"player_command"`
}

type LimitsConfig struct {
	StartBurst    int           `mapstructure:"start_burst"`
	StartInterval time.Duration `mapstructure:"start_interval"`
	MaxClients    int           `mapstructure:"max_clients"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "5s")
	v.SetDefault("log_level", "info")

	v.SetDefault("session.credential_timeout", "15s")
	v.SetDefault("session.connect_timeout", "15s")
	v.SetDefault("session.activate_timeout", "5s")
	v.SetDefault("session.deactivate_timeout", "2s")
	v.SetDefault("session.heartbeat_timeout", "10s")
	v.SetDefault("session.reconnect_attempts", 3)
	v.SetDefault("session.backoff_base", "500ms")
	v.SetDefault("session.backoff_factor", 2.0)
	v.SetDefault("session.backoff_cap", "8s")

	v.SetDefault("credential.source", "static")
	v.SetDefault("credential.room", "support")
	v.SetDefault("credential.ttl", "10m")

	v.SetDefault("rtc.signal_path", "/api/ws/signal")
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.handshake_timeout", "10s")
	v.SetDefault("rtc.write_timeout", "5s")

	v.SetDefault("audio.frame_duration", "20ms")

	v.SetDefault("limits.start_burst", 5)
	v.SetDefault("limits.start_interval", "1m")
	v.SetDefault("limits.max_clients", 4096)
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

	// Secrets come from the environment, e.g. SUPPORTCALL_CREDENTIAL_API_SECRET.
	v.SetEnvPrefix("SUPPORTCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("credential_source", cfg.Credential.Source).
		Msg("config ready")
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeHook())
	return &cfg
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Credential.Validate(); err != nil {
		return fmt.Errorf("credential config: %w", err)
	}
	if c.Limits.MaxClients < 0 {
		return fmt.Errorf("limits.max_clients cannot be negative, got %d", c.Limits.MaxClients)
	}
	if c.Audio.FrameDuration <= 0 {
		return fmt.Errorf("audio.frame_duration must be positive, got %s", c.Audio.FrameDuration)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.CredentialTimeout <= 0 {
		return fmt.Errorf("credential_timeout must be positive, got %s", s.CredentialTimeout)
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", s.ConnectTimeout)
	}
	if s.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive, got %s", s.HeartbeatTimeout)
	}
	if s.DeactivateTimeout <= 0 {
		return fmt.Errorf("deactivate_timeout must be positive, got %s", s.DeactivateTimeout)
	}
	if s.ActivateTimeout <= 0 {
		return fmt.Errorf("activate_timeout must be positive, got %s", s.ActivateTimeout)
	}
	if s.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts cannot be negative, got %d", s.ReconnectAttempts)
	}
	if s.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", s.BackoffBase)
	}
	if s.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1, got %f", s.BackoffFactor)
	}
	if s.BackoffCap < s.BackoffBase {
		return fmt.Errorf("backoff_cap (%s) must not be below backoff_base (%s)", s.BackoffCap, s.BackoffBase)
	}
	return nil
}

func (c *CredentialConfig) Validate() error {
	switch c.Source {
	case "static":
		if strings.TrimSpace(c.Token) == "" {
			return fmt.Errorf("token is required for the static source")
		}
	case "http":
		if strings.TrimSpace(c.IssuerURL) == "" {
			return fmt.Errorf("issuer_url is required for the http source")
		}
	case "local":
		if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
			return fmt.Errorf("api_key and api_secret are required for the local source")
		}
		if strings.TrimSpace(c.ServerURL) == "" {
			return fmt.Errorf("server_url is required for the local source")
		}
		if c.TTL <= 0 {
			return fmt.Errorf("ttl must be positive, got %s", c.TTL)
		}
	default:
		return fmt.Errorf("source must be one of [static, http, local], got '%s'", c.Source)
	}
	return nil
}
