package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultServer        = "wss://huddle.qzz.io"
	DefaultAPI           = "https://huddle.qzz.io"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultTURN          = "turn:huddle.qzz.io"
	DefaultTURNUser      = "huddle"
	DefaultTURNPass      = "huddle-secret"
	DefaultMaxPresenters = 2
)

// Config holds application configuration
type Config struct {
	// Server is the signaling base URL (ws:// or wss://)
	Server string `mapstructure:"server"`
	// API is the HTTP base URL used for relay configuration
	API string `mapstructure:"api"`

	// Token is the bearer credential; TokenFile is re-read on every attempt
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`
	ForceRelay bool   `mapstructure:"force_relay"`

	MaxPresenters int `mapstructure:"max_presenters"`

	Reconnect Reconnect `mapstructure:"reconnect"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	// ListenAddr is used by the development relay
	ListenAddr string `mapstructure:"listen_addr"`
}

// Reconnect tunes the supervisor backoff.
type Reconnect struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string
	Server     string
	API        string
	Token      string
	TokenFile  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	ListenAddr string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (HUDDLE_*)
// 3. Config file (huddle.yaml in . or $HOME/.config/huddle)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("huddle")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/huddle")
	}

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	override(v, "server", opts.Server)
	override(v, "api", opts.API)
	override(v, "token", opts.Token)
	override(v, "token_file", opts.TokenFile)
	override(v, "stun_server", opts.STUNServer)
	override(v, "turn_server", opts.TURNServer)
	override(v, "turn_username", opts.TURNUser)
	override(v, "turn_password", opts.TURNPass)
	override(v, "listen_addr", opts.ListenAddr)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")
	cfg.API = strings.TrimRight(cfg.API, "/")
	if cfg.MaxPresenters <= 0 {
		cfg.MaxPresenters = DefaultMaxPresenters
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server", DefaultServer)
	v.SetDefault("api", DefaultAPI)
	v.SetDefault("token", "")
	v.SetDefault("token_file", "")
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", DefaultTURN)
	v.SetDefault("turn_username", DefaultTURNUser)
	v.SetDefault("turn_password", DefaultTURNPass)
	v.SetDefault("force_relay", false)
	v.SetDefault("max_presenters", DefaultMaxPresenters)
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("heartbeat", "30s")
	v.SetDefault("listen_addr", ":8080")
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// RoomURL returns the signaling endpoint for a room, without credentials.
func (c *Config) RoomURL(roomID string) string {
	return fmt.Sprintf("%s/ws/room/%s", c.Server, roomID)
}

// ICEConfigURL returns the relay configuration endpoint.
func (c *Config) ICEConfigURL() string {
	return c.API + "/api/rooms/ice-config"
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
