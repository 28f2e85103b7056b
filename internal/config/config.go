// Package config handles configuration loading, validation, and persistence
// for the meshbridge daemon.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultMeshCorePort   = 4000
	DefaultAPIPort        = 5080
	DefaultAppName        = "Discord Bridge"
	DefaultReconnectDelay = 5.0
	DefaultBatchInterval  = 2.0
	DefaultMaxBatchSize   = 10

	// TokenEnvVar overrides discord.token when set.
	TokenEnvVar = "MESHBRIDGE_DISCORD_TOKEN"
)

// Config is the root configuration structure for meshbridge.
type Config struct {
	mu   sync.RWMutex
	path string

	MeshCore MeshCoreConfig `json:"meshcore" yaml:"meshcore" toml:"meshcore"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord" toml:"discord"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	History  HistoryConfig  `json:"history" yaml:"history" toml:"history"`
	API      APIConfig      `json:"api" yaml:"api" toml:"api"`
	Timers   TimerConfig    `json:"timers" yaml:"timers" toml:"timers"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" toml:"logging"`
}

// MeshCoreConfig describes the companion radio TCP endpoint.
type MeshCoreConfig struct {
	Host           string  `json:"host" yaml:"host" toml:"host"`
	Port           int     `json:"port" yaml:"port" toml:"port"`
	AutoReconnect  bool    `json:"auto_reconnect" yaml:"auto_reconnect" toml:"auto_reconnect"`
	ReconnectDelay float64 `json:"reconnect_delay" yaml:"reconnect_delay" toml:"reconnect_delay"`
	AppName        string  `json:"app_name" yaml:"app_name" toml:"app_name"`
	SyncInterval   int     `json:"sync_interval_sec" yaml:"sync_interval_sec" toml:"sync_interval_sec"`
}

// Address returns host:port.
func (m MeshCoreConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// ReconnectDelayDuration converts the configured seconds to a duration.
func (m MeshCoreConfig) ReconnectDelayDuration() time.Duration {
	return time.Duration(m.ReconnectDelay * float64(time.Second))
}

// DiscordConfig holds Discord delivery settings. Channel values are either
// channel IDs (sent with the bot token) or webhook URLs.
type DiscordConfig struct {
	Token         string            `json:"token" yaml:"token" toml:"token"`
	Channels      map[string]string `json:"channels" yaml:"channels" toml:"channels"`
	BatchInterval float64           `json:"batch_interval" yaml:"batch_interval" toml:"batch_interval"`
	MaxBatchSize  int               `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	APIBaseURL    string            `json:"api_base_url" yaml:"api_base_url" toml:"api_base_url"`
}

// BatchIntervalDuration converts the configured seconds to a duration.
func (d DiscordConfig) BatchIntervalDuration() time.Duration {
	return time.Duration(d.BatchInterval * float64(time.Second))
}

// MQTTConfig holds MQTT republishing settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	BrokerURL   string `json:"broker_url" yaml:"broker_url" toml:"broker_url"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls" toml:"use_tls"`
	CertFile    string `json:"cert_file" yaml:"cert_file" toml:"cert_file"`
	KeyFile     string `json:"key_file" yaml:"key_file" toml:"key_file"`
	CAFile      string `json:"ca_file" yaml:"ca_file" toml:"ca_file"`
	ClientID    string `json:"client_id" yaml:"client_id" toml:"client_id"`
	Username    string `json:"username" yaml:"username" toml:"username"`
	Password    string `json:"password" yaml:"password" toml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" toml:"topic_prefix"`
}

// HistoryConfig holds the sqlite event log settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path          string `json:"path" yaml:"path" toml:"path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days" toml:"retention_days"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Listen         string   `json:"listen" yaml:"listen" toml:"listen"`
	Port           int      `json:"port" yaml:"port" toml:"port"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
}

// TimerConfig holds background task intervals.
type TimerConfig struct {
	StatsReportInterval  int `json:"stats_report_interval_sec" yaml:"stats_report_interval_sec" toml:"stats_report_interval_sec"`
	HistoryPruneInterval int `json:"history_prune_interval_sec" yaml:"history_prune_interval_sec" toml:"history_prune_interval_sec"`
	HealthCheckInterval  int `json:"health_check_interval_sec" yaml:"health_check_interval_sec" toml:"health_check_interval_sec"`
	// A connected radio that sends nothing for this long is redialed.
	LinkTimeout int `json:"link_timeout_sec" yaml:"link_timeout_sec" toml:"link_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	Directory  string `json:"directory" yaml:"directory" toml:"directory"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	Console    bool   `json:"console" yaml:"console" toml:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MeshCore: MeshCoreConfig{
			Port:           DefaultMeshCorePort,
			AutoReconnect:  true,
			ReconnectDelay: DefaultReconnectDelay,
			AppName:        DefaultAppName,
			SyncInterval:   30,
		},
		Discord: DiscordConfig{
			Channels:      map[string]string{},
			BatchInterval: DefaultBatchInterval,
			MaxBatchSize:  DefaultMaxBatchSize,
			APIBaseURL:    "https://discord.com/api/v10",
		},
		MQTT: MQTTConfig{
			Port:        1883,
			ClientID:    "meshbridge",
			TopicPrefix: "meshbridge",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "data/history.db",
			RetentionDays: 30,
		},
		API: APIConfig{
			Enabled:      true,
			Listen:       "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		Timers: TimerConfig{
			StatsReportInterval:  300,
			HistoryPruneInterval: 3600,
			HealthCheckInterval:  60,
			LinkTimeout:          150,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

type format int

const (
	formatYAML format = iota
	formatJSON
	formatTOML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json":
		return formatJSON, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("unsupported config format %q (want .yaml, .json or .toml)", filepath.Ext(path))
	}
}

// Load reads configuration from path, overlaying it on DefaultConfig. The
// format is chosen by file extension. A missing file is created with
// defaults so the operator has something to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	f, err := formatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := decode(f, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Discord.Channels == nil {
		cfg.Discord.Channels = map[string]string{}
	}

	cfg.path = path
	cfg.applyEnv()
	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

func decode(f format, data []byte, cfg *Config) error {
	switch f {
	case formatJSON:
		return json.Unmarshal(data, cfg)
	case formatTOML:
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	if token := strings.TrimSpace(os.Getenv(TokenEnvVar)); token != "" {
		c.Discord.Token = token
		log.Debug().Str("env", TokenEnvVar).Msg("discord token taken from environment")
	}
}

// Save writes the current configuration to disk in the format implied by
// its path.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := formatFor(c.path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	switch f {
	case formatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetMeshCore returns a copy of the radio settings.
func (c *Config) GetMeshCore() MeshCoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MeshCore
}

// GetDiscord returns a copy of the Discord settings. The channel map is cloned.
func (c *Config) GetDiscord() DiscordConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Discord
	d.Channels = make(map[string]string, len(c.Discord.Channels))
	for k, v := range c.Discord.Channels {
		d.Channels[k] = v
	}
	return d
}

// GetMQTT returns a copy of the MQTT settings.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHistory returns a copy of the history settings.
func (c *Config) GetHistory() HistoryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.History
}

// GetAPI returns a copy of the API settings.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetTimers returns a copy of the timer settings.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// GetLogging returns a copy of the logging settings.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
