package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateMeshCore(&cfg.MeshCore, result)
	validateDiscord(&cfg.Discord, result)
	validateMQTT(&cfg.MQTT, result)
	validateHistory(&cfg.History, result)
	validateAPI(&cfg.API, result)
	validateTimers(&cfg.Timers, cfg.MeshCore.SyncInterval, result)

	return result
}

func validateMeshCore(m *MeshCoreConfig, result *ValidationResult) {
	if strings.TrimSpace(m.Host) == "" {
		result.AddError("meshcore.host", "radio host is required")
	}
	validatePort(m.Port, "meshcore.port", result)

	if m.ReconnectDelay <= 0 {
		result.AddError("meshcore.reconnect_delay", "reconnect delay must be positive")
	}
	if m.SyncInterval < 5 {
		result.AddWarning("meshcore.sync_interval_sec",
			"sync interval less than 5s may flood the radio")
	}
	if strings.TrimSpace(m.AppName) == "" {
		result.AddWarning("meshcore.app_name", "empty app name announced to the radio")
	}
}

func validateTimers(t *TimerConfig, syncInterval int, result *ValidationResult) {
	if t.LinkTimeout > 0 && t.LinkTimeout <= syncInterval {
		result.AddWarning("timers.link_timeout_sec",
			"link timeout should exceed the sync interval or idle links will be redialed")
	}
}

func validateDiscord(d *DiscordConfig, result *ValidationResult) {
	if len(d.Channels) == 0 {
		result.AddError("discord.channels", "no Discord channels configured")
		return
	}

	needsToken := false
	for name, target := range d.Channels {
		field := "discord.channels." + name
		switch {
		case strings.TrimSpace(target) == "":
			result.AddError(field, "empty channel target")
		case IsWebhookTarget(target):
			if _, err := url.Parse(target); err != nil {
				result.AddError(field, fmt.Sprintf("invalid webhook URL: %v", err))
			}
		default:
			needsToken = true
			if len(target) < 17 || len(target) > 20 {
				result.AddWarning(field,
					"channel ID appears invalid (expected 17-20 digit snowflake)")
			}
		}
	}

	if needsToken && strings.TrimSpace(d.Token) == "" {
		result.AddError("discord.token", "bot token is required for channel ID targets")
	}

	if _, ok := d.Channels["dm"]; !ok {
		result.AddWarning("discord.channels.dm", "no 'dm' channel configured, DMs go to 'messages'")
	}
	if _, ok := d.Channels["info"]; !ok {
		result.AddWarning("discord.channels.info", "no 'info' channel configured, mesh info won't be displayed")
	}
	if _, ok := d.Channels["messages"]; !ok {
		result.AddWarning("discord.channels.messages", "no 'messages' channel configured")
	}

	if d.BatchInterval <= 0 {
		result.AddError("discord.batch_interval", "batch interval must be positive")
	}
	if d.MaxBatchSize < 1 || d.MaxBatchSize > 10 {
		result.AddError("discord.max_batch_size", "max batch size must be 1-10 (Discord embed limit)")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateHistory(h *HistoryConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.Path) == "" {
		result.AddError("history.path", "history database path is required when enabled")
	}
	if h.RetentionDays < 1 {
		result.AddError("history.retention_days", "retention days must be at least 1")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Listen != "" && net.ParseIP(a.Listen) == nil && a.Listen != "localhost" {
		result.AddError("api.listen", fmt.Sprintf("invalid listen address: %s", a.Listen))
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsWebhookTarget reports whether a channel target is a webhook URL rather
// than a channel ID.
func IsWebhookTarget(target string) bool {
	return strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://")
}
