package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.yaml", `
meshcore:
  host: 192.168.1.50
discord:
  token: abc
  channels:
    messages: "123456789012345678"
    info: https://discord.com/api/webhooks/1/x
  batch_interval: 1.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mc := cfg.GetMeshCore()
	if mc.Host != "192.168.1.50" || mc.Port != DefaultMeshCorePort || !mc.AutoReconnect {
		t.Fatalf("meshcore = %+v", mc)
	}
	if mc.ReconnectDelayDuration() != 5*time.Second {
		t.Fatalf("reconnect delay = %v", mc.ReconnectDelayDuration())
	}
	if mc.Address() != "192.168.1.50:4000" {
		t.Fatalf("address = %s", mc.Address())
	}
	d := cfg.GetDiscord()
	if d.BatchIntervalDuration() != 1500*time.Millisecond || d.MaxBatchSize != DefaultMaxBatchSize {
		t.Fatalf("discord = %+v", d)
	}
	if len(d.Channels) != 2 {
		t.Fatalf("channels = %v", d.Channels)
	}
}

func TestLoadJSONAndTOML(t *testing.T) {
	testlog.Start(t)
	jsonPath := writeFile(t, "config.json", `{"meshcore":{"host":"radio","port":5000}}`)
	cfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if cfg.GetMeshCore().Port != 5000 {
		t.Fatalf("port = %d", cfg.GetMeshCore().Port)
	}

	tomlPath := writeFile(t, "config.toml", `
[meshcore]
host = "radio"
auto_reconnect = false

[discord.channels]
dm = "234567890123456789"
`)
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.GetMeshCore().AutoReconnect {
		t.Fatal("auto_reconnect not overridden")
	}
	if cfg.GetDiscord().Channels["dm"] != "234567890123456789" {
		t.Fatalf("channels = %v", cfg.GetDiscord().Channels)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path() != path {
		t.Fatalf("path = %s", cfg.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.GetMeshCore().Port != DefaultMeshCorePort {
		t.Fatalf("round trip port = %d", again.GetMeshCore().Port)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load("config.ini"); err == nil {
		t.Fatal("expected error for .ini")
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	testlog.Start(t)
	t.Setenv(TokenEnvVar, "from-env")
	path := writeFile(t, "config.yaml", "discord:\n  token: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GetDiscord().Token != "from-env" {
		t.Fatalf("token = %q", cfg.GetDiscord().Token)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	res := Validate(cfg)
	if res.IsValid() {
		t.Fatal("default config without host or channels should be invalid")
	}

	cfg.MeshCore.Host = "radio"
	cfg.Discord.Channels = map[string]string{"messages": "123456789012345678"}
	res = Validate(cfg)
	if res.IsValid() {
		t.Fatal("channel ID target without token should be invalid")
	}

	cfg.Discord.Token = "tok"
	res = Validate(cfg)
	if !res.IsValid() {
		t.Fatalf("errors = %v", res.Errors)
	}
	warned := map[string]bool{}
	for _, w := range res.Warnings {
		warned[w.Field] = true
	}
	if !warned["discord.channels.dm"] || !warned["discord.channels.info"] {
		t.Fatalf("warnings = %v", res.Warnings)
	}

	webhookOnly := DefaultConfig()
	webhookOnly.MeshCore.Host = "radio"
	webhookOnly.Discord.Channels = map[string]string{"info": "https://discord.com/api/webhooks/1/abc"}
	if res := Validate(webhookOnly); !res.IsValid() {
		t.Fatalf("webhook-only errors = %v", res.Errors)
	}

	cfg.Discord.MaxBatchSize = 25
	if Validate(cfg).IsValid() {
		t.Fatal("batch size above the embed limit accepted")
	}
}

func TestValidateLinkTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MeshCore.Host = "radio"
	cfg.Discord.Channels = map[string]string{"info": "https://discord.com/api/webhooks/1/abc"}
	cfg.Timers.LinkTimeout = cfg.MeshCore.SyncInterval

	res := Validate(cfg)
	found := false
	for _, w := range res.Warnings {
		if w.Field == "timers.link_timeout_sec" {
			found = true
		}
	}
	if !res.IsValid() || !found {
		t.Fatalf("errors = %v, warnings = %v", res.Errors, res.Warnings)
	}
}
