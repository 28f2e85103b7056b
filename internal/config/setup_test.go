package config

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
)

func TestSetupWizardSaves(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")

	// radio host, port, app name, three targets, token, mqtt, history,
	// api, api port
	answers := strings.Join([]string{
		"10.0.0.7",
		"",
		"Hilltop",
		"123456789012345678",
		"",
		"https://discord.com/api/webhooks/1/x",
		"bot-token",
		"no",
		"",
		"y",
		"abc",
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("wizard: %v\n%s", err, out.String())
	}

	loaded, err := Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	mc := loaded.GetMeshCore()
	if mc.Host != "10.0.0.7" || mc.Port != DefaultMeshCorePort || mc.AppName != "Hilltop" {
		t.Fatalf("meshcore = %+v", mc)
	}
	d := loaded.GetDiscord()
	if len(d.Channels) != 2 || d.Channels["info"] != "https://discord.com/api/webhooks/1/x" || d.Token != "bot-token" {
		t.Fatalf("discord = %+v", d)
	}
	if _, ok := d.Channels["dm"]; ok {
		t.Fatal("blank dm target saved")
	}
	if api := loaded.GetAPI(); !api.Enabled || api.Port != DefaultAPIPort {
		t.Fatalf("api = %+v", api)
	}
	if !strings.Contains(out.String(), "Invalid number") {
		t.Fatal("bad port not reported")
	}
}

func TestSetupWizardAbortsOnEOF(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")

	// no discord targets, then input ends
	err := RunSetupWizard(cfg, strings.NewReader("radio\n"), &bytes.Buffer{})
	if !errors.Is(err, ErrSetupAborted) {
		t.Fatalf("err = %v", err)
	}
}
