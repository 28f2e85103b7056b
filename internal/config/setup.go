package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSetupAborted is returned when the operator declines to retry after a
// validation failure.
var ErrSetupAborted = errors.New("configuration validation failed")

type wizard struct {
	in  *bufio.Reader
	out io.Writer
	eof bool
}

// RunSetupWizard guides the operator through first-time configuration,
// reading answers from in and writing prompts to out. The result is
// validated and saved to the config path.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{in: bufio.NewReader(in), out: out}

	for {
		w.ask(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof || !w.promptBool("Would you like to try again?", true) {
			return ErrSetupAborted
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	fmt.Fprintln(out, "  Run \"meshbridge run\" to start bridging.")
	fmt.Fprintln(out)
	return nil
}

func (w *wizard) ask(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(w.out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w.out, "║          meshbridge - First Run Setup        ║")
	fmt.Fprintln(w.out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "── Radio ──")
	cfg.MeshCore.Host = w.promptString("Radio host", cfg.MeshCore.Host)
	cfg.MeshCore.Port = w.promptInt("Radio TCP port", cfg.MeshCore.Port)
	cfg.MeshCore.AppName = w.promptString("App name announced to the radio", cfg.MeshCore.AppName)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Discord ──")
	fmt.Fprintln(w.out, `  Targets take a channel ID or a webhook URL. Enter "-" to clear one.`)
	if cfg.Discord.Channels == nil {
		cfg.Discord.Channels = map[string]string{}
	}
	for _, name := range []string{"messages", "dm", "info"} {
		v := w.promptString(fmt.Sprintf("Target for %q", name), cfg.Discord.Channels[name])
		if v == "" {
			delete(cfg.Discord.Channels, name)
			continue
		}
		cfg.Discord.Channels[name] = v
	}
	if needsBotToken(cfg.Discord.Channels) {
		cfg.Discord.Token = w.promptSecret("Bot token (or set "+TokenEnvVar+")", cfg.Discord.Token)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT republishing", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("Broker port", cfg.MQTT.Port)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── History & API ──")
	cfg.History.Enabled = w.promptBool("Keep an event history database", cfg.History.Enabled)
	cfg.API.Enabled = w.promptBool("Enable the status API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.promptInt("Status API port", cfg.API.Port)
	}
}

func needsBotToken(channels map[string]string) bool {
	for _, v := range channels {
		if !IsWebhookTarget(v) {
			return true
		}
	}
	return false
}

func (w *wizard) readLine() string {
	input, err := w.in.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	if input == "-" {
		return ""
	}
	return input
}

func (w *wizard) promptSecret(prompt string, current string) string {
	if current != "" {
		fmt.Fprintf(w.out, "  %s [keep current]: ", prompt)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}
	if input := w.readLine(); input != "" {
		return input
	}
	return current
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
