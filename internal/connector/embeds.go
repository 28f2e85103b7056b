package connector

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

// Embed colors.
const (
	colorGreen    = 0x2ECC71
	colorBlue     = 0x3498DB
	colorPurple   = 0x9B59B6
	colorGold     = 0xF1C40F
	colorTeal     = 0x1ABC9C
	colorDarkGray = 0x607D8B
	colorGray     = 0x979C9F
)

const embedFooter = "meshbridge"

// Discord embed limits, counted in characters.
const (
	maxTitleLen       = 256
	maxDescriptionLen = 4096
	maxFieldNameLen   = 256
	maxFieldValueLen  = 1024
	maxEmbedFields    = 25
	// MaxMessageEmbedChars caps the combined text of all embeds in one message.
	MaxMessageEmbedChars = 6000
)

// Embed is a Discord message embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small text under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

func newEmbed(title string, color int, ts time.Time) Embed {
	return Embed{
		Title:     title,
		Color:     color,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: embedFooter},
	}
}

func (e *Embed) field(name, value string, inline bool) {
	if value == "" {
		value = "-"
	}
	e.Fields = append(e.Fields, EmbedField{Name: name, Value: value, Inline: inline})
}

// clamp cuts s to at most n characters, marking the cut with an ellipsis.
func clamp(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (e Embed) clamped() Embed {
	e.Title = clamp(e.Title, maxTitleLen)
	e.Description = clamp(e.Description, maxDescriptionLen)
	if len(e.Fields) > maxEmbedFields {
		e.Fields = e.Fields[:maxEmbedFields]
	}
	fields := make([]EmbedField, len(e.Fields))
	for i, f := range e.Fields {
		f.Name = clamp(f.Name, maxFieldNameLen)
		f.Value = clamp(f.Value, maxFieldValueLen)
		fields[i] = f
	}
	e.Fields = fields
	return e
}

// chars counts the text Discord weighs against the per-message limit.
func (e Embed) chars() int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	return n
}

// ChannelNames maps mesh channel numbers to display names.
var ChannelNames = map[uint8]string{
	0: "Public",
}

func channelName(n uint8) string {
	if name, ok := ChannelNames[n]; ok {
		return name
	}
	return fmt.Sprintf("#%d", n)
}

func shortHex(s string, n int) string {
	if len(s) <= n {
		return "`" + s + "`"
	}
	return "`" + s[:n] + "...`"
}

// FormatEvent renders an event as an embed cut to Discord's size limits.
// It reports false for events that are not worth posting, such as mesh
// packets without a node name.
func FormatEvent(ev events.Event) (Embed, bool) {
	e, ok := formatEvent(ev)
	if !ok {
		return Embed{}, false
	}
	return e.clamped(), true
}

func formatEvent(ev events.Event) (Embed, bool) {
	switch p := ev.Payload.(type) {
	case events.ChannelMessage:
		e := newEmbed("💬 Channel Message", colorGreen, ev.Time)
		e.Description = p.Message
		e.field("From", p.Sender, true)
		e.field("Channel", channelName(p.Channel), true)
		e.field("Hops", fmt.Sprint(p.Hops), true)
		return e, true

	case events.DirectMessage:
		e := newEmbed("📨 Direct Message", colorBlue, ev.Time)
		e.Description = p.Message
		e.field("From", p.Sender, true)
		e.field("Hops", fmt.Sprint(p.Hops), true)
		return e, true

	case events.MeshPacket:
		if p.NodeName == "" {
			return Embed{}, false
		}
		e := newEmbed("📡 Mesh Node Detected", colorPurple, ev.Time)
		e.field("Node", p.NodeName, true)
		e.field("Type", string(p.Subtype), true)
		if p.PubKey != "" {
			e.field("Key", shortHex(p.PubKey, 16), false)
		}
		return e, true

	case events.Advertisement:
		e := newEmbed("📢 Node Advertisement", colorBlue, ev.Time)
		e.field("Node", p.Name, true)
		e.field("Key", shortHex(p.PubKey, 16), false)
		return e, true

	case events.Contact:
		e := newEmbed("👤 New Contact", colorGold, ev.Time)
		e.field("Name", p.Name, true)
		e.field("Type", p.NodeType, true)
		e.field("Key", shortHex(p.PubKey, 16), false)
		return e, true

	case events.Ack:
		e := newEmbed("✅ ACK Received", colorGreen, ev.Time)
		e.field("Code", "`"+p.Code+"`", true)
		e.field("RTT", fmt.Sprintf("%dms", p.RTTMs), true)
		return e, true

	case events.RawSignal:
		e := newEmbed("📊 Signal Data", colorTeal, ev.Time)
		e.field("SNR", fmt.Sprintf("%.1f dB", p.SNR), true)
		e.field("RSSI", fmt.Sprintf("%d dBm", p.RSSI), true)
		return e, true

	case events.Trace:
		e := newEmbed("🔄 Trace Packet", colorDarkGray, ev.Time)
		if p.Error != "" {
			e.Description = shortHex(p.Hex, 50)
			e.field("Error", p.Error, true)
			return e, true
		}
		e.field("Tag", fmt.Sprint(p.Tag), true)
		e.field("Hops", fmt.Sprint(p.Hops()), true)
		if len(p.PathSNRs) > 0 {
			e.field("Avg SNR", fmt.Sprintf("%.1f dB", p.AverageSNR()), true)
		}
		if len(p.PathHashes) > 0 {
			e.field("Path", "`"+strings.Join(p.PathHashes, " → ")+"`", false)
		}
		return e, true

	case events.ContactSummary:
		e := newEmbed("📇 Contacts Loaded", colorGold, ev.Time)
		e.Description = fmt.Sprintf("%d contacts cached from the radio", p.Total)
		for _, t := range sortedKeys(p.ByType) {
			e.field(t, fmt.Sprint(p.ByType[t]), true)
		}
		return e, true

	default:
		e := newEmbed("ℹ️ "+titleCase(string(ev.Type)), colorGray, ev.Time)
		return e, true
	}
}

func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
