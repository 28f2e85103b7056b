package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
)

var (
	decodeStream bool
	decodeLive   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode captured frames offline and print the events as JSON",
	Long: `Decode one or more hex-encoded frames. By default each argument is a
single frame starting with its code byte. With --stream the arguments are
joined and treated as raw bytes read from the radio, markers included.

Arguments share one decoder session, so contacts decoded earlier resolve
sender names in later messages.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// malformed frames are reported on stderr, debug noise is not
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).Level(zerolog.WarnLevel)

		decoded, err := decodeArgs(args, decodeStream, decodeLive)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(decoded)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeStream, "stream", false, "treat input as a raw byte stream with 0x3E frame markers")
	decodeCmd.Flags().BoolVar(&decodeLive, "live", false, "skip the contact bootstrap so contacts are emitted one by one")
}

// decodedFrame is one line of decode output.
type decodedFrame struct {
	Code    string         `json:"code"`
	Raw     string         `json:"raw"`
	Event   string         `json:"event,omitempty"`
	Time    *time.Time     `json:"time,omitempty"`
	Payload events.Payload `json:"payload,omitempty"`
}

func decodeArgs(args []string, stream, live bool) ([]decodedFrame, error) {
	decoder := protocol.NewDecoder(nil)
	if live {
		decoder.Session().Finalize()
	}

	var frames []protocol.Frame
	if stream {
		data, err := parseHex(strings.Join(args, ""))
		if err != nil {
			return nil, err
		}
		reader := protocol.NewFrameReader()
		reader.Feed(data, func(f protocol.Frame) {
			frames = append(frames, f)
		})
		if n := reader.Buffered(); n > 0 {
			return nil, fmt.Errorf("%d trailing bytes do not form a complete frame", n)
		}
	} else {
		for _, arg := range args {
			data, err := parseHex(arg)
			if err != nil {
				return nil, err
			}
			frames = append(frames, protocol.Frame(data))
		}
	}

	out := make([]decodedFrame, 0, len(frames))
	for _, f := range frames {
		df := decodedFrame{
			Code: protocol.CodeName(f.Code()),
			Raw:  hex.EncodeToString(f),
		}
		if ev, ok := decoder.Decode(f); ok {
			t := ev.Time.UTC()
			df.Event = string(ev.Type)
			df.Time = &t
			df.Payload = ev.Payload
		}
		out = append(out, df)
	}
	return out, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty frame")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return data, nil
}
