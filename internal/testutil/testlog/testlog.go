// Package testlog routes the global zerolog logger into the test log.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start sends global log output to t.Log for the duration of the test.
func Start(t *testing.T) {
	t.Helper()
	prev := log.Logger
	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })
	log.Info().Str("test", t.Name()).Msg("test started")
}
