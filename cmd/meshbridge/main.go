// meshbridge relays traffic from a MeshCore companion radio to Discord.
//
// It holds a TCP session to the radio, decodes every inbound frame into a
// mesh event, and fans those events out to Discord, MQTT, a sqlite history
// log and prometheus counters. A small HTTP API and an interactive console
// expose the bridge's state.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
