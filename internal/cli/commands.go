// Package cli implements the interactive console: status and contact
// tables, a manual message sync and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/db"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

// Radio is the part of the radio connector the console drives.
type Radio interface {
	Stats() connector.ConnectorStats
	Session() *protocol.Session
	RequestSync() error
}

// Notifier reports Discord delivery counters.
type Notifier interface {
	Stats() connector.DiscordStats
}

// NodeLister lists nodes from the history store.
type NodeLister interface {
	Nodes() ([]db.NodeRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	radio    Radio
	notifier Notifier
	nodes    NodeLister
	shutdown func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading stdin. shutdown is called on "quit".
func NewCLI(radio Radio, shutdown func()) *CLI {
	return &CLI{
		radio:    radio,
		shutdown: shutdown,
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// SetDependencies injects the optional sources. Either may be nil.
func (c *CLI) SetDependencies(notifier Notifier, nodes NodeLister) {
	c.notifier = notifier
	c.nodes = nodes
}

// Start runs the read-eval loop until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nmeshbridge console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "meshbridge> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.execute(line); quit {
				return
			}
		}
	}
}

// execute runs one command line and reports whether the console should exit.
func (c *CLI) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "contacts", "c":
		c.printContacts(args)
	case "nodes":
		c.printNodes()
	case "resync", "sync":
		if err := c.radio.RequestSync(); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		} else {
			fmt.Fprintln(c.out, "Sync requested")
		}
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down meshbridge...")
		log.Info().Str("component", "cli").Msg("shutdown requested from console")
		if c.shutdown != nil {
			c.shutdown()
		}
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false
}

func (c *CLI) printHelp() {
	tw := c.table([]string{"Command", "Description"})
	tw.AppendBulk([][]string{
		{"status", "Radio, decoder and Discord counters"},
		{"contacts [filter]", "Cached contacts, optionally filtered by name"},
		{"nodes", "Every node recorded in history"},
		{"resync", "Ask the radio for its next queued message"},
		{"quit", "Shut down meshbridge"},
		{"help", "Show this help message"},
	})
	tw.Render()
}

func (c *CLI) printStatus() {
	radio := c.radio.Stats()
	dec := c.radio.Session().Stats()

	tw := c.table([]string{"Metric", "Value"})
	tw.AppendBulk([][]string{
		{"Radio", radio.Address},
		{"State", radio.State},
		{"Reconnects", fmt.Sprint(radio.Reconnects)},
		{"Commands sent", fmt.Sprint(radio.FramesSent)},
		{"Session phase", dec.Phase},
		{"Frames", fmt.Sprint(dec.Frames)},
		{"Messages", fmt.Sprint(dec.Messages)},
		{"Mesh packets", fmt.Sprint(dec.MeshPackets)},
		{"Adverts", fmt.Sprint(dec.Adverts)},
		{"Contacts", fmt.Sprint(dec.Contacts)},
		{"Uptime", util.Uptime().Truncate(time.Second).String()},
	})
	if c.notifier != nil {
		d := c.notifier.Stats()
		tw.AppendBulk([][]string{
			{"Discord sent", fmt.Sprint(d.MessagesSent)},
			{"Discord errors", fmt.Sprint(d.Errors)},
			{"Message queue", fmt.Sprint(d.MessageQueueSize)},
			{"Info queue", fmt.Sprint(d.InfoQueueSize)},
		})
	}
	tw.Render()
}

func (c *CLI) printContacts(args []string) {
	filter := strings.ToLower(strings.Join(args, " "))

	tw := c.table([]string{"Name", "Type", "Key"})
	shown := 0
	for _, ct := range c.radio.Session().Directory.Snapshot() {
		if filter != "" && !strings.Contains(strings.ToLower(ct.Name), filter) {
			continue
		}
		tw.Append([]string{ct.Name, ct.NodeType, shortKey(ct.PubKey)})
		shown++
	}
	tw.SetFooter([]string{"", "Total", fmt.Sprint(shown)})
	tw.Render()
}

func (c *CLI) printNodes() {
	if c.nodes == nil {
		fmt.Fprintln(c.out, "History is disabled")
		return
	}
	nodes, err := c.nodes.Nodes()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	tw := c.table([]string{"Name", "Type", "Source", "Last seen", "Key"})
	for _, n := range nodes {
		tw.Append([]string{n.Name, n.NodeType, n.Source, n.LastSeen.Local().Format("2006-01-02 15:04"), shortKey(n.PubKey)})
	}
	tw.Render()
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12] + "..."
}
