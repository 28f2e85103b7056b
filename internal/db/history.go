package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

// StoredEvent is one row of the event log.
type StoredEvent struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	RawHex  string          `json:"raw,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NodeRecord is a node seen through contacts, adverts or mesh packets.
type NodeRecord struct {
	PubKey    string    `json:"pubkey"`
	Name      string    `json:"name"`
	NodeType  string    `json:"node_type,omitempty"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// HistoryStore persists decoded events and known nodes.
type HistoryStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewHistoryStore opens the database at dbPath and applies the schema.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{
		db:     database,
		logger: log.With().Str("component", "history").Logger(),
	}
	if err := hs.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

func (hs *HistoryStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			type        TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			raw_hex     TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

		CREATE TABLE IF NOT EXISTS nodes (
			pubkey     TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			node_type  TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL,
			first_seen INTEGER NOT NULL,
			last_seen  INTEGER NOT NULL
		);
	`
	_, err := hs.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Subscribe registers the store on the bus for every event type.
func (hs *HistoryStore) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("history.record", hs.Record)
}

// Record appends ev to the event log and updates the node table for events
// that identify a node.
func (hs *HistoryStore) Record(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ev.Type, err)
	}

	nodes := nodesFrom(ev)

	return hs.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO events (type, received_at, raw_hex, payload) VALUES (?, ?, ?, ?)",
			string(ev.Type), ev.Time.UnixMilli(), ev.RawHex(), string(payload),
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		for _, n := range nodes {
			if err := upsertNode(tx, n, ev.Time); err != nil {
				return err
			}
		}
		return nil
	})
}

func nodesFrom(ev events.Event) []NodeRecord {
	switch p := ev.Payload.(type) {
	case events.Contact:
		return []NodeRecord{{PubKey: p.PubKey, Name: p.Name, NodeType: p.NodeType, Source: "contact"}}
	case events.ContactSummary:
		out := make([]NodeRecord, 0, len(p.Contacts))
		for _, c := range p.Contacts {
			out = append(out, NodeRecord{PubKey: c.PubKey, Name: c.Name, NodeType: c.NodeType, Source: "contact"})
		}
		return out
	case events.Advertisement:
		return []NodeRecord{{PubKey: p.PubKey, Name: p.Name, Source: "advert"}}
	case events.MeshPacket:
		if p.PubKey != "" && p.NodeName != "" {
			return []NodeRecord{{PubKey: p.PubKey, Name: p.NodeName, Source: "mesh_packet"}}
		}
	}
	return nil
}

func upsertNode(tx *sql.Tx, n NodeRecord, seen time.Time) error {
	if n.PubKey == "" {
		return nil
	}
	_, err := tx.Exec(`
		INSERT INTO nodes (pubkey, name, node_type, source, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE nodes.name END,
			node_type = CASE WHEN excluded.node_type != '' THEN excluded.node_type ELSE nodes.node_type END,
			source = excluded.source,
			last_seen = excluded.last_seen`,
		n.PubKey, n.Name, n.NodeType, n.Source, seen.UnixMilli(), seen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", n.PubKey, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty eventType
// matches every type.
func (hs *HistoryStore) Recent(eventType string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, type, received_at, raw_hex, payload FROM events"
	args := []interface{}{}
	if eventType != "" {
		query += " WHERE type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := hs.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			e       StoredEvent
			ms      int64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Type, &ms, &e.RawHex, &payload); err != nil {
			return nil, err
		}
		e.Time = time.UnixMilli(ms).UTC()
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Nodes returns every known node ordered by most recently seen.
func (hs *HistoryStore) Nodes() ([]NodeRecord, error) {
	rows, err := hs.db.Query(
		"SELECT pubkey, name, node_type, source, first_seen, last_seen FROM nodes ORDER BY last_seen DESC, name",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeRecord
	for rows.Next() {
		var (
			n           NodeRecord
			first, last int64
		)
		if err := rows.Scan(&n.PubKey, &n.Name, &n.NodeType, &n.Source, &first, &last); err != nil {
			return nil, err
		}
		n.FirstSeen = time.UnixMilli(first).UTC()
		n.LastSeen = time.UnixMilli(last).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountByType returns the number of stored events per type.
func (hs *HistoryStore) CountByType() (map[string]int, error) {
	rows, err := hs.db.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Prune deletes events received before cutoff and returns how many were
// removed. Nodes are kept.
func (hs *HistoryStore) Prune(cutoff time.Time) (int64, error) {
	res, err := hs.db.Exec("DELETE FROM events WHERE received_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		hs.logger.Info().Int64("deleted", n).Time("before", cutoff).Msg("pruned event history")
	}
	return n, nil
}
