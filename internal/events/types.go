// Package events defines the mesh event types produced by the protocol
// decoder and the bus that hands them to downstream sinks.
package events

import (
	"encoding/hex"
	"time"
)

// EventType identifies the kind of mesh event.
type EventType string

const (
	EventChannelMessage EventType = "channel_message"
	EventDirectMessage  EventType = "direct_message"
	EventMeshPacket     EventType = "mesh_packet"
	EventAdvertisement  EventType = "advertisement"
	EventContact        EventType = "contact"
	EventAck            EventType = "ack"
	EventRawData        EventType = "raw_data"
	EventTrace          EventType = "trace"
	EventContactSummary EventType = "contact_summary"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	EventChannelMessage,
	EventDirectMessage,
	EventMeshPacket,
	EventAdvertisement,
	EventContact,
	EventAck,
	EventRawData,
	EventTrace,
	EventContactSummary,
}

// Event is a single decoded mesh event. Events are immutable once built;
// receivers must not modify Raw.
type Event struct {
	Type    EventType
	Time    time.Time
	Raw     []byte
	Payload Payload
}

// New builds an event whose type is taken from the payload.
func New(payload Payload, raw []byte) Event {
	return Event{
		Type:    payload.EventType(),
		Time:    time.Now(),
		Raw:     raw,
		Payload: payload,
	}
}

// RawHex returns the raw frame bytes as lowercase hex.
func (e Event) RawHex() string {
	return hex.EncodeToString(e.Raw)
}

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	EventType() EventType
	sealed()
}

// ChannelMessage is a message posted to a mesh channel.
type ChannelMessage struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Channel   uint8  `json:"channel"`
	Hops      uint8  `json:"hops"`
	Timestamp uint32 `json:"timestamp"`
}

// DirectMessage is a message addressed to this node.
type DirectMessage struct {
	Sender    string `json:"sender"`
	SenderKey string `json:"sender_key"`
	Message   string `json:"message"`
	Hops      uint8  `json:"hops"`
	Timestamp uint32 `json:"timestamp,omitempty"`
}

// PacketSubtype classifies an opaque mesh packet by size.
type PacketSubtype string

const (
	SubtypeNone          PacketSubtype = ""
	SubtypeAdvertisement PacketSubtype = "ADVERTISEMENT"
	SubtypeBeacon        PacketSubtype = "BEACON"
	SubtypeData          PacketSubtype = "DATA"
)

// MeshPacket is a raw packet overheard on the mesh.
type MeshPacket struct {
	Length   int           `json:"length"`
	Hex      string        `json:"hex"`
	Header   string        `json:"header,omitempty"`
	Subtype  PacketSubtype `json:"subtype,omitempty"`
	PubKey   string        `json:"pubkey,omitempty"`
	NodeName string        `json:"node_name,omitempty"`
}

// Advertisement is a node advertisement pushed by the radio.
type Advertisement struct {
	PubKey string `json:"pubkey"`
	Name   string `json:"name"`
}

// Contact is one entry of the radio's contact list.
type Contact struct {
	PubKey   string `json:"pubkey"`
	Name     string `json:"name"`
	NodeType string `json:"node_type"`
}

// Ack confirms delivery of a previously sent message.
type Ack struct {
	Code  string `json:"ack_code"`
	RTTMs uint32 `json:"rtt_ms"`
}

// RawSignal carries a raw radio payload with its signal quality.
type RawSignal struct {
	SNR     float64 `json:"snr_db"`
	RSSI    int8    `json:"rssi_dbm"`
	Payload string  `json:"payload"`
}

// Trace is a path trace result. Error is set only when the fixed header
// was missing; in that case only Hex is meaningful.
type Trace struct {
	Hex        string    `json:"hex"`
	Error      string    `json:"error,omitempty"`
	PathLen    uint8     `json:"path_len"`
	Flags      uint8     `json:"flags"`
	Tag        int32     `json:"tag"`
	AuthCode   int32     `json:"auth_code"`
	PathHashes []string  `json:"path_hashes"`
	PathSNRs   []float64 `json:"path_snrs"`
}

// Hops is the number of relays on the traced path. The final SNR entry is
// the link to the destination.
func (t Trace) Hops() int {
	if len(t.PathSNRs) == 0 {
		return 0
	}
	return len(t.PathSNRs) - 1
}

// AverageSNR returns the mean of the path SNR values, or 0 when empty.
func (t Trace) AverageSNR() float64 {
	if len(t.PathSNRs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.PathSNRs {
		sum += v
	}
	return sum / float64(len(t.PathSNRs))
}

// ContactSummary is emitted once when the initial contact load finishes.
type ContactSummary struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	Contacts []Contact      `json:"contacts"`
}

func (ChannelMessage) EventType() EventType { return EventChannelMessage }
func (DirectMessage) EventType() EventType  { return EventDirectMessage }
func (MeshPacket) EventType() EventType     { return EventMeshPacket }
func (Advertisement) EventType() EventType  { return EventAdvertisement }
func (Contact) EventType() EventType        { return EventContact }
func (Ack) EventType() EventType            { return EventAck }
func (RawSignal) EventType() EventType      { return EventRawData }
func (Trace) EventType() EventType          { return EventTrace }
func (ContactSummary) EventType() EventType { return EventContactSummary }

func (ChannelMessage) sealed() {}
func (DirectMessage) sealed()  {}
func (MeshPacket) sealed()     {}
func (Advertisement) sealed()  {}
func (Contact) sealed()        {}
func (Ack) sealed()            {}
func (RawSignal) sealed()      {}
func (Trace) sealed()          {}
func (ContactSummary) sealed() {}
