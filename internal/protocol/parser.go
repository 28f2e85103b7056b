package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

// ErrFrameTooShort is returned when a frame is shorter than its layout's minimum.
var ErrFrameTooShort = errors.New("frame too short")

// Minimum frame lengths per code.
const (
	minChannelMsg       = 8
	minContactMsg       = 13
	minContactMsgKeyed  = 16
	minChannelMsgPublic = 11
	minAdvert           = 33
	minContact          = 100
	minAck              = 9
	minRawData          = 4
)

const (
	contactNameStart = 100
	contactNameEnd   = 132
)

var nodeTypes = map[byte]string{
	1: "CHAT",
	2: "REPEATER",
	3: "ROOM",
}

// NodeTypeName maps a contact node type byte to its display name.
func NodeTypeName(t byte) string {
	if name, ok := nodeTypes[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", t)
}

// Decoder turns inbound frames into mesh events. It must be driven from a
// single goroutine; the Session it mutates is safe to read concurrently.
type Decoder struct {
	session *Session
	logger  zerolog.Logger
}

// NewDecoder creates a decoder bound to session. A nil session gets a fresh one.
func NewDecoder(session *Session) *Decoder {
	if session == nil {
		session = NewSession()
	}
	return &Decoder{
		session: session,
		logger:  log.With().Str("component", "decoder").Logger(),
	}
}

// Session returns the decoder's session state.
func (d *Decoder) Session() *Session {
	return d.session
}

// Decode processes one frame. It reports false when the frame produces no
// event: control frames, unknown codes, malformed frames and bootstrap
// contacts. Decode never panics.
func (d *Decoder) Decode(frame Frame) (ev *events.Event, ok bool) {
	if len(frame) == 0 {
		return nil, false
	}
	d.session.frames.Add(1)

	code := frame.Code()
	d.logger.Debug().
		Str("code", fmt.Sprintf("0x%02X", code)).
		Str("type", CodeName(code)).
		Int("len", len(frame)).
		Msg("decoding frame")

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("type", CodeName(code)).
				Str("hex", hexOf(frame)).
				Msg("frame decode panicked")
			ev, ok = nil, false
		}
	}()

	ev, err := d.dispatch(frame)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("type", CodeName(code)).
			Int("len", len(frame)).
			Msg("dropping malformed frame")
		return nil, false
	}
	return ev, ev != nil
}

func (d *Decoder) dispatch(frame Frame) (*events.Event, error) {
	switch code := frame.Code(); code {
	case RespChannelMsg:
		return d.decodeChannelMsg(frame)
	case RespContactMsg:
		return d.decodeContactMsg(frame)
	case RespContactMsgKeyed:
		return d.decodeContactMsgKeyed(frame)
	case RespChannelMsgPublic:
		return d.decodeChannelMsgPublic(frame)
	case PushMeshPacket:
		return d.decodeMeshPacket(frame), nil
	case PushAdvert:
		return d.decodeAdvert(frame)
	case RespContact:
		return d.decodeContact(frame)
	case RespEndContacts:
		return d.finalizeContacts(), nil
	case PushAck:
		return d.decodeAck(frame)
	case PushRawData:
		return d.decodeRawData(frame)
	case PushTraceData:
		return d.decodeTrace(frame), nil
	case PushMsgWaiting:
		d.logger.Debug().Msg("message waiting")
		return nil, nil
	case RespOK, RespError, RespContactsStart, RespSelfInfo, RespSent,
		RespCurrentTime, RespNoMoreMessages, RespDeviceInfo:
		d.logger.Debug().Str("type", CodeName(code)).Msg("device reply ignored")
		return nil, nil
	default:
		d.logger.Info().
			Str("code", fmt.Sprintf("0x%02X", code)).
			Str("hex", hexOf(frame)).
			Msg("unknown frame code")
		return nil, nil
	}
}

func tooShort(frame Frame, min int) error {
	if len(frame) < min {
		return fmt.Errorf("%s: %w: %d < %d", CodeName(frame.Code()), ErrFrameTooShort, len(frame), min)
	}
	return nil
}

func newEvent(p events.Payload, frame Frame) *events.Event {
	ev := events.New(p, frame)
	return &ev
}

// decodeChannelMsg handles the legacy channel layout:
// [op][channel][hop][rsv][ts:4][text]
func (d *Decoder) decodeChannelMsg(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minChannelMsg); err != nil {
		return nil, err
	}
	d.session.messages.Add(1)

	msg := events.ChannelMessage{
		Channel:   frame[1],
		Hops:      hopCount(frame[2]),
		Timestamp: binary.LittleEndian.Uint32(frame[4:8]),
	}
	text := textFrom(frame, 8)
	if sender, body, ok := splitSender(text); ok {
		msg.Sender, msg.Message = sender, body
	} else {
		msg.Sender, msg.Message = "Unknown", text
	}

	d.logger.Info().
		Uint8("channel", msg.Channel).
		Str("sender", msg.Sender).
		Uint8("hops", msg.Hops).
		Msg("channel message")
	return newEvent(msg, frame), nil
}

// decodeChannelMsgPublic handles the public channel layout:
// [op][counter:3][channel][hop][ts:4][flag][text]
func (d *Decoder) decodeChannelMsgPublic(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minChannelMsgPublic); err != nil {
		return nil, err
	}
	d.session.messages.Add(1)

	msg := events.ChannelMessage{
		Channel:   frame[4],
		Hops:      hopCount(frame[5]),
		Timestamp: binary.LittleEndian.Uint32(frame[6:10]),
	}
	text := textFrom(frame, 11)
	if sender, body, ok := splitSender(text); ok {
		msg.Sender, msg.Message = sender, body
	} else {
		msg.Sender, msg.Message = fmt.Sprintf("Channel #%d", msg.Channel), text
	}

	d.logger.Info().
		Uint8("channel", msg.Channel).
		Str("sender", msg.Sender).
		Uint8("hops", msg.Hops).
		Msg("channel message")
	return newEvent(msg, frame), nil
}

// decodeContactMsg handles the legacy direct message layout:
// [op][sender:6][hop][rsv:5][text]
func (d *Decoder) decodeContactMsg(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minContactMsg); err != nil {
		return nil, err
	}
	d.session.messages.Add(1)

	key := hexOf(frame[1:7])
	msg := events.DirectMessage{
		SenderKey: key,
		Sender:    d.session.Directory.Lookup(key, shortKey(key)),
		Hops:      hopCount(frame[7]),
		Message:   textFrom(frame, 13),
	}

	d.logger.Info().Str("sender", msg.Sender).Str("key", key).Msg("direct message")
	return newEvent(msg, frame), nil
}

// decodeContactMsgKeyed handles the direct message layout with counter and
// timestamp: [op][counter:3][sender:6][hop][rsv][ts:4][text]
func (d *Decoder) decodeContactMsgKeyed(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minContactMsgKeyed); err != nil {
		return nil, err
	}
	d.session.messages.Add(1)

	key := hexOf(frame[4:10])
	msg := events.DirectMessage{
		SenderKey: key,
		Sender:    d.session.Directory.Lookup(key, shortKey(key)),
		Hops:      hopCount(frame[10]),
		Timestamp: binary.LittleEndian.Uint32(frame[12:16]),
		Message:   textFrom(frame, 16),
	}

	d.logger.Info().Str("sender", msg.Sender).Str("key", key).Msg("direct message")
	return newEvent(msg, frame), nil
}

func (d *Decoder) decodeMeshPacket(frame Frame) *events.Event {
	d.session.meshPackets.Add(1)

	data := frame[1:]
	pkt := ClassifyMeshPacket(data)

	d.logger.Debug().
		Int("len", pkt.Length).
		Str("subtype", string(pkt.Subtype)).
		Str("node", pkt.NodeName).
		Msg("mesh packet")
	return newEvent(pkt, frame)
}

// ClassifyMeshPacket inspects an opaque mesh packet body. Bodies over 100
// bytes are treated as advertisements and scanned for a public key and a
// trailing node name; bodies under 20 bytes are beacons.
func ClassifyMeshPacket(data []byte) events.MeshPacket {
	pkt := events.MeshPacket{
		Length: len(data),
		Hex:    hexOf(data),
	}
	if len(data) < 2 {
		return pkt
	}
	pkt.Header = hexOf(data[0:2])

	switch {
	case len(data) > 100:
		pkt.Subtype = events.SubtypeAdvertisement
		pkt.PubKey = scanPubKey(data)
		pkt.NodeName = scanNodeName(data)
	case len(data) < 20:
		pkt.Subtype = events.SubtypeBeacon
	default:
		pkt.Subtype = events.SubtypeData
	}
	return pkt
}

func scanPubKey(data []byte) string {
	for _, off := range [...]int{4, 6, 8} {
		if len(data) < off+32 {
			continue
		}
		candidate := data[off : off+32]
		for _, b := range candidate {
			if b != 0x00 && b != 0xFF {
				return hexOf(candidate)
			}
		}
	}
	return ""
}

func scanNodeName(data []byte) string {
	tail := data
	if len(tail) > 50 {
		tail = tail[len(tail)-50:]
	}

	var parts [][]byte
	start, found := 0, false
	for i, b := range tail {
		if b == 0 {
			parts = append(parts, tail[start:i])
			start = i + 1
			found = true
		}
	}
	if !found {
		return ""
	}
	parts = append(parts, tail[start:])

	for i := len(parts) - 1; i >= 0; i-- {
		if len(parts[i]) <= 3 {
			continue
		}
		name := decodeText(parts[i])
		if printableName(name) {
			return name
		}
	}
	return ""
}

func (d *Decoder) decodeAdvert(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minAdvert); err != nil {
		return nil, err
	}
	d.session.adverts.Add(1)

	key := hexOf(frame[1:33])
	adv := events.Advertisement{
		PubKey: key,
		Name:   d.session.Directory.Lookup(key, shortKey(key)),
	}

	d.logger.Info().Str("name", adv.Name).Str("key", keyPrefix(key)).Msg("advertisement")
	return newEvent(adv, frame), nil
}

// ParseContact reads a contact record: [op][pubkey:32][type]...[name@100..132]
func ParseContact(frame Frame) (events.Contact, error) {
	if err := tooShort(frame, minContact); err != nil {
		return events.Contact{}, err
	}

	c := events.Contact{
		PubKey:   hexOf(frame[1:33]),
		NodeType: NodeTypeName(frame[33]),
	}
	if len(frame) >= contactNameEnd {
		name := frame[contactNameStart:contactNameEnd]
		end := len(name)
		for end > 0 && name[end-1] == 0 {
			end--
		}
		c.Name = decodeText(name[:end])
	}
	return c, nil
}

func (d *Decoder) decodeContact(frame Frame) (*events.Event, error) {
	c, err := ParseContact(frame)
	if err != nil {
		return nil, err
	}

	if !d.session.AddContact(c) {
		d.logger.Debug().Str("name", c.Name).Str("type", c.NodeType).Msg("cached contact")
		return nil, nil
	}

	d.logger.Info().Str("name", c.Name).Str("type", c.NodeType).Msg("new contact discovered")
	return newEvent(c, frame), nil
}

func (d *Decoder) finalizeContacts() *events.Event {
	summary, ok := d.session.Finalize()
	if !ok {
		d.logger.Debug().Msg("contact list already finalized")
		return nil
	}

	d.logger.Info().
		Int("total", summary.Total).
		Interface("by_type", summary.ByType).
		Msg("initial contact loading complete")
	return newEvent(summary, nil)
}

func (d *Decoder) decodeAck(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minAck); err != nil {
		return nil, err
	}

	ack := events.Ack{
		Code:  hexOf(frame[1:5]),
		RTTMs: binary.LittleEndian.Uint32(frame[5:9]),
	}
	d.logger.Info().Str("code", ack.Code).Uint32("rtt_ms", ack.RTTMs).Msg("ack")
	return newEvent(ack, frame), nil
}

func (d *Decoder) decodeRawData(frame Frame) (*events.Event, error) {
	if err := tooShort(frame, minRawData); err != nil {
		return nil, err
	}

	raw := events.RawSignal{
		SNR:     float64(int8(frame[1])) / 4.0,
		RSSI:    int8(frame[2]),
		Payload: hexOf(frame[4:]),
	}
	d.logger.Debug().Float64("snr", raw.SNR).Int8("rssi", raw.RSSI).Msg("raw data")
	return newEvent(raw, frame), nil
}

func (d *Decoder) decodeTrace(frame Frame) *events.Event {
	t := DecodeTrace(frame)
	if t.Error != "" {
		d.logger.Warn().Str("hex", t.Hex).Msg("trace packet too short")
	} else {
		d.logger.Info().
			Int32("tag", t.Tag).
			Int("hops", t.Hops()).
			Strs("path", t.PathHashes).
			Msg("trace")
	}
	return newEvent(t, frame)
}
