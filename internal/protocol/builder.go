package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs command payloads for the radio.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// PutByte appends a single byte.
func (b *PacketBuilder) PutByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// PutBytes appends raw bytes.
func (b *PacketBuilder) PutBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// PutString appends the string bytes with no length prefix or terminator.
func (b *PacketBuilder) PutString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	return b
}

// BuildFrame wraps the built bytes in an outbound frame:
// [0x3C][length:2 LE][bytes...].
func (b *PacketBuilder) BuildFrame() []byte {
	data := b.buf.Bytes()
	result := make([]byte, FrameHeaderSize+len(data))
	result[0] = OutboundMarker
	binary.LittleEndian.PutUint16(result[1:3], uint16(len(data)))
	copy(result[FrameHeaderSize:], data)
	return result
}

// ---- Command frames ----

// BuildCommand serializes a command frame: [0x3C][len:2][code][payload].
func BuildCommand(code byte, payload []byte) []byte {
	return NewPacketBuilder().PutByte(code).PutBytes(payload).BuildFrame()
}

// BuildDeviceQuery asks the radio for device info, announcing our protocol version.
func BuildDeviceQuery(version byte) []byte {
	return BuildCommand(CmdDeviceQuery, []byte{version})
}

// BuildAppStart announces the application identity.
// Payload: [app_ver:1][reserved:6][app_name...]
func BuildAppStart(appName string) []byte {
	return NewPacketBuilder().
		PutByte(CmdAppStart).
		PutByte(1).
		PutBytes(make([]byte, 6)).
		PutString(appName).
		BuildFrame()
}

// BuildGetContacts requests the full contact list.
func BuildGetContacts() []byte {
	return BuildCommand(CmdGetContacts, nil)
}

// BuildSyncNextMessage requests the next queued message.
func BuildSyncNextMessage() []byte {
	return BuildCommand(CmdSyncNextMessage, nil)
}
