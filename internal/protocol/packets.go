// Package protocol implements the MeshCore companion radio frame protocol:
// stream framing, outbound command encoding, and decoding of inbound frames
// into mesh events. All multi-byte integers are little-endian.
package protocol

import "fmt"

// Frame markers.
const (
	InboundMarker  byte = 0x3E // '>' radio -> bridge
	OutboundMarker byte = 0x3C // '<' bridge -> radio
)

// FrameHeaderSize is the marker byte plus the 2-byte length prefix.
const FrameHeaderSize = 3

// Response and push codes sent by the radio.
const (
	RespOK               byte = 0x00
	RespError            byte = 0x01
	RespContactsStart    byte = 0x02
	RespContact          byte = 0x03
	RespEndContacts      byte = 0x04
	RespSelfInfo         byte = 0x05
	RespSent             byte = 0x06
	RespContactMsg       byte = 0x07 // direct message, legacy layout
	RespChannelMsg       byte = 0x08 // channel message, legacy layout
	RespCurrentTime      byte = 0x09
	RespNoMoreMessages   byte = 0x0A
	RespDeviceInfo       byte = 0x0D
	RespContactMsgKeyed  byte = 0x10 // direct message with counter + timestamp
	RespChannelMsgPublic byte = 0x11 // public channel message

	PushAdvert     byte = 0x80
	PushAck        byte = 0x82
	PushMsgWaiting byte = 0x83
	PushRawData    byte = 0x84
	PushMeshPacket byte = 0x88
	PushTraceData  byte = 0x89
)

// Command codes sent to the radio.
const (
	CmdAppStart        byte = 1
	CmdGetContacts     byte = 4
	CmdSyncNextMessage byte = 10
	CmdDeviceQuery     byte = 22
)

// ProtocolVersion is announced in the device query.
const ProtocolVersion byte = 5

var codeNames = map[byte]string{
	RespOK:               "OK",
	RespError:            "ERROR",
	RespContactsStart:    "CONTACTS_START",
	RespContact:          "CONTACT",
	RespEndContacts:      "END_CONTACTS",
	RespSelfInfo:         "SELF_INFO",
	RespSent:             "SENT",
	RespContactMsg:       "CONTACT_MSG",
	RespChannelMsg:       "CHANNEL_MSG",
	RespCurrentTime:      "TIME",
	RespNoMoreMessages:   "NO_MORE_MSG",
	RespDeviceInfo:       "DEVICE_INFO",
	RespContactMsgKeyed:  "CHANNEL_MSG_DM",
	RespChannelMsgPublic: "CHANNEL_MSG_PUBLIC",
	PushAdvert:           "ADVERT",
	PushAck:              "ACK",
	PushMsgWaiting:       "MSG_WAITING",
	PushRawData:          "RAW_DATA",
	PushMeshPacket:       "MESH_PACKET",
	PushTraceData:        "TRACE",
}

// CodeName returns the symbolic name of a frame code.
func CodeName(code byte) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", code)
}

// Frame is one complete inbound frame: the code byte followed by its body.
type Frame []byte

// Code returns the frame's opcode, or 0 for an empty frame.
func (f Frame) Code() byte {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}
