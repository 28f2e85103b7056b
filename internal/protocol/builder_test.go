package protocol

import (
	"bytes"
	"testing"
)

func TestBuildCommands(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"device query", BuildDeviceQuery(ProtocolVersion), []byte{0x3C, 2, 0, 22, 5}},
		{"get contacts", BuildGetContacts(), []byte{0x3C, 1, 0, 4}},
		{"sync next", BuildSyncNextMessage(), []byte{0x3C, 1, 0, 10}},
		{
			"app start",
			BuildAppStart("Bridge"),
			[]byte{0x3C, 14, 0, 1, 1, 0, 0, 0, 0, 0, 0, 'B', 'r', 'i', 'd', 'g', 'e'},
		},
		{"raw command", BuildCommand(0x33, []byte{0xAA, 0xBB}), []byte{0x3C, 3, 0, 0x33, 0xAA, 0xBB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Fatalf("got %x, want %x", tt.got, tt.want)
			}
		})
	}
}

func TestPacketBuilderFrameHeader(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 300)
	got := NewPacketBuilder().PutByte(0x33).PutBytes(payload).PutString("ok").BuildFrame()
	if got[0] != OutboundMarker || got[1] != 0x2F || got[2] != 0x01 {
		t.Fatalf("header = %x", got[:3])
	}
	if len(got) != FrameHeaderSize+303 || string(got[len(got)-2:]) != "ok" {
		t.Fatalf("frame length %d, tail %q", len(got), got[len(got)-2:])
	}
}
