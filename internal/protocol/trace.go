package protocol

import (
	"encoding/binary"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

// TraceHeaderSize covers code, reserved, path length, flags, tag and auth code.
const TraceHeaderSize = 12

// ErrTraceTooShort is the error marker set on traces missing the fixed header.
const ErrTraceTooShort = "packet too short"

// DecodeTrace parses a trace frame:
//
//	[0x89][reserved][path_len][flags][tag:i32][auth:i32][hashes:path_len][snrs:path_len+1 i8]
//
// Truncated path sections are decoded as far as the bytes go. It never fails;
// a frame without the full header yields a Trace carrying only Hex and Error.
func DecodeTrace(frame []byte) events.Trace {
	t := events.Trace{Hex: hexOf(frame)}
	if len(frame) < TraceHeaderSize {
		t.Error = ErrTraceTooShort
		return t
	}

	t.PathLen = frame[2]
	t.Flags = frame[3]
	t.Tag = int32(binary.LittleEndian.Uint32(frame[4:8]))
	t.AuthCode = int32(binary.LittleEndian.Uint32(frame[8:12]))

	pathLen := int(t.PathLen)
	t.PathHashes = make([]string, 0, pathLen)
	for i := 0; i < pathLen; i++ {
		idx := TraceHeaderSize + i
		if idx >= len(frame) {
			break
		}
		t.PathHashes = append(t.PathHashes, hexOf(frame[idx:idx+1]))
	}

	snrStart := TraceHeaderSize + pathLen
	t.PathSNRs = make([]float64, 0, pathLen+1)
	for i := 0; i <= pathLen; i++ {
		idx := snrStart + i
		if idx >= len(frame) {
			break
		}
		t.PathSNRs = append(t.PathSNRs, float64(int8(frame[idx]))/4.0)
	}

	return t
}
