package protocol

import "encoding/binary"

// FrameReader extracts inbound frames from an unbounded byte stream.
// It is not safe for concurrent use; the connection read loop owns it.
type FrameReader struct {
	buf    []byte
	off    int
	resync uint64
}

// NewFrameReader creates an empty FrameReader.
func NewFrameReader() *FrameReader {
	return &FrameReader{buf: make([]byte, 0, 4096)}
}

// Feed appends chunk to the buffer and calls fn for every complete frame,
// in wire order, before attempting the next extraction. The frame passed to
// fn is a copy and may be retained.
func (r *FrameReader) Feed(chunk []byte, fn func(Frame)) {
	r.buf = append(r.buf, chunk...)

	for len(r.buf)-r.off >= FrameHeaderSize {
		if r.buf[r.off] != InboundMarker {
			r.off++
			r.resync++
			continue
		}

		length := int(binary.LittleEndian.Uint16(r.buf[r.off+1 : r.off+3]))
		end := r.off + FrameHeaderSize + length
		if len(r.buf) < end {
			break
		}

		frame := make(Frame, length)
		copy(frame, r.buf[r.off+FrameHeaderSize:end])
		r.off = end
		fn(frame)
	}

	r.compact()
}

// compact drops consumed bytes once they dominate the buffer.
func (r *FrameReader) compact() {
	if r.off == 0 {
		return
	}
	if r.off == len(r.buf) {
		r.buf = r.buf[:0]
		r.off = 0
		return
	}
	if r.off >= len(r.buf)/2 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}
}

// Buffered returns the number of unconsumed bytes.
func (r *FrameReader) Buffered() int {
	return len(r.buf) - r.off
}

// Resyncs returns how many bytes were dropped while hunting for a marker.
func (r *FrameReader) Resyncs() uint64 {
	return r.resync
}

// Reset discards all buffered bytes. Called when the connection is
// re-established since the wire is no longer contiguous.
func (r *FrameReader) Reset() {
	r.buf = r.buf[:0]
	r.off = 0
}
