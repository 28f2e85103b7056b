package protocol

import (
	"encoding/hex"
	"reflect"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex %q: %v", s, err)
	}
	return b
}

func TestDecodeTraceFull(t *testing.T) {
	frame := mustHex(t, "890003000100000000000000a1b2c332281e14")
	tr := DecodeTrace(frame)

	if tr.Error != "" {
		t.Fatalf("unexpected error %q", tr.Error)
	}
	if tr.PathLen != 3 || tr.Tag != 1 || tr.AuthCode != 0 {
		t.Fatalf("header = len %d tag %d auth %d", tr.PathLen, tr.Tag, tr.AuthCode)
	}
	if want := []string{"a1", "b2", "c3"}; !reflect.DeepEqual(tr.PathHashes, want) {
		t.Fatalf("hashes = %v, want %v", tr.PathHashes, want)
	}
	if want := []float64{12.5, 10, 7.5, 5}; !reflect.DeepEqual(tr.PathSNRs, want) {
		t.Fatalf("snrs = %v, want %v", tr.PathSNRs, want)
	}
	if tr.Hops() != 3 {
		t.Fatalf("hops = %d, want 3", tr.Hops())
	}
	if tr.AverageSNR() != 8.75 {
		t.Fatalf("avg snr = %v", tr.AverageSNR())
	}
	if !reflect.DeepEqual(DecodeTrace(frame), tr) {
		t.Fatal("decode is not deterministic")
	}
}

func TestDecodeTraceTooShort(t *testing.T) {
	tr := DecodeTrace(mustHex(t, "8900030001"))
	if tr.Error != ErrTraceTooShort {
		t.Fatalf("error = %q", tr.Error)
	}
	if tr.Hex != "8900030001" {
		t.Fatalf("hex = %q", tr.Hex)
	}
	if tr.PathHashes != nil || tr.PathSNRs != nil {
		t.Fatal("short trace decoded path fields")
	}
}

func TestDecodeTraceTruncatedPath(t *testing.T) {
	// path_len 3 but only two hashes present
	tr := DecodeTrace(mustHex(t, "890003000100000000000000a1b2"))
	if tr.Error != "" {
		t.Fatalf("unexpected error %q", tr.Error)
	}
	if want := []string{"a1", "b2"}; !reflect.DeepEqual(tr.PathHashes, want) {
		t.Fatalf("hashes = %v", tr.PathHashes)
	}
	if len(tr.PathSNRs) != 0 || tr.Hops() != 0 {
		t.Fatalf("snrs = %v", tr.PathSNRs)
	}

	// hashes complete, one SNR missing; negative SNR
	tr = DecodeTrace(mustHex(t, "890002000100000000000000a1b2f8"))
	if want := []float64{-2}; !reflect.DeepEqual(tr.PathSNRs, want) {
		t.Fatalf("snrs = %v, want %v", tr.PathSNRs, want)
	}
}

func TestDecodeTraceSignedTag(t *testing.T) {
	tr := DecodeTrace(mustHex(t, "89000000ffffffff0200000005"))
	if tr.Tag != -1 || tr.AuthCode != 2 {
		t.Fatalf("tag %d auth %d", tr.Tag, tr.AuthCode)
	}
	if tr.Hops() != 0 || len(tr.PathSNRs) != 1 {
		t.Fatalf("snrs = %v", tr.PathSNRs)
	}
}
