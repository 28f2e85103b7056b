package protocol

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

// decodeText interprets field bytes as UTF-8, replacing invalid sequences.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// textFrom decodes frame[off:] or returns "" when the frame ends earlier.
func textFrom(frame []byte, off int) string {
	if len(frame) <= off {
		return ""
	}
	return decodeText(frame[off:])
}

// splitSender splits "sender: message" once. ok is false when no separator
// is present.
func splitSender(text string) (sender, message string, ok bool) {
	sender, message, ok = strings.Cut(text, ": ")
	if !ok {
		return "", text, false
	}
	return sender, message, true
}

// hopCount maps the 0xFF "direct" marker to zero hops.
func hopCount(b byte) uint8 {
	if b == 0xFF {
		return 0
	}
	return b
}

// shortKey is the fallback display name for an unresolved key.
func shortKey(keyHex string) string {
	if len(keyHex) > 8 {
		keyHex = keyHex[:8]
	}
	return keyHex + "..."
}

func hexOf(b []byte) string {
	return hex.EncodeToString(b)
}

// printableName reports whether s is usable as a node name.
func printableName(s string) bool {
	for _, c := range s {
		if !unicode.IsPrint(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}
