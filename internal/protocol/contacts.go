package protocol

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

// KeyPrefixLen is the number of hex characters (6 bytes) used as the
// directory key.
const KeyPrefixLen = 12

// ContactDirectory maps public key prefixes to display names. Entries are
// added or overwritten, never removed. Writes come from the decode loop;
// the lock lets the API and console read concurrently.
type ContactDirectory struct {
	mu      sync.RWMutex
	names   map[string]string
	entries map[string]events.Contact
}

// NewContactDirectory creates an empty directory.
func NewContactDirectory() *ContactDirectory {
	return &ContactDirectory{
		names:   make(map[string]string),
		entries: make(map[string]events.Contact),
	}
}

func keyPrefix(keyHex string) string {
	if len(keyHex) > KeyPrefixLen {
		return keyHex[:KeyPrefixLen]
	}
	return keyHex
}

// Put records a contact under its key prefix.
func (d *ContactDirectory) Put(c events.Contact) {
	prefix := keyPrefix(c.PubKey)
	d.mu.Lock()
	d.names[prefix] = c.Name
	d.entries[prefix] = c
	d.mu.Unlock()
}

// Lookup resolves a key (any length of hex) by its prefix, returning
// fallback on a miss.
func (d *ContactDirectory) Lookup(keyHex, fallback string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := d.names[keyPrefix(keyHex)]; ok {
		return name
	}
	return fallback
}

// Len returns the number of known contacts.
func (d *ContactDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// Snapshot returns all contacts sorted by name, then key.
func (d *ContactDirectory) Snapshot() []events.Contact {
	d.mu.RLock()
	out := make([]events.Contact, 0, len(d.entries))
	for _, c := range d.entries {
		out = append(out, c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PubKey < out[j].PubKey
	})
	return out
}

// Phase is the contact bootstrap state of a session.
type Phase int32

const (
	PhaseBootstrapping Phase = iota
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseLive:
		return "live"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	Frames      uint64 `json:"frames"`
	Messages    uint64 `json:"messages"`
	MeshPackets uint64 `json:"mesh_packets"`
	Adverts     uint64 `json:"adverts"`
	Contacts    int    `json:"contacts"`
	Phase       string `json:"phase"`
}

// Session holds the decoder state for one logical radio session.
type Session struct {
	Directory *ContactDirectory

	phase   atomic.Int32
	pending []events.Contact

	frames      atomic.Uint64
	messages    atomic.Uint64
	meshPackets atomic.Uint64
	adverts     atomic.Uint64
}

// NewSession creates a session in the bootstrapping phase.
func NewSession() *Session {
	return &Session{Directory: NewContactDirectory()}
}

// Phase returns the current bootstrap phase.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// AddContact updates the directory. While bootstrapping the contact is
// buffered and false is returned; once live the caller should emit it.
func (s *Session) AddContact(c events.Contact) (emit bool) {
	s.Directory.Put(c)
	if s.Phase() == PhaseBootstrapping {
		s.pending = append(s.pending, c)
		return false
	}
	return true
}

// Finalize ends the bootstrap phase and returns the summary of buffered
// contacts. It returns false if the session is already live.
func (s *Session) Finalize() (events.ContactSummary, bool) {
	if !s.phase.CompareAndSwap(int32(PhaseBootstrapping), int32(PhaseLive)) {
		return events.ContactSummary{}, false
	}

	summary := events.ContactSummary{
		Total:    len(s.pending),
		ByType:   make(map[string]int),
		Contacts: s.pending,
	}
	for _, c := range s.pending {
		summary.ByType[c.NodeType]++
	}
	s.pending = nil
	return summary, true
}

// Reset starts a new bootstrap window after a reconnect. The directory and
// counters are kept.
func (s *Session) Reset() {
	s.phase.Store(int32(PhaseBootstrapping))
	s.pending = nil
}

// Pending returns the number of contacts buffered during bootstrap.
func (s *Session) Pending() int {
	return len(s.pending)
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:      s.frames.Load(),
		Messages:    s.messages.Load(),
		MeshPackets: s.meshPackets.Load(),
		Adverts:     s.adverts.Load(),
		Contacts:    s.Directory.Len(),
		Phase:       s.Phase().String(),
	}
}
