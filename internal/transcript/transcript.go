// Package transcript provides append-only sinks for debate entries.
package transcript

import (
	"sync"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// Sink receives entries in recording order.
type Sink interface {
	Record(entry core.Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(core.Entry)

// Record calls f(entry).
func (f SinkFunc) Record(entry core.Entry) { f(entry) }

// Multi fans every entry out to sinks, in the order given.
type Multi []Sink

// Record forwards entry to every sink.
func (m Multi) Record(entry core.Entry) {
	for _, s := range m {
		if s != nil {
			s.Record(entry)
		}
	}
}

// Memory keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []core.Entry
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends entry.
func (m *Memory) Record(entry core.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []core.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Kinds returns the kind of every recorded entry.
func (m *Memory) Kinds() []core.EntryKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.EntryKind, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Kind
	}
	return out
}
