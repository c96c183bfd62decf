package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in an append-only slice, trimmed to the most
// recent maxEntries when maxEntries > 0.
type MemorySink struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink(maxEntries int) *MemorySink {
	return &MemorySink{maxEntries: maxEntries}
}

// Append stores a copy of the entry.
func (m *MemorySink) Append(_ context.Context, entry Entry) error {
	if entry.Payload != nil {
		payload := make([]byte, len(entry.Payload))
		copy(payload, entry.Payload)
		entry.Payload = payload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.entries = m.entries[len(m.entries)-m.maxEntries:]
	}
	return nil
}

// Entries returns the stored entries, oldest first.
func (m *MemorySink) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByKind returns the entries of one kind, oldest first.
func (m *MemorySink) ByKind(kind Kind) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// BySubject returns every entry recorded for a subject, oldest first.
func (m *MemorySink) BySubject(subjectID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
