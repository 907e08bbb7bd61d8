package busd

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

// HistoryEntry is one recorded broadcast line.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sender    string          `json:"sender"`
	Line      json.RawMessage `json:"line"`
}

// History is a bounded ring buffer of recently broadcast lines, answering
// the "#history[:N]" control command (spec.md §4.1).
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	cap     int
	next    int // write cursor, wraps mod cap
	count   int // number of valid entries, caps at cap
}

// NewHistory creates a ring buffer holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		entries: make([]HistoryEntry, capacity),
		cap:     capacity,
	}
}

// Append records one broadcast line, evicting the oldest entry once the
// buffer is full.
func (h *History) Append(sender string, line []byte) {
	entry := HistoryEntry{
		Timestamp: time.Now(),
		Sender:    sender,
		Line:      append(json.RawMessage{}, bytes.TrimRight(line, "\n")...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
}

// Snapshot returns up to n of the most recent entries in chronological
// order, oldest first. n <= 0 returns everything retained.
func (h *History) Snapshot(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > h.count {
		n = h.count
	}

	out := make([]HistoryEntry, n)
	// Oldest retained entry is at index (next - count + cap) % cap.
	start := (h.next - h.count + h.cap) % h.cap
	// We want the last n entries, so skip (count - n) from the oldest.
	skip := h.count - n
	for i := 0; i < n; i++ {
		idx := (start + skip + i) % h.cap
		out[i] = h.entries[idx]
	}
	return out
}

// JSON marshals a "#history" reply envelope body: a bare JSON array of the
// requested entries.
func (h *History) JSON(n int) []byte {
	data, err := json.Marshal(h.Snapshot(n))
	if err != nil {
		return []byte("[]")
	}
	return data
}
