package store

import "github.com/mcdev12/livebid/go/internal/models"

// DefaultActivityCapacity matches the length of the recent-bids feed.
const DefaultActivityCapacity = 20

// ActivityLog is a fixed-capacity ring buffer of activity entries. Once full,
// each push overwrites the oldest entry.
type ActivityLog struct {
	entries []models.ActivityEntry
	next    int // slot the next push writes to
	size    int
}

// NewActivityLog creates an empty log holding at most capacity entries.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{entries: make([]models.ActivityEntry, capacity)}
}

// Push records entry as the newest one.
func (l *ActivityLog) Push(entry models.ActivityEntry) {
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Len returns the number of entries held.
func (l *ActivityLog) Len() int {
	return l.size
}

// Cap returns the fixed capacity.
func (l *ActivityLog) Cap() int {
	return len(l.entries)
}

// Reset empties the log without reallocating.
func (l *ActivityLog) Reset() {
	clear(l.entries)
	l.next = 0
	l.size = 0
}

// Entries returns a copy of the entries, newest first.
func (l *ActivityLog) Entries() []models.ActivityEntry {
	out := make([]models.ActivityEntry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
