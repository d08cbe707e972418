package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// errorLogCap bounds the in-memory error ring; older entries fall off.
const errorLogCap = 1000

type ErrorEntry struct {
	ID      string `json:"_id"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

// ErrorLog keeps the most recent request-handling errors in memory so
// operators can inspect them without shell access to the host.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
}

func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

func (l *ErrorLog) Add(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ErrorEntry{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: message,
	})
	if len(l.entries) > errorLogCap {
		l.entries = l.entries[len(l.entries)-errorLogCap:]
	}
}

// Entries returns a copy of the current ring contents, oldest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
