package store

import (
	"sync"

	"parley/pkg/api"
)

// Window is a bounded in-memory record of recently sent outbound messages,
// keyed by conversation thread. It backs quote and undo index resolution.
// Implements api.MessageStore.
type Window struct {
	mu       sync.RWMutex
	limit    int
	byThread map[string][]api.MessageHandle
}

// NewWindow creates a window keeping at most limit handles per thread.
func NewWindow(limit int) *Window {
	if limit <= 0 {
		limit = 1
	}
	return &Window{
		limit:    limit,
		byThread: make(map[string][]api.MessageHandle),
	}
}

// Record appends a freshly sent message handle to the thread's window,
// evicting the oldest entry when the window is full.
func (w *Window) Record(threadID string, h api.MessageHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	handles := append(w.byThread[threadID], h)
	if len(handles) > w.limit {
		handles = handles[len(handles)-w.limit:]
	}
	w.byThread[threadID] = handles
}

// Resolve maps an index to a handle. Non-negative indices count from the
// start of the window; negative indices count back from the most recent
// entry (-1 = latest). Out-of-range indices report false.
func (w *Window) Resolve(threadID string, index int) (api.MessageHandle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	handles := w.byThread[threadID]
	if len(handles) == 0 {
		return api.MessageHandle{}, false
	}

	pos := index
	if index < 0 {
		pos = len(handles) + index
	}
	if pos < 0 || pos >= len(handles) {
		return api.MessageHandle{}, false
	}
	return handles[pos], true
}

// Latest returns the most recently recorded handle for the thread.
func (w *Window) Latest(threadID string) (api.MessageHandle, bool) {
	return w.Resolve(threadID, -1)
}
