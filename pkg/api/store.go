package api

// MessageStore tracks recently sent outbound messages per conversation thread
// so that quote and undo indices in model output can be resolved to concrete
// platform handles. Implementations keep a bounded window; indices that fall
// outside it simply fail to resolve.
type MessageStore interface {
	// Record appends a freshly sent message handle to the thread's window.
	Record(threadID string, h MessageHandle)
	// Resolve maps an index to a handle. Non-negative indices count from the
	// start of the window; negative indices count back from the most recent
	// entry (-1 = latest). The second return is false when out of range.
	Resolve(threadID string, index int) (MessageHandle, bool)
	// Latest returns the most recently recorded handle for the thread.
	Latest(threadID string) (MessageHandle, bool)
}
