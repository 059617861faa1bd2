package vector

import "sync/atomic"

// Handle is the process-wide reference to the snapshot currently serving
// queries. Readers call Current without locking; the single writer publishes a
// replacement with Publish. The zero value is ready to use and not ready to serve.
type Handle struct {
	cur atomic.Pointer[Snapshot]
}

// NewHandle returns an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Current returns the serving snapshot, or nil before the first Publish.
// A caller keeps using the snapshot it got even if a newer one is published.
func (h *Handle) Current() *Snapshot {
	return h.cur.Load()
}

// Publish makes s the serving snapshot and returns the one it replaced.
func (h *Handle) Publish(s *Snapshot) *Snapshot {
	return h.cur.Swap(s)
}

// Ready reports whether a snapshot is being served.
func (h *Handle) Ready() bool {
	return h.cur.Load() != nil
}

// Close withdraws the serving snapshot. In-flight queries finish on the
// snapshot they already hold.
func (h *Handle) Close() error {
	h.cur.Store(nil)
	return nil
}
