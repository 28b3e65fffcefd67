package teaclave_client

import "sync"

// handle owns a channel. The channel is closed exactly once, and any
// use after release reports ErrSessionClosed.
type handle struct {
	mu      sync.Mutex
	channel Channel
	closed  bool
}

func newHandle(channel Channel) *handle {
	return &handle{channel: channel}
}

// acquire returns the live channel.
func (h *handle) acquire() (Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrSessionClosed
	}
	return h.channel, nil
}

// release closes the channel. Only the first call reaches the channel
// and reports released; later calls return false and nil.
func (h *handle) release() (released bool, err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, nil
	}
	h.closed = true
	channel := h.channel
	h.channel = nil
	h.mu.Unlock()

	return true, channel.Close()
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
