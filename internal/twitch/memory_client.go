package twitch

import "sync"

// MemoryClient is an in-process chat client fed by hand. It backs tests and
// local development where neither the websocket gateway nor NATS is
// available.
type MemoryClient struct {
	*broadcaster

	mu     sync.Mutex
	joined map[string]bool
	joins  []string
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		broadcaster: newBroadcaster(),
		joined:      make(map[string]bool),
	}
}

// PublishChat delivers a chat message to all chat subscribers.
func (c *MemoryClient) PublishChat(msg ChatMessage) {
	c.publishChat(msg)
}

// PublishWhisper delivers a whisper to all whisper subscribers.
func (c *MemoryClient) PublishWhisper(msg WhisperMessage) {
	c.publishWhisper(msg)
}

// HasJoinedChannel reports whether JoinChannel has been called for the
// channel.
func (c *MemoryClient) HasJoinedChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[channel]
}

// JoinChannel records the join.
func (c *MemoryClient) JoinChannel(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[channel] = true
	c.joins = append(c.joins, channel)
	return nil
}

// JoinCalls returns every JoinChannel invocation in order.
func (c *MemoryClient) JoinCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.joins))
	copy(out, c.joins)
	return out
}

// Close ends all subscriptions.
func (c *MemoryClient) Close() {
	c.broadcaster.close()
}
