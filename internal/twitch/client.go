package twitch

import "sync"

var (
	_ Client = (*NATSClient)(nil)
	_ Client = (*IRCClient)(nil)
	_ Client = (*MemoryClient)(nil)
)

// streamBuffer is the per-subscription channel capacity. Criteria evaluation
// downstream is synchronous and bounded, so this only needs to absorb short
// bursts; a subscriber that stops consuming loses events rather than blocking
// the delivery path.
const streamBuffer = 128

// Client is the narrow contract the trigger engine holds on the platform
// chat client. The client's connection lifecycle is managed elsewhere; the
// engine only subscribes to its output streams and may instruct it to join a
// channel.
type Client interface {
	// SubscribeChat returns a live stream of chat messages. Subscribing
	// never delivers past messages.
	SubscribeChat() *ChatSubscription

	// SubscribeWhispers returns a live stream of whisper messages.
	SubscribeWhispers() *WhisperSubscription

	// HasJoinedChannel reports whether the client is already observing the
	// given channel.
	HasJoinedChannel(channel string) bool

	// JoinChannel instructs the client to start observing a channel. Safe to
	// call for an already-joined channel.
	JoinChannel(channel string) error
}

// ChatSubscription is a cancellable subscription to the chat message stream.
type ChatSubscription struct {
	ch     chan ChatMessage
	cancel func(*ChatSubscription)
	once   sync.Once
}

// Messages returns the channel of chat messages. It is closed when the
// subscription is closed or the underlying client shuts down.
func (s *ChatSubscription) Messages() <-chan ChatMessage {
	return s.ch
}

// Close unsubscribes from the stream.
func (s *ChatSubscription) Close() {
	s.once.Do(func() { s.cancel(s) })
}

// WhisperSubscription is a cancellable subscription to the whisper stream.
type WhisperSubscription struct {
	ch     chan WhisperMessage
	cancel func(*WhisperSubscription)
	once   sync.Once
}

// Messages returns the channel of whisper messages.
func (s *WhisperSubscription) Messages() <-chan WhisperMessage {
	return s.ch
}

// Close unsubscribes from the stream.
func (s *WhisperSubscription) Close() {
	s.once.Do(func() { s.cancel(s) })
}

// broadcaster fans incoming messages out to all live subscriptions. Both
// client implementations embed one.
type broadcaster struct {
	mu       sync.Mutex
	chat     map[*ChatSubscription]struct{}
	whispers map[*WhisperSubscription]struct{}
	closed   bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		chat:     make(map[*ChatSubscription]struct{}),
		whispers: make(map[*WhisperSubscription]struct{}),
	}
}

func (b *broadcaster) SubscribeChat() *ChatSubscription {
	sub := &ChatSubscription{ch: make(chan ChatMessage, streamBuffer)}
	sub.cancel = b.removeChat
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.chat[sub] = struct{}{}
	return sub
}

func (b *broadcaster) SubscribeWhispers() *WhisperSubscription {
	sub := &WhisperSubscription{ch: make(chan WhisperMessage, streamBuffer)}
	sub.cancel = b.removeWhisper
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.whispers[sub] = struct{}{}
	return sub
}

func (b *broadcaster) removeChat(sub *ChatSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.chat[sub]; ok {
		delete(b.chat, sub)
		close(sub.ch)
	}
}

func (b *broadcaster) removeWhisper(sub *WhisperSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.whispers[sub]; ok {
		delete(b.whispers, sub)
		close(sub.ch)
	}
}

func (b *broadcaster) publishChat(msg ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.chat {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func (b *broadcaster) publishWhisper(msg WhisperMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.whispers {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.chat {
		delete(b.chat, sub)
		close(sub.ch)
	}
	for sub := range b.whispers {
		delete(b.whispers, sub)
		close(sub.ch)
	}
}
