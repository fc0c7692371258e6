package twitch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultIRCEndpoint is the platform's IRC-over-websocket gateway.
const DefaultIRCEndpoint = "wss://irc-ws.chat.twitch.tv:443"

// IRCConfig holds the configuration for the websocket chat client.
type IRCConfig struct {
	Endpoint string   // Websocket endpoint, DefaultIRCEndpoint if empty
	Username string   // Authenticated user's login name
	Token    string   // OAuth access token (without the "oauth:" prefix)
	Channels []string // Channels to join on connect
}

// IRCClient is a chat client speaking the platform's IRC dialect over a
// websocket. It requests the tags and commands capabilities so messages carry
// the metadata the trigger engine extracts.
type IRCClient struct {
	config IRCConfig
	logger *zap.Logger

	*broadcaster

	mu      sync.Mutex
	conn    *websocket.Conn
	joined  map[string]bool
	started bool
}

// NewIRCClient creates a websocket chat client. Connect must be called before
// any messages are delivered.
func NewIRCClient(config IRCConfig, logger *zap.Logger) *IRCClient {
	if config.Endpoint == "" {
		config.Endpoint = DefaultIRCEndpoint
	}
	return &IRCClient{
		config:      config,
		logger:      logger,
		broadcaster: newBroadcaster(),
		joined:      make(map[string]bool),
	}
}

// Connect dials the gateway, authenticates and starts the read loop. The
// connection is torn down when the context is cancelled.
func (c *IRCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.Endpoint, err)
	}
	c.conn = conn
	c.started = true

	lines := []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS oauth:" + c.config.Token,
		"NICK " + strings.ToLower(c.config.Username),
	}
	for _, channel := range c.config.Channels {
		lines = append(lines, "JOIN #"+strings.ToLower(channel))
		c.joined[strings.ToLower(channel)] = true
	}
	for _, line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			conn.Close()
			return fmt.Errorf("failed to send %q: %w", strings.Fields(line)[0], err)
		}
	}

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go c.readLoop()

	return nil
}

// Close tears down the connection and ends all subscriptions.
func (c *IRCClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.broadcaster.close()
}

// HasJoinedChannel reports whether the channel has been joined.
func (c *IRCClient) HasJoinedChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[strings.ToLower(channel)]
}

// JoinChannel joins a channel. Joining an already-joined channel is a no-op.
func (c *IRCClient) JoinChannel(channel string) error {
	channel = strings.ToLower(channel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined[channel] {
		return nil
	}
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("JOIN #"+channel)); err != nil {
		return fmt.Errorf("failed to join channel %s: %w", channel, err)
	}
	c.joined[channel] = true
	return nil
}

func (c *IRCClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("chat connection closed", zap.Error(err))
			c.Close()
			return
		}

		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			c.handleLine(line)
		}
	}
}

func (c *IRCClient) handleLine(line string) {
	msg := parseIRCMessage(line)
	switch msg.Command {
	case "PING":
		// Writes are serialized under c.mu; the websocket allows only one
		// concurrent writer.
		c.mu.Lock()
		if c.conn != nil {
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("PONG :"+msg.Trailing)); err != nil {
				c.logger.Warn("failed to send PONG", zap.Error(err))
			}
		}
		c.mu.Unlock()
	case "PRIVMSG":
		c.publishChat(chatMessageFromIRC(msg))
	case "WHISPER":
		c.publishWhisper(whisperFromIRC(msg))
	case "NOTICE":
		c.logger.Info("server notice", zap.String("notice", msg.Trailing))
	}
}
