package twitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// CloudEvent types carried on the chat event stream.
const (
	EventTypeChatMessage    = "tv.twitch.chat.message"
	EventTypeWhisperMessage = "tv.twitch.whisper.message"
)

// NATSClientConfig holds the configuration for the NATS chat event adapter.
type NATSClientConfig struct {
	StreamName    string        // JetStream stream name
	Subject       string        // Subject chat events arrive on
	DurableName   string        // Durable consumer name
	JoinSubject   string        // Subject join-channel commands are published on
	AckWait       time.Duration // How long to wait for ACK
	MaxDeliveries int           // Maximum number of delivery attempts
}

// NATSClient consumes platform chat events from a JetStream subject. Events
// are CloudEvents whose data payload is the chat or whisper message JSON.
// Join-channel requests are forwarded to the upstream connection manager as
// plain messages on the join subject.
type NATSClient struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	config NATSClientConfig
	logger *zap.Logger

	*broadcaster

	mu     sync.Mutex
	joined map[string]bool
}

// NewNATSClient creates a chat event adapter on an existing NATS connection.
func NewNATSClient(nc *nats.Conn, config NATSClientConfig, logger *zap.Logger) (*NATSClient, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSClient{
		nc:          nc,
		js:          js,
		config:      config,
		logger:      logger,
		broadcaster: newBroadcaster(),
		joined:      make(map[string]bool),
	}, nil
}

// Start begins consuming chat events until the context is cancelled.
func (c *NATSClient) Start(ctx context.Context) error {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       c.config.DurableName,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverNewPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliveries,
	}

	if _, err := c.js.AddConsumer(c.config.StreamName, consumerConfig); err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sub, err := c.js.Subscribe(c.config.Subject, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

// Stop stops consuming and closes all subscriptions.
func (c *NATSClient) Stop() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("error unsubscribing", zap.Error(err))
		}
	}
	c.broadcaster.close()
}

// HasJoinedChannel reports whether the channel has been joined or a message
// from it has already been observed.
func (c *NATSClient) HasJoinedChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[channel]
}

// JoinChannel publishes a join command for the upstream connection manager
// and records the membership.
func (c *NATSClient) JoinChannel(channel string) error {
	if err := c.nc.Publish(c.config.JoinSubject, []byte(channel)); err != nil {
		return fmt.Errorf("failed to publish join command: %w", err)
	}
	c.mu.Lock()
	c.joined[channel] = true
	c.mu.Unlock()
	return nil
}

// handleMessage decodes an incoming CloudEvent and fans the message out to
// subscribers. Malformed events are NAKed; events of unknown type are ACKed
// and skipped so one bad producer cannot wedge the consumer.
func (c *NATSClient) handleMessage(msg *nats.Msg) {
	ce := cloudevents.NewEvent()
	if err := ce.UnmarshalJSON(msg.Data); err != nil {
		c.logger.Warn("error unmarshaling CloudEvent", zap.Error(err))
		if err := msg.Nak(); err != nil {
			c.logger.Warn("error sending NAK", zap.Error(err))
		}
		return
	}

	switch ce.Type() {
	case EventTypeChatMessage:
		var chat ChatMessage
		if err := ce.DataAs(&chat); err != nil {
			c.logger.Warn("error decoding chat message", zap.String("event_id", ce.ID()), zap.Error(err))
			if err := msg.Nak(); err != nil {
				c.logger.Warn("error sending NAK", zap.Error(err))
			}
			return
		}
		c.markJoined(chat.Channel)
		c.publishChat(chat)
	case EventTypeWhisperMessage:
		var whisper WhisperMessage
		if err := ce.DataAs(&whisper); err != nil {
			c.logger.Warn("error decoding whisper message", zap.String("event_id", ce.ID()), zap.Error(err))
			if err := msg.Nak(); err != nil {
				c.logger.Warn("error sending NAK", zap.Error(err))
			}
			return
		}
		c.publishWhisper(whisper)
	default:
		c.logger.Debug("skipping event of unknown type", zap.String("type", ce.Type()))
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("error sending ACK", zap.Error(err))
	}
}

func (c *NATSClient) markJoined(channel string) {
	if channel == "" {
		return
	}
	c.mu.Lock()
	c.joined[channel] = true
	c.mu.Unlock()
}
