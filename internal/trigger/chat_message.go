package trigger

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"chatflow/internal/oauth"
	"chatflow/internal/templating"
	"chatflow/internal/twitch"
	"chatflow/internal/variables"
)

const (
	ChatMessageTriggerCode    = "twitch.chat-message"
	ChatMessageTriggerVersion = "1"
)

// Output variables populated by the chat message trigger.
var (
	ChatChannelKey        = variables.NewContextKey("chat.channel", twitch.Context)
	ChatMessageKey        = variables.NewContextKey("chat.message", twitch.Context)
	RawChatMessageKey     = variables.NewContextKey("chat.raw-message", twitch.Context)
	BitsSentKey           = variables.NewContextKey("chat.message.bits-sent", twitch.Context)
	BitsValueKey          = variables.NewContextKey("chat.message.bits-value", twitch.Context)
	RewardIDKey           = variables.NewContextKey("chat.message.reward-id", twitch.Context)
	IsNoisyKey            = variables.NewContextKey("chat.message.is-noisy", twitch.Context)
	SubscriptionLengthKey = variables.NewContextKey("chat.message.subscription-length", twitch.Context)
	IsHighlightedKey      = variables.NewContextKey("chat.message.is-highlighted", twitch.Context)
	UserTypeKey           = variables.NewContextKey("chat.user-type", twitch.Context)
	UsernameKey           = variables.NewContextKey("chat.username", twitch.Context)
	UserIDKey             = variables.NewContextKey("chat.user-id", twitch.Context)
)

// ChatMessageConfig parameterizes one chat message trigger instance.
type ChatMessageConfig struct {
	// Channel is a template for the channel to observe. Empty means the
	// authenticated user's own channel.
	Channel           string               `yaml:"channel,omitempty"`
	MinimumUserType   twitch.UserType      `yaml:"minimum_user_type,omitempty"`
	RequireVip        bool                 `yaml:"require_vip,omitempty"`
	RequireSubscriber bool                 `yaml:"require_subscriber,omitempty"`
	RequireBits       bool                 `yaml:"require_bits,omitempty"`
	RequireReward     bool                 `yaml:"require_reward,omitempty"`
	MatchType         TextMatchType        `yaml:"match_type,omitempty"`
	MatchText         string               `yaml:"match_text,omitempty"`
	// Criteria is an optional expression evaluated as the final gate. It
	// uses the expr language and must evaluate to a boolean.
	Criteria string `yaml:"criteria,omitempty"`
}

// TriggerCode implements Config.
func (ChatMessageConfig) TriggerCode() string { return ChatMessageTriggerCode }

// DecodeChatMessageConfig unmarshals a YAML chat message trigger config.
func DecodeChatMessageConfig(data []byte) (Config, error) {
	return decodeConfig[ChatMessageConfig](data)
}

// ChatMessageTrigger fires when a channel chat message passes its criteria
// chain.
type ChatMessageTrigger struct {
	logger    *zap.Logger
	processor *templating.Processor
	auth      *oauth.Manager
	client    twitch.Client
}

// NewChatMessageTrigger creates the chat message trigger.
func NewChatMessageTrigger(logger *zap.Logger, processor *templating.Processor, auth *oauth.Manager, client twitch.Client) *ChatMessageTrigger {
	return &ChatMessageTrigger{
		logger:    logger,
		processor: processor,
		auth:      auth,
		client:    client,
	}
}

func (t *ChatMessageTrigger) Code() string        { return ChatMessageTriggerCode }
func (t *ChatMessageTrigger) Version() string     { return ChatMessageTriggerVersion }
func (t *ChatMessageTrigger) Name() string        { return "On Twitch Chat Message" }
func (t *ChatMessageTrigger) Category() string    { return "Twitch" }
func (t *ChatMessageTrigger) Description() string { return "Triggers when a twitch chat message is received" }

func (t *ChatMessageTrigger) Outputs() []variables.Key {
	return []variables.Key{
		ChatMessageKey, BitsSentKey, BitsValueKey, RewardIDKey, IsNoisyKey,
		SubscriptionLengthKey, IsHighlightedKey, UserTypeKey, UsernameKey,
		UserIDKey, ChatChannelKey,
	}
}

// CanExecute requires a stored access token carrying the chat read scope.
func (t *ChatMessageTrigger) CanExecute() bool {
	return t.auth.HasToken() && t.auth.HasScope(twitch.ScopeChatRead)
}

// resolveChannel processes the configured channel template against an empty
// local scope, falling back to the authenticated user's own channel when
// unconfigured.
func (t *ChatMessageTrigger) resolveChannel(cfg ChatMessageConfig) string {
	channel := cfg.Channel
	if channel == "" {
		channel = t.auth.Username()
	}
	return t.processor.Process(channel, variables.NewSet())
}

// meetsCriteria evaluates the ordered criteria chain, short-circuiting on the
// first failing gate. A failing gate has no side effects.
func (t *ChatMessageTrigger) meetsCriteria(cfg ChatMessageConfig, channel string, msg twitch.ChatMessage) bool {
	if msg.Channel != channel {
		return false
	}
	if !msg.UserType.AtLeast(cfg.MinimumUserType) {
		return false
	}
	if cfg.RequireVip && !msg.IsVip {
		return false
	}
	if cfg.RequireSubscriber && !msg.IsSubscriber {
		return false
	}
	if cfg.RequireBits && msg.Bits <= 0 {
		return false
	}
	if cfg.RequireReward && msg.RewardID == "" {
		return false
	}
	if !MatchesText(cfg.MatchType, cfg.MatchText, msg.Message) {
		return false
	}
	if cfg.Criteria != "" {
		ok, err := evaluateCriteria(cfg.Criteria, msg)
		if err != nil {
			t.logger.Warn("criteria expression failed, treating as no match", zap.Error(err))
			return false
		}
		return ok
	}
	return true
}

// populate maps the matched message into a fresh variable set scoped to this
// firing only. These bindings are never written into the durable scopes.
func (t *ChatMessageTrigger) populate(msg twitch.ChatMessage) *variables.Set {
	flowVars := variables.NewSet()
	flowVars.Set(ChatChannelKey, msg.Channel)
	flowVars.Set(ChatMessageKey, msg.Message)
	flowVars.Set(RawChatMessageKey, msg.RawMessage)
	flowVars.Set(BitsSentKey, strconv.Itoa(msg.Bits))
	flowVars.Set(BitsValueKey, strconv.FormatFloat(msg.BitsValue, 'f', -1, 64))
	flowVars.Set(RewardIDKey, msg.RewardID)
	flowVars.Set(IsNoisyKey, msg.Noisy.String())
	flowVars.Set(SubscriptionLengthKey, strconv.Itoa(msg.SubscribedMonths))
	flowVars.Set(IsHighlightedKey, strconv.FormatBool(msg.IsHighlighted))
	flowVars.Set(UserTypeKey, msg.UserType.String())
	flowVars.Set(UsernameKey, msg.Username)
	flowVars.Set(UserIDKey, msg.UserID)
	return flowVars
}

// joinChannelIfNeeded instructs the client to join an explicitly configured
// channel, checking membership first so repeated Executes stay idempotent.
func (t *ChatMessageTrigger) joinChannelIfNeeded(cfg ChatMessageConfig, channel string) {
	if cfg.Channel == "" {
		return
	}
	if t.client.HasJoinedChannel(channel) {
		return
	}
	if err := t.client.JoinChannel(channel); err != nil {
		t.logger.Warn("failed to join channel", zap.String("channel", channel), zap.Error(err))
		return
	}
	t.logger.Info("joined channel", zap.String("code", ChatMessageTriggerCode), zap.String("channel", channel))
}

// Execute subscribes to the chat stream and emits one variable set per
// message that passes the criteria chain, until the context is cancelled.
func (t *ChatMessageTrigger) Execute(ctx context.Context, config Config) (<-chan *variables.Set, error) {
	cfg, ok := config.(ChatMessageConfig)
	if !ok {
		return nil, ErrConfigType
	}

	channel := t.resolveChannel(cfg)
	t.joinChannelIfNeeded(cfg, channel)

	sub := t.client.SubscribeChat()
	out := make(chan *variables.Set)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				if !t.meetsCriteria(cfg, channel, msg) {
					continue
				}
				select {
				case out <- t.populate(msg):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
