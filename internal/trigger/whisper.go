package trigger

import (
	"context"

	"go.uber.org/zap"

	"chatflow/internal/oauth"
	"chatflow/internal/twitch"
	"chatflow/internal/variables"
)

const (
	WhisperTriggerCode    = "twitch.whisper-message"
	WhisperTriggerVersion = "1"
)

// WhisperConfig parameterizes one whisper trigger instance.
type WhisperConfig struct {
	MatchType TextMatchType `yaml:"match_type,omitempty"`
	MatchText string        `yaml:"match_text,omitempty"`
}

// TriggerCode implements Config.
func (WhisperConfig) TriggerCode() string { return WhisperTriggerCode }

// DecodeWhisperConfig unmarshals a YAML whisper trigger config.
func DecodeWhisperConfig(data []byte) (Config, error) {
	return decodeConfig[WhisperConfig](data)
}

// WhisperTrigger fires when a whisper message passes its text match rule.
type WhisperTrigger struct {
	logger *zap.Logger
	auth   *oauth.Manager
	client twitch.Client
}

// NewWhisperTrigger creates the whisper trigger.
func NewWhisperTrigger(logger *zap.Logger, auth *oauth.Manager, client twitch.Client) *WhisperTrigger {
	return &WhisperTrigger{logger: logger, auth: auth, client: client}
}

func (t *WhisperTrigger) Code() string        { return WhisperTriggerCode }
func (t *WhisperTrigger) Version() string     { return WhisperTriggerVersion }
func (t *WhisperTrigger) Name() string        { return "On Twitch Whisper Message" }
func (t *WhisperTrigger) Category() string    { return "Twitch" }
func (t *WhisperTrigger) Description() string { return "Triggers when a twitch whisper message is received" }

func (t *WhisperTrigger) Outputs() []variables.Key {
	return []variables.Key{
		ChatMessageKey, RawChatMessageKey, UserTypeKey, UsernameKey, UserIDKey,
	}
}

// CanExecute requires a stored access token carrying the whispers read scope.
func (t *WhisperTrigger) CanExecute() bool {
	return t.auth.HasToken() && t.auth.HasScope(twitch.ScopeWhispersRead)
}

func (t *WhisperTrigger) meetsCriteria(cfg WhisperConfig, msg twitch.WhisperMessage) bool {
	return MatchesText(cfg.MatchType, cfg.MatchText, msg.Message)
}

func (t *WhisperTrigger) populate(msg twitch.WhisperMessage) *variables.Set {
	flowVars := variables.NewSet()
	flowVars.Set(ChatMessageKey, msg.Message)
	flowVars.Set(RawChatMessageKey, msg.RawMessage)
	flowVars.Set(UserTypeKey, msg.UserType.String())
	flowVars.Set(UsernameKey, msg.Username)
	flowVars.Set(UserIDKey, msg.UserID)
	return flowVars
}

// Execute subscribes to the whisper stream and emits one variable set per
// matching message until the context is cancelled.
func (t *WhisperTrigger) Execute(ctx context.Context, config Config) (<-chan *variables.Set, error) {
	cfg, ok := config.(WhisperConfig)
	if !ok {
		return nil, ErrConfigType
	}

	sub := t.client.SubscribeWhispers()
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
				if !t.meetsCriteria(cfg, msg) {
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
