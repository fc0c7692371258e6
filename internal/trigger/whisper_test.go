package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatflow/internal/twitch"
	"chatflow/internal/variables"
)

func newWhisperTrigger(t *testing.T, scopes string) (*WhisperTrigger, *twitch.MemoryClient) {
	t.Helper()
	store := variables.NewStore()
	auth := newTestAuth(t, store, scopes)
	client := twitch.NewMemoryClient()
	t.Cleanup(client.Close)
	return NewWhisperTrigger(zap.NewNop(), auth, client), client
}

func TestWhisperTriggerCanExecute(t *testing.T) {
	trigger, _ := newWhisperTrigger(t, twitch.ScopeWhispersRead)
	assert.True(t, trigger.CanExecute())

	noScope, _ := newWhisperTrigger(t, twitch.ScopeChatRead)
	assert.False(t, noScope.CanExecute())
}

func TestWhisperTriggerFires(t *testing.T) {
	trigger, client := newWhisperTrigger(t, twitch.ScopeWhispersRead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := trigger.Execute(ctx, WhisperConfig{})
	require.NoError(t, err)

	client.PublishWhisper(twitch.WhisperMessage{
		Message:    "psst",
		RawMessage: "raw psst",
		Username:   "friend",
		UserID:     "77",
		UserType:   twitch.UserTypeViewer,
	})

	vars := collectOne(t, out)
	assert.Equal(t, "psst", vars.GetDefault(ChatMessageKey, ""))
	assert.Equal(t, "raw psst", vars.GetDefault(RawChatMessageKey, ""))
	assert.Equal(t, "friend", vars.GetDefault(UsernameKey, ""))
	assert.Equal(t, "77", vars.GetDefault(UserIDKey, ""))
}

func TestWhisperTriggerTextMatch(t *testing.T) {
	trigger, client := newWhisperTrigger(t, twitch.ScopeWhispersRead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := trigger.Execute(ctx, WhisperConfig{
		MatchType: TextMatchStartsWith,
		MatchText: "!cmd",
	})
	require.NoError(t, err)

	client.PublishWhisper(twitch.WhisperMessage{Message: "hello !cmd"})
	assertNoFiring(t, out)

	client.PublishWhisper(twitch.WhisperMessage{Message: "!cmd run"})
	collectOne(t, out)
}

func TestWhisperTriggerRejectsWrongConfigType(t *testing.T) {
	trigger, _ := newWhisperTrigger(t, twitch.ScopeWhispersRead)
	_, err := trigger.Execute(context.Background(), ChatMessageConfig{})
	assert.ErrorIs(t, err, ErrConfigType)
}

func TestWhisperTriggerIgnoresChatMessages(t *testing.T) {
	trigger, client := newWhisperTrigger(t, twitch.ScopeWhispersRead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := trigger.Execute(ctx, WhisperConfig{})
	require.NoError(t, err)

	client.PublishChat(twitch.ChatMessage{Channel: "ownchannel", Message: "public"})
	assertNoFiring(t, out)

	client.PublishWhisper(twitch.WhisperMessage{Message: "private"})
	assert.Equal(t, "private", collectOne(t, out).GetDefault(ChatMessageKey, ""))
}
