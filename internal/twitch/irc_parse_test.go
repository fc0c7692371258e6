package twitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIRCMessagePing(t *testing.T) {
	msg := parseIRCMessage("PING :tmi.twitch.tv")
	assert.Equal(t, "PING", msg.Command)
	assert.Equal(t, "tmi.twitch.tv", msg.Trailing)
}

func TestParseIRCMessagePrivmsg(t *testing.T) {
	line := "@badge-info=subscriber/8;badges=subscriber/6,bits/100;bits=50;user-id=1234;msg-id=highlighted-message;custom-reward-id=abc-123 " +
		":someuser!somfeuser@someuser.tmi.twitch.tv PRIVMSG #somechannel :hello chat"
	msg := parseIRCMessage(line)

	assert.Equal(t, "PRIVMSG", msg.Command)
	require.Len(t, msg.Params, 1)
	assert.Equal(t, "#somechannel", msg.Params[0])
	assert.Equal(t, "hello chat", msg.Trailing)
	assert.Equal(t, "50", msg.Tags["bits"])
	assert.Equal(t, "1234", msg.Tags["user-id"])
}

func TestParseIRCMessageTagEscapes(t *testing.T) {
	msg := parseIRCMessage(`@system-msg=two\swords\:\ssemicolon PING :x`)
	assert.Equal(t, "two words; semicolon", msg.Tags["system-msg"])
}

func TestChatMessageFromIRC(t *testing.T) {
	line := "@badge-info=subscriber/8;badges=subscriber/6;bits=50;user-id=1234;msg-id=highlighted-message;custom-reward-id=reward-1 " +
		":somebody!somebody@somebody.tmi.twitch.tv PRIVMSG #mychannel :cheer50 nice run"
	chat := chatMessageFromIRC(parseIRCMessage(line))

	assert.Equal(t, "mychannel", chat.Channel)
	assert.Equal(t, "cheer50 nice run", chat.Message)
	assert.Equal(t, "somebody", chat.Username)
	assert.Equal(t, "1234", chat.UserID)
	assert.Equal(t, 50, chat.Bits)
	assert.Equal(t, 0.5, chat.BitsValue)
	assert.Equal(t, "reward-1", chat.RewardID)
	assert.True(t, chat.IsSubscriber)
	assert.True(t, chat.IsHighlighted)
	assert.Equal(t, 8, chat.SubscribedMonths)
	assert.Equal(t, UserTypeSubscriber, chat.UserType)
	assert.Equal(t, NoisyUnset, chat.Noisy)
	assert.Equal(t, line, chat.RawMessage)
}

func TestChatMessageRoles(t *testing.T) {
	tests := []struct {
		name string
		tags string
		want UserType
	}{
		{"broadcaster badge wins", "@badges=broadcaster/1;mod=0", UserTypeBroadcaster},
		{"moderator via user-type", "@user-type=mod;badges=", UserTypeModerator},
		{"moderator via mod tag", "@mod=1;badges=", UserTypeModerator},
		{"staff", "@user-type=staff;badges=", UserTypeStaff},
		{"vip badge", "@badges=vip/1", UserTypeVIP},
		{"subscriber badge", "@badges=subscriber/3", UserTypeSubscriber},
		{"plain viewer", "@badges=", UserTypeViewer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := tt.tags + " :u!u@u.tmi.twitch.tv PRIVMSG #c :hi"
			chat := chatMessageFromIRC(parseIRCMessage(line))
			assert.Equal(t, tt.want, chat.UserType)
		})
	}
}

func TestChatMessageMissingFieldsAreEmpty(t *testing.T) {
	// A bare PRIVMSG without tags must still produce a usable message with
	// empty-string fields, never an error.
	chat := chatMessageFromIRC(parseIRCMessage(":u!u@u.tmi.twitch.tv PRIVMSG #c :hi"))
	assert.Equal(t, "", chat.UserID)
	assert.Equal(t, "", chat.RewardID)
	assert.Equal(t, 0, chat.Bits)
	assert.Equal(t, UserTypeViewer, chat.UserType)
}

func TestWhisperFromIRC(t *testing.T) {
	line := "@user-id=42;badges= :sender!sender@sender.tmi.twitch.tv WHISPER receiver :psst secret"
	whisper := whisperFromIRC(parseIRCMessage(line))

	assert.Equal(t, "psst secret", whisper.Message)
	assert.Equal(t, "sender", whisper.Username)
	assert.Equal(t, "42", whisper.UserID)
	assert.Equal(t, UserTypeViewer, whisper.UserType)
}

func TestMemoryClientFanOut(t *testing.T) {
	client := NewMemoryClient()
	defer client.Close()

	first := client.SubscribeChat()
	defer first.Close()
	second := client.SubscribeChat()
	defer second.Close()

	client.PublishChat(ChatMessage{Channel: "c", Message: "hi"})

	assert.Equal(t, "hi", (<-first.Messages()).Message)
	assert.Equal(t, "hi", (<-second.Messages()).Message)
}

func TestMemoryClientJoinTracking(t *testing.T) {
	client := NewMemoryClient()
	defer client.Close()

	assert.False(t, client.HasJoinedChannel("somechannel"))
	require.NoError(t, client.JoinChannel("somechannel"))
	assert.True(t, client.HasJoinedChannel("somechannel"))
	assert.Equal(t, []string{"somechannel"}, client.JoinCalls())
}

func TestClosedSubscriptionStopsDelivery(t *testing.T) {
	client := NewMemoryClient()
	defer client.Close()

	sub := client.SubscribeChat()
	sub.Close()
	client.PublishChat(ChatMessage{Message: "late"})

	_, ok := <-sub.Messages()
	assert.False(t, ok)
}
