package twitch

import (
	"strconv"
	"strings"
)

// ircMessage is a single parsed IRC line, IRCv3 tags included.
type ircMessage struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
	Raw      string
}

// parseIRCMessage parses one raw IRC line. It never fails: missing parts are
// simply left empty, matching the engine's empty-string policy for malformed
// event fields.
func parseIRCMessage(line string) ircMessage {
	msg := ircMessage{Tags: map[string]string{}, Raw: line}
	rest := strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(rest, "@") {
		cut := strings.IndexByte(rest, ' ')
		if cut < 0 {
			return msg
		}
		for _, tag := range strings.Split(rest[1:cut], ";") {
			if k, v, found := strings.Cut(tag, "="); found {
				msg.Tags[k] = unescapeTagValue(v)
			} else {
				msg.Tags[tag] = ""
			}
		}
		rest = rest[cut+1:]
	}

	if strings.HasPrefix(rest, ":") {
		cut := strings.IndexByte(rest, ' ')
		if cut < 0 {
			return msg
		}
		msg.Prefix = rest[1:cut]
		rest = rest[cut+1:]
	}

	if body, trailing, found := strings.Cut(rest, " :"); found {
		msg.Trailing = trailing
		rest = body
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return msg
	}
	msg.Command = fields[0]
	msg.Params = fields[1:]
	return msg
}

// unescapeTagValue reverses IRCv3 tag value escaping.
func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i == len(v)-1 {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// senderNick extracts the sender nickname from an IRC prefix
// ("nick!user@host").
func senderNick(prefix string) string {
	if cut := strings.IndexByte(prefix, '!'); cut >= 0 {
		return prefix[:cut]
	}
	return prefix
}

// badgeVersion returns the version component of the named badge from the
// "badges" or "badge-info" tag, or "" if the badge is absent.
func badgeVersion(tag, badge string) (string, bool) {
	for _, entry := range strings.Split(tag, ",") {
		name, version, _ := strings.Cut(entry, "/")
		if name == badge {
			return version, true
		}
	}
	return "", false
}

// userTypeFromTags derives the author role from message tags. Badges take
// precedence over the user-type tag since the broadcaster badge is the only
// signal for the broadcaster role.
func userTypeFromTags(tags map[string]string) UserType {
	badges := tags["badges"]
	if _, ok := badgeVersion(badges, "broadcaster"); ok {
		return UserTypeBroadcaster
	}
	switch tags["user-type"] {
	case "staff":
		return UserTypeStaff
	case "admin":
		return UserTypeAdmin
	case "global_mod":
		return UserTypeGlobalModerator
	case "mod":
		return UserTypeModerator
	}
	if tags["mod"] == "1" {
		return UserTypeModerator
	}
	if _, ok := badgeVersion(badges, "vip"); ok {
		return UserTypeVIP
	}
	if _, ok := badgeVersion(badges, "subscriber"); ok {
		return UserTypeSubscriber
	}
	return UserTypeViewer
}

// bitsValue converts a bits count to its currency value.
func bitsValue(bits int) float64 {
	return float64(bits) / 100.0
}

// chatMessageFromIRC maps a PRIVMSG line to a ChatMessage. The noisy flag is
// not carried over IRC, so it stays unset.
func chatMessageFromIRC(msg ircMessage) ChatMessage {
	channel := ""
	if len(msg.Params) > 0 {
		channel = strings.TrimPrefix(msg.Params[0], "#")
	}

	tags := msg.Tags
	bits, _ := strconv.Atoi(tags["bits"])
	months := 0
	if v, ok := badgeVersion(tags["badge-info"], "subscriber"); ok {
		months, _ = strconv.Atoi(v)
	}
	userType := userTypeFromTags(tags)
	_, isVip := badgeVersion(tags["badges"], "vip")
	_, isSubscriber := badgeVersion(tags["badges"], "subscriber")

	return ChatMessage{
		Channel:          channel,
		Message:          msg.Trailing,
		RawMessage:       msg.Raw,
		Username:         senderNick(msg.Prefix),
		UserID:           tags["user-id"],
		UserType:         userType,
		IsVip:            isVip,
		IsSubscriber:     isSubscriber,
		IsModerator:      userType == UserTypeModerator,
		IsBroadcaster:    userType == UserTypeBroadcaster,
		Bits:             bits,
		BitsValue:        bitsValue(bits),
		RewardID:         tags["custom-reward-id"],
		SubscribedMonths: months,
		IsHighlighted:    tags["msg-id"] == "highlighted-message",
	}
}

// whisperFromIRC maps a WHISPER line to a WhisperMessage.
func whisperFromIRC(msg ircMessage) WhisperMessage {
	return WhisperMessage{
		Message:    msg.Trailing,
		RawMessage: msg.Raw,
		Username:   senderNick(msg.Prefix),
		UserID:     msg.Tags["user-id"],
		UserType:   userTypeFromTags(msg.Tags),
	}
}
