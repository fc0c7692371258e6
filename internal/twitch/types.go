// Package twitch defines the platform event types, role ordering, scope
// constants and chat client implementations used by the trigger engine.
package twitch

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Context is the variable context for all Twitch-owned variables.
const Context = "twitch"

// Chat-related authorization scopes.
const (
	ScopeChatRead     = "chat:read"
	ScopeChatEdit     = "chat:edit"
	ScopeWhispersRead = "whispers:read"
	ScopeWhispersEdit = "whispers:edit"
)

// UserType is the role of a message author. The numeric ordering is the
// contract: a role gates as "at or above" by integer comparison, so the
// constants must stay sorted from least to most privileged.
type UserType int

const (
	UserTypeAnonymous UserType = iota
	UserTypeViewer
	UserTypeSubscriber
	UserTypeVIP
	UserTypeModerator
	UserTypeGlobalModerator
	UserTypeBroadcaster
	UserTypeAdmin
	UserTypeStaff
)

var userTypeNames = map[UserType]string{
	UserTypeAnonymous:       "anonymous",
	UserTypeViewer:          "viewer",
	UserTypeSubscriber:      "subscriber",
	UserTypeVIP:             "vip",
	UserTypeModerator:       "moderator",
	UserTypeGlobalModerator: "global-moderator",
	UserTypeBroadcaster:     "broadcaster",
	UserTypeAdmin:           "admin",
	UserTypeStaff:           "staff",
}

func (u UserType) String() string {
	if name, ok := userTypeNames[u]; ok {
		return name
	}
	return "anonymous"
}

// AtLeast reports whether the role meets the given minimum.
func (u UserType) AtLeast(min UserType) bool {
	return u >= min
}

// ParseUserType maps a role name to its UserType. Unknown names parse as
// anonymous, the least privileged role.
func ParseUserType(name string) UserType {
	for ut, n := range userTypeNames {
		if n == name {
			return ut
		}
	}
	return UserTypeAnonymous
}

// MarshalYAML encodes the role as its name.
func (u UserType) MarshalYAML() (interface{}, error) {
	return u.String(), nil
}

// UnmarshalYAML decodes a role name.
func (u *UserType) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return fmt.Errorf("failed to decode user type: %w", err)
	}
	*u = ParseUserType(name)
	return nil
}

// Noisy is the tri-state "noisy message" flag. The platform reports it as
// true/false/unset depending on integration version, so unset is preserved
// rather than collapsed into false.
type Noisy int

const (
	NoisyUnset Noisy = iota
	NoisyFalse
	NoisyTrue
)

// String renders the flag the way trigger outputs expect: "True"/"False" for
// the known states and "" for unset.
func (n Noisy) String() string {
	switch n {
	case NoisyTrue:
		return "True"
	case NoisyFalse:
		return "False"
	default:
		return ""
	}
}

// Bool collapses the flag to a plain boolean, treating unset as false.
func (n Noisy) Bool() bool {
	return n == NoisyTrue
}

// ChatMessage is a single channel chat event as delivered by the platform
// client.
type ChatMessage struct {
	Channel          string   `json:"channel"`
	Message          string   `json:"message"`
	RawMessage       string   `json:"raw_message,omitempty"`
	Username         string   `json:"username"`
	UserID           string   `json:"user_id"`
	UserType         UserType `json:"user_type"`
	IsVip            bool     `json:"is_vip,omitempty"`
	IsSubscriber     bool     `json:"is_subscriber,omitempty"`
	IsModerator      bool     `json:"is_moderator,omitempty"`
	IsBroadcaster    bool     `json:"is_broadcaster,omitempty"`
	Bits             int      `json:"bits,omitempty"`
	BitsValue        float64  `json:"bits_value,omitempty"`
	RewardID         string   `json:"reward_id,omitempty"`
	SubscribedMonths int      `json:"subscribed_months,omitempty"`
	IsHighlighted    bool     `json:"is_highlighted,omitempty"`
	Noisy            Noisy    `json:"noisy,omitempty"`
}

// WhisperMessage is a direct message event.
type WhisperMessage struct {
	Message    string   `json:"message"`
	RawMessage string   `json:"raw_message,omitempty"`
	Username   string   `json:"username"`
	UserID     string   `json:"user_id"`
	UserType   UserType `json:"user_type"`
}
