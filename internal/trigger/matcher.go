package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"chatflow/internal/twitch"
)

// TextMatchType selects how the message body is compared against the
// configured match text. Matching is case-defined by the mode; nothing is
// silently case-insensitive.
type TextMatchType string

const (
	TextMatchNone       TextMatchType = "none"
	TextMatchExact      TextMatchType = "exact"
	TextMatchContains   TextMatchType = "contains"
	TextMatchStartsWith TextMatchType = "starts-with"
	TextMatchEndsWith   TextMatchType = "ends-with"
	TextMatchPattern    TextMatchType = "pattern"
)

// MatchesText reports whether message satisfies the match rule. Configuration
// errors are inert: an unknown mode or an invalid pattern never matches
// rather than failing the pipeline. An empty mode means no rule is
// configured and always passes.
func MatchesText(mode TextMatchType, matchText, message string) bool {
	switch mode {
	case TextMatchNone, "":
		return true
	case TextMatchExact:
		return message == matchText
	case TextMatchContains:
		return strings.Contains(message, matchText)
	case TextMatchStartsWith:
		return strings.HasPrefix(message, matchText)
	case TextMatchEndsWith:
		return strings.HasSuffix(message, matchText)
	case TextMatchPattern:
		matched, err := regexp.MatchString(matchText, message)
		return err == nil && matched
	default:
		return false
	}
}

// evaluateCriteria evaluates a custom criteria expression against a chat
// message. The expression uses the expr language and must evaluate to a
// boolean; the message is exposed as the "message" variable.
// Example: message.bits > 100 && message.is_subscriber
func evaluateCriteria(criteria string, msg twitch.ChatMessage) (bool, error) {
	env := map[string]interface{}{
		"message": chatMessageEnv(msg),
	}

	program, err := expr.Compile(criteria, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("failed to compile criteria: %w", err)
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate criteria: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return result, nil
}

// chatMessageEnv maps a chat message to the expression environment using the
// message's wire field names.
func chatMessageEnv(msg twitch.ChatMessage) map[string]interface{} {
	return map[string]interface{}{
		"channel":           msg.Channel,
		"message":           msg.Message,
		"username":          msg.Username,
		"user_id":           msg.UserID,
		"user_type":         msg.UserType.String(),
		"is_vip":            msg.IsVip,
		"is_subscriber":     msg.IsSubscriber,
		"is_moderator":      msg.IsModerator,
		"is_broadcaster":    msg.IsBroadcaster,
		"bits":              msg.Bits,
		"bits_value":        msg.BitsValue,
		"reward_id":         msg.RewardID,
		"subscribed_months": msg.SubscribedMonths,
		"is_highlighted":    msg.IsHighlighted,
		"is_noisy":          msg.Noisy.Bool(),
	}
}
