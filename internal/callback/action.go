package callback

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is the routing key of an inline-keyboard callback. Telebot prefixes
// callback data of unique-tagged buttons with "\f", so the encoded form is
// "\f<action>|<payload>" and both processes (bot and web notifier) produce
// the same wire format.
type Action string

const (
	ActionApply        Action = "apply"
	ActionPublish      Action = "publish"
	ActionSelect       Action = "select_user"
	ActionCloseTender  Action = "close_tender"
	ActionCancelTender Action = "cancel_tender"
	ActionApprove      Action = "mod_approve"
	ActionReject       Action = "mod_reject"
	ActionCategory     Action = "tcat"
	ActionConfirm      Action = "tconfirm"
	ActionSkill        Action = "skill"
	ActionDocuments    Action = "doc"
	ActionRegConfirm   Action = "regconfirm"
	ActionRate         Action = "rate"
	ActionRating       Action = "rating"
	ActionSupportEnd   Action = "support_end"
	ActionTendersPage  Action = "tenders_page"
)

func (a Action) String() string {
	return string(a)
}

func (a Action) DataMatches(data string) bool {
	prefix := "\f" + a.String()
	return data == prefix || strings.HasPrefix(data, prefix+"|")
}

// Encode builds telebot-compatible callback data.
func (a Action) Encode(payload string) string {
	if payload == "" {
		return "\f" + a.String()
	}
	return "\f" + a.String() + "|" + payload
}

// Payload strips the action prefix from callback data.
func (a Action) Payload(data string) string {
	prefix := "\f" + a.String()
	if data == prefix {
		return ""
	}
	return strings.TrimPrefix(data, prefix+"|")
}

// ParseID parses a numeric payload, the common case for entity references.
func ParseID(payload string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(payload), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing callback id %q: %w", payload, err)
	}
	return uint(id), nil
}

// EncodeID is Encode for numeric payloads.
func (a Action) EncodeID(id uint) string {
	return a.Encode(strconv.FormatUint(uint64(id), 10))
}
