package message

import (
	"fmt"
	"strings"
)

// TS is a Slack message timestamp such as "1746565594.746919". Timestamps
// compare numerically, seconds first and then the fractional part.
type TS string

// ParseTS validates s as a Slack timestamp.
func ParseTS(s string) (TS, error) {
	sec, frac, hasFrac := strings.Cut(s, ".")
	if !allDigits(sec) || (hasFrac && !allDigits(frac)) {
		return "", fmt.Errorf("invalid slack timestamp %q", s)
	}
	return TS(s), nil
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after o.
func (t TS) Compare(o TS) int {
	as, af, _ := strings.Cut(string(t), ".")
	bs, bf, _ := strings.Cut(string(o), ".")

	as = strings.TrimLeft(as, "0")
	bs = strings.TrimLeft(bs, "0")
	if len(as) != len(bs) {
		if len(as) < len(bs) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(as, bs); c != 0 {
		return c
	}

	// Right-pad the fractional parts so "1.5" and "1.50" compare equal.
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return strings.Compare(af, bf)
}

// Before reports whether t sorts before o.
func (t TS) Before(o TS) bool { return t.Compare(o) < 0 }

func (t TS) String() string { return string(t) }

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Reaction is an emoji reaction and how many users added it. Reactions
// without a name are dropped at parse time.
type Reaction struct {
	Name  string `json:"name"`
	Count int    `json:"count" validate:"gte=0"`
}

// Edit records who last edited a message and when.
type Edit struct {
	EditedBy      string `json:"edited_by"`
	EditTimestamp string `json:"edit_timestamp"`
}

// Raw is one record of a workspace export as written by the extractor.
// Pointer fields distinguish "absent" from "zero" for required fields.
type Raw struct {
	ChannelID      string     `json:"channel_id" validate:"required"`
	ChannelName    *string    `json:"channel_name"`
	UserID         string     `json:"user_id"`
	MessageText    *string    `json:"message_text" validate:"required"`
	MessageType    string     `json:"message_type"`
	Timestamp      string     `json:"timestamp" validate:"required,slack_ts"`
	ParentThreadTS string     `json:"parent_thread_ts" validate:"omitempty,slack_ts"`
	IsThreadReply  *bool      `json:"is_thread_reply" validate:"required"`
	Reactions      []Reaction `json:"reactions" validate:"required,dive"`
	Subtype        *string    `json:"subtype"`
	SentByBotID    *string    `json:"sent_by_bot_id"`
	LastEdited     *Edit      `json:"last_edited"`
}

// Record is a validated, normalized message. Records are built once by Parse
// and never modified afterwards.
type Record struct {
	Text          string
	Reactions     []Reaction
	ChannelID     string
	ChannelName   string
	TS            TS
	IsThreadReply bool
	// ParentTS identifies the thread. For a root message it equals TS.
	ParentTS TS

	UserID     string
	Subtype    string
	LastEdited *Edit
}

// IsRoot reports whether the record starts its own thread.
func (r Record) IsRoot() bool { return r.ParentTS == r.TS }
