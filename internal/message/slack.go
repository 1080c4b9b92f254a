package message

// SlackMessage is a message as returned by Slack's conversations.history and
// conversations.replies methods.
type SlackMessage struct {
	User      string          `json:"user"`
	Text      string          `json:"text"`
	Type      string          `json:"type"`
	TS        string          `json:"ts"`
	ThreadTS  string          `json:"thread_ts,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	BotID     string          `json:"bot_id,omitempty"`
	Reactions []SlackReaction `json:"reactions,omitempty"`
	Edited    *SlackEdit      `json:"edited,omitempty"`
}

type SlackReaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users,omitempty"`
}

type SlackEdit struct {
	User string `json:"user"`
	TS   string `json:"ts"`
}

// FromSlack converts a Slack API message into the export record shape.
// A message without thread_ts is its own thread root.
func FromSlack(m SlackMessage, channelID, channelName string) Raw {
	parent := m.ThreadTS
	if parent == "" {
		parent = m.TS
	}
	reply := m.ThreadTS != "" && m.ThreadTS != m.TS

	reactions := make([]Reaction, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions = append(reactions, Reaction{Name: r.Name, Count: r.Count})
	}

	text := m.Text
	raw := Raw{
		ChannelID:      channelID,
		UserID:         m.User,
		MessageText:    &text,
		MessageType:    m.Type,
		Timestamp:      m.TS,
		ParentThreadTS: parent,
		IsThreadReply:  &reply,
		Reactions:      reactions,
	}
	if channelName != "" {
		raw.ChannelName = &channelName
	}
	if m.Subtype != "" {
		subtype := m.Subtype
		raw.Subtype = &subtype
	}
	if m.BotID != "" {
		bot := m.BotID
		raw.SentByBotID = &bot
	}
	if m.Edited != nil {
		raw.LastEdited = &Edit{EditedBy: m.Edited.User, EditTimestamp: m.Edited.TS}
	}
	return raw
}
