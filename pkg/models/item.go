package models

// ItemKind discriminates rendered timeline entries. Virtual entries (day
// dividers, the read marker) are produced by the post-processing pass and
// are excluded from identity tracking.
type ItemKind string

const (
	ItemEvent      ItemKind = "event"
	ItemDayDivider ItemKind = "day_divider"
	ItemReadMarker ItemKind = "read_marker"
)

// ContentKind describes what an event item currently displays.
type ContentKind string

const (
	KindMessage     ContentKind = "message"
	KindState       ContentKind = "state"
	KindPlaceholder ContentKind = "placeholder"
	KindEncrypted   ContentKind = "unable_to_decrypt"
	KindTombstone   ContentKind = "tombstone"
)

// SendState tracks the lifecycle of a locally-originated event. Remote
// events are always Confirmed.
type SendState string

const (
	SendNotSent   SendState = "not_sent"
	SendSending   SendState = "sending"
	SendSent      SendState = "sent"
	SendFailed    SendState = "failed"
	SendConfirmed SendState = "confirmed"
)

// Content is the renderable payload of an event item. For placeholders the
// Reason field says why no richer rendering was possible; for tombstones
// every payload field is cleared.
type Content struct {
	Kind      ContentKind `json:"kind"`
	MsgType   string      `json:"msgtype,omitempty"`
	Body      string      `json:"body,omitempty"`
	StateType string      `json:"state_type,omitempty"`
	StateKey  string      `json:"state_key,omitempty"`
	InReplyTo string      `json:"in_reply_to,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Reaction is one aggregated reaction key with its senders in first-add
// order.
type Reaction struct {
	Key     string   `json:"key"`
	Senders []string `json:"senders"`
}

// EventItem is the rendered form of one timeline event.
type EventItem struct {
	Identity  EventIdentity `json:"identity"`
	Sender    string        `json:"sender,omitempty"`
	Timestamp int64         `json:"ts"`
	Content   Content       `json:"content"`
	SendState SendState     `json:"send_state"`
	SendError string        `json:"send_error,omitempty"`
	Edited    bool          `json:"edited,omitempty"`
	Redacted  bool          `json:"redacted,omitempty"`
	Reactions []Reaction    `json:"reactions,omitempty"`
}

// TimelineItem is one entry of a rendered snapshot. Key is stable across
// snapshots for the same logical entry (it survives local-to-remote
// identity remaps) and is what the diff stream keys on.
type TimelineItem struct {
	Kind  ItemKind   `json:"kind"`
	Key   string     `json:"key"`
	Event *EventItem `json:"event,omitempty"`
	Date  string     `json:"date,omitempty"`
}
