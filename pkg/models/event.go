package models

import "encoding/json"

// Event types and relation kinds recognized by the engine. Everything else
// is rendered as a placeholder item.
const (
	TypeMessage   = "m.room.message"
	TypeEncrypted = "m.room.encrypted"
	TypeReaction  = "m.reaction"
	TypeRedaction = "m.room.redaction"

	RelReplace    = "m.replace"
	RelAnnotation = "m.annotation"
)

// RawEvent is one protocol event as delivered by the client's sync or
// pagination responses. Decryption happens outside the engine; an event of
// type m.room.encrypted is one the client could not (yet) decrypt.
type RawEvent struct {
	EventID        string          `json:"event_id,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	Type           string          `json:"type"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	Redacts        string          `json:"redacts,omitempty"`
	Unsigned       Unsigned        `json:"unsigned,omitempty"`
}

// Unsigned carries server-added metadata. The transaction ID is echoed back
// to the sending session and is the primary local-echo match key.
type Unsigned struct {
	TransactionID string `json:"transaction_id,omitempty"`
}

// MessageContent is the content of an m.room.message event. For edits the
// replacement lives in m.new_content and m.relates_to points at the target.
type MessageContent struct {
	MsgType    string          `json:"msgtype,omitempty"`
	Body       string          `json:"body,omitempty"`
	NewContent *MessageContent `json:"m.new_content,omitempty"`
	RelatesTo  *RelatesTo      `json:"m.relates_to,omitempty"`
}

// RelatesTo describes an event relation (edit, annotation, reply).
type RelatesTo struct {
	RelType   string     `json:"rel_type,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	InReplyTo *InReplyTo `json:"m.in_reply_to,omitempty"`
}

type InReplyTo struct {
	EventID string `json:"event_id,omitempty"`
}

// EventIdentity names a timeline event: a server-assigned event ID once
// confirmed, or a client transaction ID while the event is a local echo.
// At most one live item owns a given identity.
type EventIdentity struct {
	EventID string `json:"event_id,omitempty"`
	TxnID   string `json:"txn_id,omitempty"`
}

// RemoteIdentity returns the identity of a server-confirmed event.
func RemoteIdentity(eventID string) EventIdentity {
	return EventIdentity{EventID: eventID}
}

// LocalIdentity returns the identity of an unconfirmed local echo.
func LocalIdentity(txnID string) EventIdentity {
	return EventIdentity{TxnID: txnID}
}

// IsLocal reports whether the identity is still a local transaction ID.
func (id EventIdentity) IsLocal() bool { return id.EventID == "" && id.TxnID != "" }

func (id EventIdentity) IsZero() bool { return id.EventID == "" && id.TxnID == "" }

func (id EventIdentity) String() string {
	if id.EventID != "" {
		return id.EventID
	}
	return "txn:" + id.TxnID
}
