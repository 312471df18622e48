package timeline

import (
	"encoding/json"

	"roomline/pkg/models"
)

// classKind says how a raw event enters the timeline: as a renderable item
// or as a control event routed against an existing target.
type classKind int

const (
	classItem classKind = iota
	classEdit
	classRedaction
	classReaction
)

// classified is the item factory output for one raw event.
type classified struct {
	kind classKind

	// content is populated for classItem.
	content     models.Content
	undecodable bool

	// target is the related event ID for control events.
	target string
	// key is the reaction key for classReaction.
	key string
	// newContent is the replacement content for classEdit.
	newContent models.Content
}

// classify converts one raw event into a renderable item payload or a
// routing signal. It never fails: malformed or unknown events become
// placeholder items carrying only sender and timestamp.
func classify(ev models.RawEvent) classified {
	switch ev.Type {
	case models.TypeMessage:
		return classifyMessage(ev)
	case models.TypeReaction:
		return classifyReaction(ev)
	case models.TypeRedaction:
		if ev.Redacts == "" {
			return placeholder("malformed redaction")
		}
		return classified{kind: classRedaction, target: ev.Redacts}
	case models.TypeEncrypted:
		return classified{kind: classItem, content: models.Content{
			Kind:   models.KindEncrypted,
			Reason: "decryption pending",
		}}
	}
	if ev.StateKey != nil {
		return classified{kind: classItem, content: models.Content{
			Kind:      models.KindState,
			StateType: ev.Type,
			StateKey:  *ev.StateKey,
			Body:      compactJSON(ev.Content),
		}}
	}
	return placeholder("unsupported event type " + ev.Type)
}

func classifyMessage(ev models.RawEvent) classified {
	var mc models.MessageContent
	if len(ev.Content) == 0 {
		return placeholder("empty content")
	}
	if err := json.Unmarshal(ev.Content, &mc); err != nil {
		return placeholder("undecodable content")
	}
	if rel := mc.RelatesTo; rel != nil && rel.RelType == models.RelReplace && rel.EventID != "" {
		repl := mc
		if mc.NewContent != nil {
			repl = *mc.NewContent
		}
		return classified{
			kind:       classEdit,
			target:     rel.EventID,
			newContent: messageContent(repl),
		}
	}
	return classified{kind: classItem, content: messageContent(mc)}
}

func classifyReaction(ev models.RawEvent) classified {
	var mc models.MessageContent
	if err := json.Unmarshal(ev.Content, &mc); err != nil || mc.RelatesTo == nil ||
		mc.RelatesTo.RelType != models.RelAnnotation || mc.RelatesTo.EventID == "" || mc.RelatesTo.Key == "" {
		return placeholder("malformed reaction")
	}
	return classified{kind: classReaction, target: mc.RelatesTo.EventID, key: mc.RelatesTo.Key}
}

func messageContent(mc models.MessageContent) models.Content {
	c := models.Content{
		Kind:    models.KindMessage,
		MsgType: mc.MsgType,
		Body:    mc.Body,
	}
	if rel := mc.RelatesTo; rel != nil && rel.InReplyTo != nil {
		c.InReplyTo = rel.InReplyTo.EventID
	}
	return c
}

func placeholder(reason string) classified {
	return classified{
		kind:        classItem,
		undecodable: true,
		content:     models.Content{Kind: models.KindPlaceholder, Reason: reason},
	}
}

// compactJSON renders raw state content for display without interpreting it.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(buf)
}
