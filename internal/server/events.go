package server

import (
	"github.com/tonimelisma/drivedrop/internal/line"
	"github.com/tonimelisma/drivedrop/internal/relay"
)

type eventKind int

const (
	eventAttachment eventKind = iota + 1
	eventText
)

// toRelayEvent maps a webhook event onto the relay's model. Only message
// events from a known user are relayed; everything else reports ok=false.
func toRelayEvent(e *line.Event) (relay.Event, eventKind, bool) {
	if e.Type != line.EventTypeMessage || e.Message == nil || e.Source.UserID == "" {
		return relay.Event{}, 0, false
	}

	ec := relay.EventContext{
		SenderID:   e.Source.UserID,
		ReplyToken: e.ReplyToken,
	}

	switch e.Source.Type {
	case line.SourceTypeUser:
		ec.Kind = relay.SourceDirect
	case line.SourceTypeGroup:
		ec.Kind = relay.SourceGroup
		ec.GroupID = e.Source.GroupID
	case line.SourceTypeRoom:
		ec.Kind = relay.SourceRoom
		ec.GroupID = e.Source.RoomID
	default:
		return relay.Event{}, 0, false
	}

	if ec.Shared() && ec.GroupID == "" {
		return relay.Event{}, 0, false
	}

	ev := relay.Event{
		Context:   ec,
		MessageID: e.Message.ID,
		At:        e.Time(),
	}

	switch e.Message.Type {
	case line.MessageTypeImage:
		ev.Kind = relay.KindImage
		return ev, eventAttachment, true
	case line.MessageTypeFile:
		ev.Kind = relay.KindFile
		ev.FileName = e.Message.FileName

		return ev, eventAttachment, true
	case line.MessageTypeText:
		ev.Text = e.Message.Text
		return ev, eventText, true
	default:
		return relay.Event{}, 0, false
	}
}
