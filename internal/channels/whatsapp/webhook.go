// Package whatsapp parses WhatsApp Cloud API webhooks and delivers replies,
// either through the Graph API or through a WebSocket bridge.
package whatsapp

import (
	"github.com/tidwall/gjson"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
)

// Inbound is a user message pulled out of a webhook payload, before cleaning.
type Inbound struct {
	Message  string
	Sender   string
	Metadata map[string]string
}

// shape is one place a message body and its sender may live in a payload.
type shape struct {
	name, body, from string
}

// shapes are tried in order: the Cloud API layout first, then a layout
// with objects instead of single-element arrays, then a flat test layout.
var shapes = []shape{
	{"standard", "entry.0.changes.0.value.messages.0.text.body", "entry.0.changes.0.value.messages.0.from"},
	{"nested-object", "entry.changes.value.messages.text.body", "entry.changes.value.messages.from"},
	{"flat", "body.text", "from"},
}

// Extract returns the first shape yielding a non-empty message and sender.
func Extract(raw []byte) (Inbound, bool) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, false
	}
	for _, s := range shapes {
		body := gjson.GetBytes(raw, s.body)
		from := gjson.GetBytes(raw, s.from)
		if body.Type != gjson.String || body.Str == "" {
			continue
		}
		if (from.Type != gjson.String && from.Type != gjson.Number) || from.String() == "" {
			continue
		}
		return Inbound{
			Message:  body.Str,
			Sender:   from.String(),
			Metadata: extractMetadata(raw),
		}, true
	}
	return Inbound{}, false
}

// extractMetadata reads message id, timestamp, type and profile name from
// the standard layout. Other layouts carry no metadata.
func extractMetadata(raw []byte) map[string]string {
	value := gjson.GetBytes(raw, "entry.0.changes.0.value")
	msg := value.Get("messages.0")
	if !value.IsObject() || !msg.IsObject() {
		return map[string]string{}
	}

	md := map[string]string{
		bus.MetaType:     "text",
		bus.MetaFromName: "Unknown",
	}
	if v := msg.Get("id"); v.Exists() {
		md[bus.MetaMessageID] = v.String()
	}
	if v := msg.Get("timestamp"); v.Exists() {
		md[bus.MetaTimestamp] = v.String()
	}
	if v := msg.Get("type"); v.String() != "" {
		md[bus.MetaType] = v.String()
	}
	if v := value.Get("contacts.0.profile.name"); v.String() != "" {
		md[bus.MetaFromName] = v.String()
	}
	return md
}

// Status is a delivery receipt (sent, delivered, read) for an earlier reply.
type Status struct {
	Status      string
	RecipientID string
}

// StatusUpdate reports whether the payload is a delivery receipt rather
// than a user message.
func StatusUpdate(raw []byte) (Status, bool) {
	statuses := gjson.GetBytes(raw, "entry.0.changes.0.value.statuses")
	if !statuses.Exists() {
		return Status{}, false
	}
	st := Status{Status: "unknown", RecipientID: "unknown"}
	if v := statuses.Get("0.status"); v.String() != "" {
		st.Status = v.String()
	}
	if v := statuses.Get("0.recipient_id"); v.String() != "" {
		st.RecipientID = v.String()
	}
	return st, true
}
