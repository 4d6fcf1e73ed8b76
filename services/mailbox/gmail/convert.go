package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/utils"
)

type historyChange struct {
	id      string
	deleted bool
}

// historyChanges keeps the last change per message in first-seen order.
type historyChanges struct {
	order   []string
	changes map[string]historyChange
}

func newHistoryChanges() *historyChanges {
	return &historyChanges{changes: make(map[string]historyChange)}
}

func (h *historyChanges) set(id string, deleted bool) {
	if id == "" {
		return
	}
	if _, ok := h.changes[id]; !ok {
		h.order = append(h.order, id)
	}
	h.changes[id] = historyChange{id: id, deleted: deleted}
}

func (h *historyChanges) add(record *gmail.History) {
	if record == nil {
		return
	}
	for _, m := range record.MessagesAdded {
		if m.Message != nil {
			h.set(m.Message.Id, false)
		}
	}
	for _, m := range record.LabelsAdded {
		if m.Message != nil {
			h.set(m.Message.Id, false)
		}
	}
	for _, m := range record.LabelsRemoved {
		if m.Message != nil {
			h.set(m.Message.Id, false)
		}
	}
	for _, m := range record.MessagesDeleted {
		if m.Message != nil {
			h.set(m.Message.Id, true)
		}
	}
}

func (h *historyChanges) ordered() []historyChange {
	out := make([]historyChange, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.changes[id])
	}
	return out
}

func toRemote(msg *gmail.Message) dto.RemoteMessage {
	remote := dto.RemoteMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		remote.SentAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return remote
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "subject":
			remote.Subject = header.Value
		case "from":
			remote.From = header.Value
		case "to":
			remote.To = utils.SplitAddressList(header.Value)
		case "cc":
			remote.Cc = utils.SplitAddressList(header.Value)
		}
	}
	remote.BodyText = findBody(msg.Payload, "text/plain")
	remote.BodyHTML = findBody(msg.Payload, "text/html")
	return remote
}

// findBody returns the first part with the given mime type, depth first.
func findBody(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBody(part.Body.Data); err == nil {
			return data
		}
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// Gmail bodies are base64url, with or without padding.
func decodeBody(data string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
