package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/customeros/mailsync/dto"
)

// messageID is stable for as long as the folder keeps its UIDVALIDITY.
func messageID(f folder, uidValidity, uid uint32) string {
	return fmt.Sprintf("%s:%d:%d", f.name, uidValidity, uid)
}

// toRemote builds a message from the envelope and the parsed MIME body. IMAP
// has no thread ids, so every message becomes its own thread.
func toRemote(msg *imap.Message, section *imap.BodySectionName, f folder, uidValidity uint32) dto.RemoteMessage {
	remote := dto.RemoteMessage{
		ID:     messageID(f, uidValidity, msg.Uid),
		Labels: []string{f.label},
		SentAt: msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		remote.Subject = env.Subject
		if len(env.From) > 0 {
			remote.From = formatAddress(env.From[0])
		}
		remote.To = formatAddresses(env.To)
		remote.Cc = formatAddresses(env.Cc)
		if !env.Date.IsZero() {
			remote.SentAt = env.Date
		}
	}

	if literal := msg.GetBody(section); literal != nil {
		if parsed, err := enmime.ReadEnvelope(literal); err == nil {
			remote.BodyText = parsed.Text
			remote.BodyHTML = parsed.HTML
			if remote.Subject == "" {
				remote.Subject = parsed.GetHeader("Subject")
			}
		}
	}
	return remote
}

func formatAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if addr.PersonalName == "" {
		return addr.Address()
	}
	return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
}

func formatAddresses(list []*imap.Address) []string {
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if s := formatAddress(addr); s != "" && addr.MailboxName != "" {
			out = append(out, s)
		}
	}
	return out
}
