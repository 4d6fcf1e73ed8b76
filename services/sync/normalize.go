package sync

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	"golang.org/x/net/html"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	SnippetLength    = 200
	MaxSubjectLength = 1000
	MaxAddressLength = 254
	DefaultSubject   = "(No Subject)"
)

// normalizedBatch is a provider batch reduced to one record per message id.
type normalizedBatch struct {
	Upserts    []*models.Message
	DeletedIDs []string
}

// normalizeBatch converts provider messages to the stored shape. When the
// same id appears more than once the last record wins, whether it is an
// update or a deletion marker.
func normalizeBatch(accountID string, remote []dto.RemoteMessage) normalizedBatch {
	type entry struct {
		message *models.Message
		deleted bool
	}

	order := make([]string, 0, len(remote))
	latest := make(map[string]entry, len(remote))

	for i := range remote {
		rm := remote[i]
		id := strings.TrimSpace(cleanText(rm.ID))
		if id == "" {
			continue
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		if rm.Deleted {
			latest[id] = entry{deleted: true}
			continue
		}
		latest[id] = entry{message: normalizeMessage(accountID, id, rm)}
	}

	batch := normalizedBatch{}
	for _, id := range order {
		e := latest[id]
		if e.deleted {
			batch.DeletedIDs = append(batch.DeletedIDs, id)
			continue
		}
		batch.Upserts = append(batch.Upserts, e.message)
	}
	return batch
}

func normalizeMessage(accountID, id string, rm dto.RemoteMessage) *models.Message {
	threadID := strings.TrimSpace(cleanText(rm.ThreadID))
	if threadID == "" {
		threadID = id
	}

	subject := strings.TrimSpace(utils.TruncateRunes(cleanText(rm.Subject), MaxSubjectLength))
	if subject == "" {
		subject = DefaultSubject
	}
	bodyText := cleanText(rm.BodyText)
	bodyHTML := cleanText(rm.BodyHTML)

	message := &models.Message{
		AccountID:   accountID,
		ID:          id,
		ThreadID:    threadID,
		FromAddress: cleanAddress(rm.From),
		ToAddresses: cleanAddresses(rm.To),
		CcAddresses: cleanAddresses(rm.Cc),
		Subject:     subject,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
		BodySnippet: buildSnippet(cleanText(rm.Snippet), bodyText, bodyHTML),
		SentAt:      rm.SentAt.UTC(),
	}
	message.SetFlags(flagsFromLabels(rm.Labels))
	return message
}

// cleanText drops NUL bytes and invalid UTF-8, neither of which postgres
// accepts in text columns.
func cleanText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "")
}

func cleanAddress(raw string) string {
	addr := utils.ExtractAddress(cleanText(raw))
	if addr == "" || len(addr) > MaxAddressLength {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(addr)
	if !validation.IsValid {
		return ""
	}
	return validation.CleanEmail
}

func cleanAddresses(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, r := range raw {
		if addr := cleanAddress(r); addr != "" {
			result = append(result, addr)
		}
	}
	return utils.UniqueEmails(result)
}

func buildSnippet(snippet, text, htmlBody string) string {
	source := collapseWhitespace(snippet)
	if source == "" {
		source = collapseWhitespace(text)
	}
	if source == "" && htmlBody != "" {
		source = collapseWhitespace(htmlToText(htmlBody))
	}
	return utils.TruncateRunes(source, SnippetLength)
}

func htmlToText(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()

	var sb strings.Builder
	for _, n := range doc.Nodes {
		collectText(n, &sb)
	}
	return sb.String()
}

// collectText walks the tree in document order; block boundaries become spaces.
func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func flagsFromLabels(labels []string) models.FolderFlags {
	flags := models.FolderFlags{}
	for _, label := range labels {
		switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(label), "\\")) {
		case "inbox":
			flags.Inbox = true
		case "sent":
			flags.Sent = true
		case "draft", "drafts":
			flags.Draft = true
		}
	}
	return flags
}
