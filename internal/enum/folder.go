package enum

import "strings"

type ThreadTab string

const (
	TabInbox  ThreadTab = "inbox"
	TabSent   ThreadTab = "sent"
	TabDrafts ThreadTab = "drafts"
)

func (t ThreadTab) String() string {
	return string(t)
}

func ParseThreadTab(s string) (ThreadTab, bool) {
	switch ThreadTab(strings.ToLower(strings.TrimSpace(s))) {
	case TabInbox:
		return TabInbox, true
	case TabSent:
		return TabSent, true
	case TabDrafts, "draft":
		return TabDrafts, true
	}
	return "", false
}
