package enum

type MailboxProvider string

const (
	ProviderAurinko MailboxProvider = "aurinko"
	ProviderGmail   MailboxProvider = "gmail"
	ProviderIMAP    MailboxProvider = "imap"
)

func (p MailboxProvider) String() string {
	return string(p)
}

func (p MailboxProvider) IsValid() bool {
	switch p {
	case ProviderAurinko, ProviderGmail, ProviderIMAP:
		return true
	}
	return false
}
