package mailbox

import (
	"github.com/customeros/mailsync/config"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/services/mailbox/aurinko"
	"github.com/customeros/mailsync/services/mailbox/gmail"
	"github.com/customeros/mailsync/services/mailbox/imap"
)

// Registry hands out the provider client matching an account.
type Registry struct {
	clients map[enum.MailboxProvider]interfaces.RemoteMailboxClient
}

func NewRegistry(cfg *config.ProviderConfig) *Registry {
	return &Registry{
		clients: map[enum.MailboxProvider]interfaces.RemoteMailboxClient{
			enum.ProviderAurinko: aurinko.NewClient(cfg),
			enum.ProviderGmail:   gmail.NewClient(cfg),
			enum.ProviderIMAP:    imap.NewClient(cfg),
		},
	}
}

// Register replaces the client for a provider.
func (r *Registry) Register(provider enum.MailboxProvider, client interfaces.RemoteMailboxClient) {
	r.clients[provider] = client
}

func (r *Registry) ClientFor(account *models.Account) (interfaces.RemoteMailboxClient, error) {
	if account == nil {
		return nil, mailsync_errors.ErrAccountNotFound
	}
	provider := account.Provider
	if provider == "" {
		provider = enum.ProviderAurinko
	}
	client, ok := r.clients[provider]
	if !ok {
		return nil, mailsync_errors.ErrUnsupportedProvider
	}
	return client, nil
}
