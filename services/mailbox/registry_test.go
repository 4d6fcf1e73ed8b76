package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type stubClient struct{}

func (stubClient) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	return &dto.RemoteBatch{NextToken: "stub"}, nil
}

func (stubClient) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	return &dto.RemoteBatch{NextToken: token}, nil
}

func TestRegistry_ClientFor(t *testing.T) {
	registry := NewRegistry(&config.ProviderConfig{AurinkoBaseURL: "http://localhost"})

	for _, provider := range []enum.MailboxProvider{enum.ProviderAurinko, enum.ProviderGmail, enum.ProviderIMAP, ""} {
		client, err := registry.ClientFor(&models.Account{Provider: provider})
		require.NoError(t, err, provider)
		assert.NotNil(t, client)
	}

	_, err := registry.ClientFor(&models.Account{Provider: "exchange"})
	assert.ErrorIs(t, err, mailsync_errors.ErrUnsupportedProvider)

	_, err = registry.ClientFor(nil)
	assert.ErrorIs(t, err, mailsync_errors.ErrAccountNotFound)
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry(&config.ProviderConfig{})
	registry.Register(enum.ProviderGmail, stubClient{})

	client, err := registry.ClientFor(&models.Account{Provider: enum.ProviderGmail})
	require.NoError(t, err)

	batch, err := client.ListInitial(context.Background(), &models.Account{})
	require.NoError(t, err)
	assert.Equal(t, "stub", batch.NextToken)
}
