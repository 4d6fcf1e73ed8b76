package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const htmlContentType = "text/html; charset=utf-8"

// BodyStore moves HTML bodies above the threshold out of postgres.
type BodyStore struct {
	storage   interfaces.StorageService
	threshold int
}

func NewBodyStore(storage interfaces.StorageService, threshold int) *BodyStore {
	return &BodyStore{storage: storage, threshold: threshold}
}

func BodyKey(accountID, messageID string) string {
	return fmt.Sprintf("bodies/%s/%s.html", url.PathEscape(accountID), url.PathEscape(messageID))
}

// Offload uploads the HTML body when it is too large to keep inline and
// replaces it with the object key.
func (b *BodyStore) Offload(ctx context.Context, message *models.Message) error {
	if b == nil || b.storage == nil || message == nil || len(message.BodyHTML) <= b.threshold {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "BodyStore.Offload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, message.AccountID)
	tracing.TagEntity(span, message.ID)

	key := BodyKey(message.AccountID, message.ID)
	if err := b.storage.Upload(ctx, key, []byte(message.BodyHTML), htmlContentType); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to offload message body")
	}
	message.BodyStorageKey = key
	message.BodyHTML = ""
	return nil
}

// Load returns the HTML body, fetching it from the bucket when offloaded.
func (b *BodyStore) Load(ctx context.Context, message *models.Message) (string, error) {
	if message == nil {
		return "", nil
	}
	if message.BodyStorageKey == "" || b == nil || b.storage == nil {
		return message.BodyHTML, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "BodyStore.Load")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, message.ID)

	data, err := b.storage.Download(ctx, message.BodyStorageKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to download message body")
	}
	return string(data), nil
}
