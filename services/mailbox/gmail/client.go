package gmail

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	user         = "me"
	listPageSize = 100
)

type Client struct {
	timeout     time.Duration
	maxInitial  int
	maxPages    int
	endpoint    string
	historyKind []string
}

func NewClient(cfg *config.ProviderConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxInitial := cfg.GmailMaxInitialMessages
	if maxInitial <= 0 {
		maxInitial = 500
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 500
	}
	return &Client{
		timeout:     timeout,
		maxInitial:  maxInitial,
		maxPages:    maxPages,
		historyKind: []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"},
	}
}

func (c *Client) service(ctx context.Context, account *models.Account) (*gmail.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.Token}))
	httpClient.Timeout = c.timeout

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create Gmail service")
	}
	return svc, nil
}

// ListInitial captures the mailbox history id before listing so that changes
// made while the listing runs are replayed by the first delta.
func (c *Client) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailClient.ListInitial")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	svc, err := c.service(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	profile, err := svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, classify(ctx, err, false)
	}

	ids, err := c.listMessageIDs(ctx, svc)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	batch := &dto.RemoteBatch{NextToken: strconv.FormatUint(profile.HistoryId, 10)}
	for _, id := range ids {
		msg, err := svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		if err != nil {
			if isNotFound(err) {
				continue
			}
			tracing.TraceErr(span, err)
			return nil, classify(ctx, err, false)
		}
		batch.Messages = append(batch.Messages, toRemote(msg))
	}
	span.LogKV("messages", len(batch.Messages))
	return batch, nil
}

func (c *Client) listMessageIDs(ctx context.Context, svc *gmail.Service) ([]string, error) {
	var ids []string
	pageToken := ""
	for pages := 0; len(ids) < c.maxInitial; pages++ {
		if pages >= c.maxPages {
			return nil, mailsync_errors.NewTransientError(fmt.Errorf("gave up after %d pages", pages), 0)
		}
		call := svc.Users.Messages.List(user).IncludeSpamTrash(false).MaxResults(listPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(ctx, err, false)
		}
		for _, m := range resp.Messages {
			if len(ids) == c.maxInitial {
				break
			}
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

func (c *Client) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailClient.ListDelta")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	startHistoryID, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return nil, mailsync_errors.NewCursorExpiredError(errors.Wrapf(err, "invalid history id %q", token))
	}

	svc, err := c.service(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	changes, nextHistoryID, err := c.collectHistory(ctx, svc, startHistoryID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	batch := &dto.RemoteBatch{NextToken: strconv.FormatUint(nextHistoryID, 10)}
	for _, change := range changes.ordered() {
		if change.deleted {
			batch.Messages = append(batch.Messages, dto.RemoteMessage{ID: change.id, Deleted: true})
			continue
		}
		msg, err := svc.Users.Messages.Get(user, change.id).Format("full").Context(ctx).Do()
		if err != nil {
			if isNotFound(err) {
				batch.Messages = append(batch.Messages, dto.RemoteMessage{ID: change.id, Deleted: true})
				continue
			}
			tracing.TraceErr(span, err)
			return nil, classify(ctx, err, false)
		}
		batch.Messages = append(batch.Messages, toRemote(msg))
	}
	span.LogKV("messages", len(batch.Messages))
	return batch, nil
}

func (c *Client) collectHistory(ctx context.Context, svc *gmail.Service, start uint64) (*historyChanges, uint64, error) {
	changes := newHistoryChanges()
	next := start
	pageToken := ""

	for pages := 0; ; pages++ {
		if pages >= c.maxPages {
			return nil, 0, mailsync_errors.NewTransientError(fmt.Errorf("gave up after %d pages", pages), 0)
		}
		call := svc.Users.History.List(user).StartHistoryId(start).HistoryTypes(c.historyKind...).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, 0, classify(ctx, err, true)
		}
		for _, h := range resp.History {
			changes.add(h)
		}
		if resp.HistoryId > next {
			next = resp.HistoryId
		}
		if resp.NextPageToken == "" {
			return changes, next, nil
		}
		pageToken = resp.NextPageToken
	}
}

// classify maps Gmail API failures onto the sync error taxonomy. A 404 only
// means an expired cursor on the history endpoint.
func classify(ctx context.Context, err error, history bool) error {
	if ctx.Err() != nil {
		return mailsync_errors.NewTransientError(ctx.Err(), 0)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return mailsync_errors.NewTransientError(err, 0)
	}
	switch {
	case isRateLimited(apiErr):
		return mailsync_errors.NewTransientError(err, retryAfter(apiErr.Header))
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return mailsync_errors.NewAuthError(err)
	case apiErr.Code == http.StatusNotFound && history:
		return mailsync_errors.NewCursorExpiredError(err)
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return mailsync_errors.NewTransientError(err, retryAfter(apiErr.Header))
	}
	return err
}

// Gmail answers quota throttling with 403 and a usage-limit reason.
var rateLimitReasons = map[string]struct{}{
	"rateLimitExceeded":     {},
	"userRateLimitExceeded": {},
	"dailyLimitExceeded":    {},
	"quotaExceeded":         {},
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if _, ok := rateLimitReasons[item.Reason]; ok {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
