package aurinko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const errDeltaTokenInvalid = "DELTA_TOKEN_INVALID"

type address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (a address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

type record struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadId"`
	Subject     string    `json:"subject"`
	From        address   `json:"from"`
	To          []address `json:"to"`
	Cc          []address `json:"cc"`
	SentAt      time.Time `json:"sentAt"`
	BodySnippet string    `json:"bodySnippet"`
	Body        string    `json:"body"`
	SysLabels   []string  `json:"sysLabels"`
	Removed     bool      `json:"removed"`
}

type page struct {
	Records        []record `json:"records"`
	NextPageToken  string   `json:"nextPageToken"`
	NextDeltaToken string   `json:"nextDeltaToken"`
	Error          string   `json:"error"`
}

type Client struct {
	baseURL  string
	maxPages int
	http     *http.Client
}

func NewClient(cfg *config.ProviderConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 500
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.AurinkoBaseURL, "/"),
		maxPages: maxPages,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aurinkoClient.ListInitial")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	batch, err := c.collect(ctx, span, account.Token, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return batch, nil
}

func (c *Client) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aurinkoClient.ListDelta")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if token == "" {
		return nil, mailsync_errors.NewCursorExpiredError(errors.New("empty delta token"))
	}

	batch, err := c.collect(ctx, span, account.Token, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return batch, nil
}

// collect follows page tokens until the provider reports the last page. The
// delta token of that page is only returned once every page was read.
func (c *Client) collect(ctx context.Context, span opentracing.Span, credential, deltaToken string) (*dto.RemoteBatch, error) {
	batch := &dto.RemoteBatch{}
	pageToken := ""

	for pages := 0; ; pages++ {
		if pages >= c.maxPages {
			return nil, mailsync_errors.NewTransientError(fmt.Errorf("gave up after %d pages", pages), 0)
		}

		p, err := c.fetchPage(ctx, span, credential, deltaToken, pageToken)
		if err != nil {
			return nil, err
		}

		for _, r := range p.Records {
			batch.Messages = append(batch.Messages, r.toRemote())
		}

		if p.NextPageToken == "" {
			batch.NextToken = p.NextDeltaToken
			span.LogKV("pages", pages+1, "messages", len(batch.Messages))
			return batch, nil
		}
		pageToken = p.NextPageToken
	}
}

func (c *Client) fetchPage(ctx context.Context, span opentracing.Span, credential, deltaToken, pageToken string) (*page, error) {
	query := url.Values{}
	if deltaToken != "" {
		query.Set("deltaToken", deltaToken)
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	endpoint := c.baseURL + "/email/sync/updated"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, mailsync_errors.NewTransientError(ctx.Err(), 0)
		}
		return nil, mailsync_errors.NewTransientError(errors.Wrap(err, "request failed"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mailsync_errors.NewTransientError(errors.Wrap(err, "unable to read response body"), 0)
	}

	if err := classifyStatus(resp, body); err != nil {
		return nil, err
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if p.Error == errDeltaTokenInvalid {
		return nil, mailsync_errors.NewCursorExpiredError(errors.New(p.Error))
	}
	return &p, nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	cause := fmt.Errorf("request failed with status code %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return mailsync_errors.NewAuthError(cause)
	case status == http.StatusGone || strings.Contains(string(body), errDeltaTokenInvalid):
		return mailsync_errors.NewCursorExpiredError(cause)
	case status == http.StatusTooManyRequests || status >= 500:
		return mailsync_errors.NewTransientError(cause, parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return cause
}

// parseRetryAfter accepts both delta-seconds and HTTP-date values.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (r record) toRemote() dto.RemoteMessage {
	if r.Removed {
		return dto.RemoteMessage{ID: r.ID, Deleted: true}
	}
	return dto.RemoteMessage{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Subject:  r.Subject,
		From:     r.From.String(),
		To:       addresses(r.To),
		Cc:       addresses(r.Cc),
		SentAt:   r.SentAt,
		Snippet:  r.BodySnippet,
		BodyHTML: r.Body,
		Labels:   r.SysLabels,
	}
}

func addresses(list []address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, a.String())
		}
	}
	return out
}
