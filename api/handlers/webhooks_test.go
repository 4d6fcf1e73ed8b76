package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/models"
)

const signingSecret = "shh"

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingScheduler) ScheduleSync(ctx context.Context, accountID string, fullResync bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, accountID+":"+reason)
	return nil
}

type fakeUsers struct {
	upserted []*models.User
	deleted  []string
}

func (f *fakeUsers) Upsert(ctx context.Context, user *models.User) error {
	f.upserted = append(f.upserted, user)
	return nil
}

func (f *fakeUsers) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, nil
}

var webhookNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newWebhookHandler(userSecret string) (*WebhookHandler, *recordingScheduler, *fakeUsers) {
	scheduler := &recordingScheduler{}
	users := &fakeUsers{}
	h := NewWebhookHandler(
		&config.WebhookConfig{SigningSecret: signingSecret, UserWebhookSecret: userSecret, MaxClockSkew: 5 * time.Minute},
		&fakeAccountRepo{byProvider: map[string]*models.Account{"123": {ID: "acct_1"}}},
		users,
		scheduler,
		getLogger(),
	)
	h.now = func() time.Time { return webhookNow }
	return h, scheduler, users
}

func mailboxRouter(h *WebhookHandler) *gin.Engine {
	r := gin.New()
	r.GET("/webhooks/mailbox", h.MailboxNotification())
	r.POST("/webhooks/mailbox", h.MailboxNotification())
	r.POST("/webhooks/users", h.UserEvent())
	return r
}

func postSigned(r *gin.Engine, body string, timestamp time.Time, signature string) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	if signature == "" {
		signature = Sign(signingSecret, ts, []byte(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewBufferString(body))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMailboxNotification_SchedulesSync(t *testing.T) {
	h, scheduler, _ := newWebhookHandler("")
	body := `{"subscription":"s1","resource":"/email/messages","accountId":123,"payloads":[{"changeType":"created","id":"m1"}]}`

	w := postSigned(mailboxRouter(h), body, webhookNow, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"scheduled":true}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderDeliveryID))
	assert.Equal(t, []string{"acct_1:webhook"}, scheduler.calls)
}

func TestMailboxNotification_InvalidSignature(t *testing.T) {
	h, scheduler, _ := newWebhookHandler("")
	body := `{"accountId":"123"}`

	w := postSigned(mailboxRouter(h), body, webhookNow, "deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidSignature, errorCode(t, w))

	w = postSigned(mailboxRouter(h), body, webhookNow.Add(-time.Hour), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewBufferString(body))
	unsigned := httptest.NewRecorder()
	mailboxRouter(h).ServeHTTP(unsigned, req)
	assert.Equal(t, http.StatusBadRequest, unsigned.Code)

	assert.Empty(t, scheduler.calls)
}

func TestMailboxNotification_UnknownAccountIsAcknowledged(t *testing.T) {
	h, scheduler, _ := newWebhookHandler("")
	w := postSigned(mailboxRouter(h), `{"accountId":"999"}`, webhookNow, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"scheduled":false}`, w.Body.String())
	assert.Empty(t, scheduler.calls)
}

func TestMailboxNotification_ValidationToken(t *testing.T) {
	h, scheduler, _ := newWebhookHandler("")
	req := httptest.NewRequest(http.MethodGet, "/webhooks/mailbox?validationToken=abc123", nil)
	w := httptest.NewRecorder()
	mailboxRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", w.Body.String())
	assert.Empty(t, scheduler.calls)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	ts := strconv.FormatInt(webhookNow.Unix(), 10)
	sig := Sign("k", ts, body)

	assert.NoError(t, VerifySignature("k", ts, sig, body, webhookNow, time.Minute))
	assert.NoError(t, VerifySignature("k", ts, "v0="+sig, body, webhookNow, time.Minute))
	assert.ErrorIs(t, VerifySignature("k", ts, sig, []byte(`{"a":2}`), webhookNow, time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", ts, sig, body, webhookNow, time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("k", ts, sig, body, webhookNow.Add(2*time.Minute), time.Minute), ErrStaleTimestamp)
	assert.ErrorIs(t, VerifySignature("k", "", sig, body, webhookNow, time.Minute), ErrMissingSignature)
	assert.Error(t, VerifySignature("", ts, sig, body, webhookNow, time.Minute))
}

func postUserEvent(t *testing.T, r *gin.Engine, secret, body string) *httptest.ResponseRecorder {
	wh, err := svix.NewWebhook(secret)
	require.NoError(t, err)

	now := time.Now()
	signature, err := wh.Sign("msg_1", now, []byte(body))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/users", bytes.NewBufferString(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserEvent(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("user-webhook-test-secret"))
	h, _, users := newWebhookHandler(secret)
	r := mailboxRouter(h)

	created := `{"type":"user.created","data":{"id":"user_1","first_name":"Ann","email_addresses":[{"id":"e1","email_address":"ann@acme.com"}],"primary_email_address_id":"e1"}}`
	w := postUserEvent(t, r, secret, created)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, users.upserted, 1)
	assert.Equal(t, "user_1", users.upserted[0].ID)
	assert.Equal(t, "ann@acme.com", users.upserted[0].EmailAddress)
	assert.Equal(t, "Ann", *users.upserted[0].FirstName)

	w = postUserEvent(t, r, secret, `{"type":"user.updated","data":{"id":"user_2"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultUserEmail, users.upserted[1].EmailAddress)

	w = postUserEvent(t, r, secret, `{"type":"user.deleted","data":{"id":"user_1","deleted":true}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"user_1"}, users.deleted)
}

func TestUserEvent_BadSignature(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("user-webhook-test-secret"))
	other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("somebody-else"))
	h, _, users := newWebhookHandler(secret)

	w := postUserEvent(t, mailboxRouter(h), other, `{"type":"user.created","data":{"id":"user_1"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, users.upserted)
}

func TestUserEvent_NotConfigured(t *testing.T) {
	h, _, _ := newWebhookHandler("")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/users", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	mailboxRouter(h).ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
