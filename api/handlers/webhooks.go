package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	HeaderSignature      = "X-Aurinko-Signature"
	HeaderTimestamp      = "X-Aurinko-Request-Timestamp"
	HeaderDeliveryID     = "X-Mailsync-Delivery-Id"
	maxWebhookBody       = 1 << 20
	defaultUserEmail     = "no-email@example.com"
	userEventCreated     = "user.created"
	userEventUpdated     = "user.updated"
	userEventDeleted     = "user.deleted"
	validationTokenParam = "validationToken"
)

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("timestamp outside the allowed window")
)

type WebhookHandler struct {
	cfg       config.WebhookConfig
	accounts  interfaces.AccountRepository
	users     interfaces.UserRepository
	scheduler interfaces.SyncScheduler
	log       logger.Logger
	now       func() time.Time
}

func NewWebhookHandler(
	cfg *config.WebhookConfig,
	accounts interfaces.AccountRepository,
	users interfaces.UserRepository,
	scheduler interfaces.SyncScheduler,
	log logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:       *cfg,
		accounts:  accounts,
		users:     users,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,
	}
}

// Sign computes the hex HMAC-SHA256 of "v0:{timestamp}:{body}".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a provider notification. The timestamp is unix
// seconds and must be within maxSkew of now.
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if secret == "" {
		return errors.New("webhook signing secret not configured")
	}
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "malformed timestamp")
	}
	if maxSkew > 0 {
		skew := now.Sub(time.Unix(seconds, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return ErrStaleTimestamp
		}
	}

	expected := Sign(secret, timestamp, body)
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "v0=")
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// MailboxNotification verifies a provider push and schedules a sync for the
// accounts it references. Subscription validation requests are echoed.
func (h *WebhookHandler) MailboxNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := c.Query(validationTokenParam); token != "" {
			c.String(http.StatusOK, token)
			return
		}

		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "WebhookHandler.MailboxNotification")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		deliveryID := uuid.NewString()
		span.SetTag("delivery-id", deliveryID)
		c.Header(HeaderDeliveryID, deliveryID)

		if c.Request.Method != http.MethodPost {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, nil)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		err = VerifySignature(h.cfg.SigningSecret, c.GetHeader(HeaderTimestamp), c.GetHeader(HeaderSignature), body, h.now(), h.cfg.MaxClockSkew)
		if err != nil {
			h.log.Warnf("Rejected webhook delivery %s: %v", deliveryID, err)
			respondError(c, span, http.StatusBadRequest, CodeInvalidSignature, err)
			return
		}

		var notification dto.MailboxNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		providerAccountID := string(notification.ProviderAccountID)
		if providerAccountID == "" {
			providerAccountID = string(notification.AccountID)
		}
		if providerAccountID == "" {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, errors.New("notification without account"))
			return
		}

		account, err := h.accounts.GetByProviderAccountID(ctx, providerAccountID)
		if err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}
		if account == nil {
			// acknowledged so the provider stops retrying
			h.log.Infof("Webhook delivery %s for unknown provider account %s", deliveryID, providerAccountID)
			c.JSON(http.StatusOK, gin.H{"ok": true, "scheduled": false})
			return
		}
		tracing.TagAccount(span, account.ID)

		if err := h.scheduler.ScheduleSync(context.WithoutCancel(ctx), account.ID, false, "webhook"); err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}
		h.log.Infof("Webhook delivery %s scheduled sync of account %s", deliveryID, account.ID)
		c.JSON(http.StatusOK, gin.H{"ok": true, "scheduled": true})
	}
}

// UserEvent keeps the user table in step with the identity provider.
func (h *WebhookHandler) UserEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "WebhookHandler.UserEvent")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if h.cfg.UserWebhookSecret == "" {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, errors.New("user webhook secret not configured"))
			return
		}
		wh, err := svix.NewWebhook(h.cfg.UserWebhookSecret)
		if err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		if err := wh.Verify(body, c.Request.Header); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidSignature, err)
			return
		}

		var event dto.UserWebhookEvent
		if err := json.Unmarshal(body, &event); err != nil || event.Data.ID == "" {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		tracing.TagEntity(span, event.Data.ID)
		span.SetTag("event-type", event.Type)

		switch event.Type {
		case userEventCreated, userEventUpdated:
			email := event.Data.PrimaryEmail()
			if email == "" {
				email = defaultUserEmail
			}
			err = h.users.Upsert(ctx, &models.User{
				ID:           event.Data.ID,
				EmailAddress: email,
				FirstName:    event.Data.FirstName,
				LastName:     event.Data.LastName,
				ImageUrl:     event.Data.ImageUrl,
			})
		case userEventDeleted:
			err = h.users.Delete(ctx, event.Data.ID)
		default:
			h.log.Debugf("Ignoring user event %s", event.Type)
		}
		if err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
