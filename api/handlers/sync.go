package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

type SyncHandler struct {
	accounts interfaces.AccountRepository
	engine   interfaces.SyncEngine
	log      logger.Logger
}

func NewSyncHandler(accounts interfaces.AccountRepository, engine interfaces.SyncEngine, log logger.Logger) *SyncHandler {
	return &SyncHandler{accounts: accounts, engine: engine, log: log}
}

// Trigger syncs the user's most recently linked account and reports the
// resulting delta token.
func (h *SyncHandler) Trigger() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SyncHandler.Trigger")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			if err == nil {
				err = errors.New("missing userId")
			}
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		span.SetTag("user-id", req.UserID)

		account, err := h.accounts.GetLatestForUser(ctx, req.UserID)
		if err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}
		if account == nil {
			respondError(c, span, http.StatusNotFound, CodeAccountNotFound, nil)
			return
		}
		tracing.TagAccount(span, account.ID)

		var result *dto.SyncResult
		if req.FullResync {
			result, err = h.engine.Resync(ctx, account.ID)
		} else {
			result, err = h.engine.Sync(ctx, account.ID)
		}
		if err != nil {
			h.log.Errorf("Sync of account %s failed: %v", account.ID, err)
			switch {
			case errors.Is(err, mailsync_errors.ErrAccountNotFound):
				respondError(c, span, http.StatusNotFound, CodeAccountNotFound, err)
			case mailsync_errors.IsAuth(err), mailsync_errors.IsDegraded(err),
				mailsync_errors.IsCursorExpired(err), mailsync_errors.IsTransient(err):
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: CodeFailedToSync})
			default:
				respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			}
			return
		}

		c.JSON(http.StatusOK, dto.SyncResponse{
			Success:    true,
			DeltaToken: result.DeltaToken,
			AccountID:  account.ID,
		})
	}
}
