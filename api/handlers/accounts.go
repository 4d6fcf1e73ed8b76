package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type AccountsHandler struct {
	accounts AccountService
}

func NewAccountsHandler(accounts AccountService) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

func (h *AccountsHandler) Service() AccountService {
	return h.accounts
}

// Link creates or relinks an account. Called by the OAuth callback with the
// internal API key.
func (h *AccountsHandler) Link() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Link")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.LinkAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		account, err := h.accounts.Link(ctx, req)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

func (h *AccountsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.List")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accounts, err := h.accounts.List(ctx, utils.GetUserIdFromContext(ctx))
		if err != nil {
			respondServiceError(c, span, err)
			return
		}

		out := make([]gin.H, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, gin.H{
				"id":           a.ID,
				"provider":     a.Provider,
				"emailAddress": a.EmailAddress,
				"name":         a.Name,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *AccountsHandler) Threads() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Threads")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		tab, ok := parseTab(c)
		if !ok {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, errors.New("invalid tab"))
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))

		list, err := h.accounts.Threads(ctx, utils.GetUserIdFromContext(ctx), c.Param("id"), tab, limit, offset)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func (h *AccountsHandler) CountThreads() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.CountThreads")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		tab, ok := parseTab(c)
		if !ok {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, errors.New("invalid tab"))
			return
		}

		count, err := h.accounts.CountThreads(ctx, utils.GetUserIdFromContext(ctx), c.Param("id"), tab)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

func (h *AccountsHandler) Message() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Message")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagEntity(span, c.Param("messageId"))

		message, err := h.accounts.Message(ctx, utils.GetUserIdFromContext(ctx), c.Param("id"), c.Param("messageId"))
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		if message == nil {
			respondError(c, span, http.StatusNotFound, CodeNotFound, nil)
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// parseTab defaults to the inbox when no tab is given.
func parseTab(c *gin.Context) (enum.ThreadTab, bool) {
	raw := c.Query("tab")
	if raw == "" {
		return enum.TabInbox, true
	}
	return enum.ParseThreadTab(raw)
}
