package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Chat() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ChatHandler.Chat")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		response, err := h.chat.Chat(ctx, utils.GetUserIdFromContext(ctx), req)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func (h *ChatHandler) Credits() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ChatHandler.Credits")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		remaining, err := h.chat.RemainingCredits(ctx, utils.GetUserIdFromContext(ctx))
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"remainingCredits": remaining})
	}
}

func (h *ChatHandler) Compose() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ChatHandler.Compose")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.ComposeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		text, err := h.chat.Compose(ctx, utils.GetUserIdFromContext(ctx), req)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, dto.CompletionResponse{Text: text})
	}
}

func (h *ChatHandler) Autocomplete() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ChatHandler.Autocomplete")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.AutocompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}

		text, err := h.chat.Autocomplete(ctx, utils.GetUserIdFromContext(ctx), req)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, dto.CompletionResponse{Text: text})
	}
}
