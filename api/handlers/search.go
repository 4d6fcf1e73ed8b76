package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type SearchHandler struct {
	accounts AccountService
	index    Searcher
}

func NewSearchHandler(accounts AccountService, index Searcher) *SearchHandler {
	return &SearchHandler{accounts: accounts, index: index}
}

// Search runs a keyword query against one of the caller's accounts.
func (h *SearchHandler) Search() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SearchHandler.Search")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req dto.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
			respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		tracing.TagAccount(span, req.AccountID)

		if _, err := h.accounts.Owned(ctx, utils.GetUserIdFromContext(ctx), req.AccountID); err != nil {
			respondServiceError(c, span, err)
			return
		}

		hits, err := h.index.Search(ctx, req.AccountID, req.Query)
		if err != nil {
			respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
			return
		}
		if hits == nil {
			hits = []dto.SearchHit{}
		}
		c.JSON(http.StatusOK, hits)
	}
}
