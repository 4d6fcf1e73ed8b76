package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/internal/tracing"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the sync status of every linked account
func Status(accounts AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Status")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		statuses, err := accounts.Statuses(ctx)
		if err != nil {
			respondServiceError(c, span, err)
			return
		}

		summary := map[string]int{}
		for _, s := range statuses {
			summary[string(s.Status)]++
		}
		c.JSON(http.StatusOK, gin.H{
			"accounts": statuses,
			"summary":  summary,
		})
	}
}
