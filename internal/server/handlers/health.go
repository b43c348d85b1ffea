// Package handlers provides HTTP request handlers for the server.
// This file handles health check endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/cloudcode"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	accountManager *account.Manager
	client         *cloudcode.Client
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(accountManager *account.Manager, client *cloudcode.Client) *HealthHandler {
	return &HealthHandler{
		accountManager: accountManager,
		client:         client,
	}
}

// Health handles GET /health - returns the account pool summary plus a
// per-account, per-model quota/rate-limit view, using only in-memory state
// (no live upstream calls).
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()

	now := time.Now()
	allAccounts := h.accountManager.GetAllAccounts()

	type accountDetail struct {
		Email           string                 `json:"email"`
		Status          string                 `json:"status"`
		Error           string                 `json:"error,omitempty"`
		LastUsed        string                 `json:"lastUsed,omitempty"`
		Subscription    string                 `json:"subscription,omitempty"`
		ModelRateLimits map[string]interface{} `json:"modelRateLimits,omitempty"`
		Models          map[string]interface{} `json:"models,omitempty"`
	}

	detailedAccounts := make([]accountDetail, 0, len(allAccounts))
	total, available, rateLimited, invalid := 0, 0, 0, 0

	for _, acc := range allAccounts {
		total++
		detail := accountDetail{
			Email:           acc.Email,
			ModelRateLimits: make(map[string]interface{}),
			Models:          make(map[string]interface{}),
			Subscription:    acc.Subscription.Tier,
		}
		if !acc.LastUsed.IsZero() {
			detail.LastUsed = acc.LastUsed.Format(time.RFC3339)
		}

		if acc.IsInvalid {
			invalid++
			detail.Status = "invalid"
			detail.Error = acc.InvalidReason
			detailedAccounts = append(detailedAccounts, detail)
			continue
		}

		isRateLimited := false
		for modelID, limit := range acc.ModelRateLimits {
			if limit == nil {
				continue
			}
			limited := limit.IsRateLimited && limit.ResetTime.After(now)
			if limited {
				isRateLimited = true
			}
			detail.ModelRateLimits[modelID] = map[string]interface{}{
				"isRateLimited":     limited,
				"resetTime":         limit.ResetTime,
				"cooldownRemaining": acc.CooldownRemaining(modelID, now).Milliseconds(),
			}
		}

		for modelID, q := range acc.Quota.Models {
			remaining := "N/A"
			var fraction float64
			if q.RemainingFraction != nil {
				fraction = *q.RemainingFraction
				remaining = utils.FormatPercent(fraction)
			}
			detail.Models[modelID] = map[string]interface{}{
				"remaining":         remaining,
				"remainingFraction": fraction,
				"resetTime":         q.ResetTime,
			}
		}

		if isRateLimited {
			rateLimited++
			detail.Status = "rate-limited"
		} else {
			available++
			detail.Status = "ok"
		}

		detailedAccounts = append(detailedAccounts, detail)
	}

	var recentRequests []*cloudcode.RequestTrace
	if h.client != nil {
		recentRequests = h.client.RecentTraces()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"counts": gin.H{
			"total":       total,
			"available":   available,
			"rateLimited": rateLimited,
			"invalid":     invalid,
		},
		"accounts":       detailedAccounts,
		"recentRequests": recentRequests,
	})
}
