// Package cloudcode provides Cloud Code API client implementation.
// This file implements the failover controller: one retry loop, shared by
// the buffered and streaming request paths, that picks an account, tries
// every upstream endpoint, classifies failures, and decides whether to
// retry the same account, switch accounts, or fall back to another model.
package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	relerrors "github.com/anthropics/cloudcode-relay/internal/errors"
	"github.com/anthropics/cloudcode-relay/internal/format"
	"github.com/anthropics/cloudcode-relay/internal/utils"
	"github.com/anthropics/cloudcode-relay/pkg/anthropic"
	"github.com/google/uuid"
)

// Controller runs the account-selection and retry loop shared by both
// response modes.
type Controller struct {
	accountManager *account.Manager
	httpClient     *http.Client
	cfg            *config.Config
	traces         *traceRing
}

// NewController builds a Controller bound to accountManager and cfg.
func NewController(accountManager *account.Manager, cfg *config.Config) *Controller {
	return &Controller{
		accountManager: accountManager,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		cfg:    cfg,
		traces: newTraceRing(),
	}
}

// RecentTraces returns a diagnostic snapshot of the last requests handled by
// this controller, most recent last. Never consulted for routing.
func (c *Controller) RecentTraces() []*RequestTrace {
	return c.traces.Snapshot()
}

// attempt bundles the outcome of one upstream call so Execute and
// ExecuteStream can share the decision logic around it.
type attempt struct {
	acc       *account.Account
	token     string
	projectID string
}

// pickAccount runs the selection loop: clear expired limits, ask the
// manager for the next account, and sleep out any strategy-requested wait
// without counting it as a failed attempt. Returns ok=false once the caller
// should give up (no accounts at all, or exhausted retries).
func (c *Controller) pickAccount(ctx context.Context, model string, attemptsLeft *int) (*account.Account, bool, error) {
	for {
		if *attemptsLeft <= 0 {
			return nil, false, nil
		}

		c.accountManager.ClearExpiredLimits()

		if len(c.accountManager.GetAvailableAccounts(model)) == 0 {
			if c.accountManager.IsAllRateLimited(model) {
				minWaitMs := c.accountManager.GetMinWaitTimeMs(model)
				if minWaitMs > config.MaxWaitBeforeErrorMs {
					return nil, false, relerrors.New(relerrors.KindRateLimited,
						fmt.Sprintf("all accounts rate limited on %s, next available in %s", model, utils.FormatDuration(minWaitMs))).
						WithReset(minWaitMs)
				}
				utils.Warn("[CloudCode] all accounts rate-limited for %s, waiting %s", model, utils.FormatDuration(minWaitMs))
				if err := utils.Sleep(ctx, minWaitMs+500); err != nil {
					return nil, false, err
				}
				continue
			}
			return nil, false, relerrors.New(relerrors.KindServiceUnavailable, "no accounts available")
		}

		sel := c.accountManager.SelectAccount(model)
		if sel.Account == nil {
			if sel.WaitMs > 0 {
				utils.Info("[CloudCode] waiting %s for an account to free up", utils.FormatDuration(sel.WaitMs))
				if err := utils.Sleep(ctx, sel.WaitMs+500); err != nil {
					return nil, false, err
				}
				continue
			}
			return nil, false, relerrors.New(relerrors.KindServiceUnavailable, "strategy returned no account")
		}

		if sel.WaitMs > 0 {
			utils.Debug("[CloudCode] throttling %s for %dms before use", sel.Account.Email, sel.WaitMs)
			if err := utils.Sleep(ctx, sel.WaitMs); err != nil {
				return nil, false, err
			}
		}

		*attemptsLeft--
		return sel.Account, true, nil
	}
}

func (c *Controller) authorize(ctx context.Context, a *account.Account) (attempt, error) {
	token, err := c.accountManager.GetToken(ctx, a)
	if err != nil {
		return attempt{}, relerrors.ErrorWithContext(err, "token acquisition failed")
	}
	projectID, err := c.accountManager.GetProject(ctx, a)
	if err != nil || projectID == "" {
		projectID = config.DefaultProjectID
	}
	return attempt{acc: a, token: token, projectID: projectID}, nil
}

// classify turns an upstream HTTP failure into a Kind, folding in the
// richer reason detection the leaf parsers already do for 401/429.
func classify(statusCode int, body string) relerrors.Kind {
	if statusCode == 401 && IsPermanentAuthFailure(body) {
		return relerrors.KindAuthFailed
	}
	if statusCode == 429 && IsModelCapacityExhausted(body) {
		return relerrors.KindQuotaExhausted
	}
	return relerrors.ClassifyUpstream(statusCode, body)
}

// Execute performs the buffered (non-streaming) request path, including
// account failover, endpoint fallback, and — when fallbackEnabled — a
// one-shot substitution of the configured fallback model once every
// account/endpoint combination has been exhausted.
func (c *Controller) Execute(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	model := req.Model
	isThinking := config.IsThinkingModel(model)
	maxAttempts := utils.MaxInt(config.MaxRetries, c.accountManager.GetAccountCount()+1)
	attemptsLeft := maxAttempts

	requestID := uuid.New().String()
	trace := c.traces.start(requestID, model)

	var lastErr error
	for attemptsLeft > 0 {
		a, ok, err := c.pickAccount(ctx, model, &attemptsLeft)
		if err != nil {
			lastErr = err
			break
		}
		if !ok {
			break
		}

		// Under On-Demand this flips a normally-disabled account on for the
		// lifetime of the attempt; every other strategy ignores the call.
		c.accountManager.AcquireForRequest(requestID, a)

		at, err := c.authorize(ctx, a)
		if err != nil {
			utils.Warn("[CloudCode] failed to authorize %s: %v", a.Email, err)
			lastErr = err
			c.traces.record(trace, a.Email, "auth_error", "")
			c.accountManager.ReleaseForRequest(requestID, a)
			continue
		}

		resp, kind, retryErr := c.tryAccountBuffered(ctx, at, req, isThinking)
		if retryErr == nil {
			c.accountManager.NotifySuccess(a, model)
			ClearRateLimitState(a.Email, model)
			c.traces.record(trace, a.Email, "success", "")
			c.traces.finish(trace, "success")
			c.accountManager.ReleaseForRequest(requestID, a)
			return resp, nil
		}

		if isClientError(kind) {
			// Not retryable: the caller's fault, not the account's. Surface
			// verbatim rather than burning another account/attempt on it.
			c.traces.record(trace, a.Email, "error", string(kind))
			c.traces.finish(trace, "client_error")
			c.accountManager.ReleaseForRequest(requestID, a)
			return nil, retryErr
		}

		lastErr = retryErr
		c.traces.record(trace, a.Email, "error", string(kind))
		retry := c.handleFailure(a, model, kind, retryErr)
		c.accountManager.ReleaseForRequest(requestID, a)
		if !retry {
			// handleFailure already slept for a quick-retry; don't burn an
			// attempt or move to a new account.
			attemptsLeft++
			continue
		}
	}

	if fallbackEnabled {
		if fallbackModel, ok := config.GetFallbackModel(model); ok {
			utils.Warn("[CloudCode] exhausted retries for %s, falling back to %s", model, fallbackModel)
			c.traces.finish(trace, "fallback:"+fallbackModel)
			fallbackReq := *req
			fallbackReq.Model = fallbackModel
			return c.Execute(ctx, &fallbackReq, false)
		}
	}

	if lastErr != nil {
		c.traces.finish(trace, "exhausted")
		return nil, lastErr
	}
	c.traces.finish(trace, "exhausted")
	return nil, relerrors.New(relerrors.KindServiceUnavailable, "max retries exceeded")
}

// tryAccountBuffered attempts every fallback endpoint for one account and
// returns the decoded response, or the classified Kind and error on
// failure. An empty Kind return alongside a non-nil error means the caller
// should treat it as a transport-level failure (network/timeout).
func (c *Controller) tryAccountBuffered(ctx context.Context, at attempt, req *anthropic.MessagesRequest, isThinking bool) (*anthropic.MessagesResponse, relerrors.Kind, error) {
	payload, err := BuildCloudCodeRequest(req, at.projectID)
	if err != nil {
		return nil, relerrors.KindInvalidRequest, err
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, relerrors.KindInvalidRequest, err
	}

	capacityRetries := 0
	for _, endpoint := range config.EndpointFallbacks {
		var url, accept string
		if isThinking {
			url = endpoint + "/v1internal:streamGenerateContent?alt=sse"
			accept = "text/event-stream"
		} else {
			url = endpoint + "/v1internal:generateContent"
			accept = "application/json"
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, "", err
		}
		for k, v := range BuildHeaders(at.token, req.Model, accept) {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if utils.IsNetworkError(err) {
				utils.Warn("[CloudCode] network error at %s: %v", endpoint, err)
				continue
			}
			return nil, "", err
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errorText := string(body)
			kind := classify(resp.StatusCode, errorText)

			if resp.StatusCode == 429 && IsModelCapacityExhausted(errorText) && capacityRetries < config.MaxCapacityRetries {
				tier := utils.MinInt(capacityRetries, len(config.CapacityBackoffTiersMs)-1)
				waitMs := ParseResetTime(resp.Header, errorText)
				if waitMs <= 0 {
					waitMs = config.CapacityBackoffTiersMs[tier]
				}
				capacityRetries++
				utils.Info("[CloudCode] model capacity exhausted, retry %d/%d after %s",
					capacityRetries, config.MaxCapacityRetries, utils.FormatDuration(waitMs))
				utils.SleepMs(waitMs)
				continue
			}
			if resp.StatusCode == 503 || resp.StatusCode == 529 {
				if IsModelCapacityExhausted(errorText) && capacityRetries < config.MaxCapacityRetries {
					tier := utils.MinInt(capacityRetries, len(config.CapacityBackoffTiersMs)-1)
					capacityRetries++
					utils.SleepMs(config.CapacityBackoffTiersMs[tier])
					continue
				}
			}

			re := relerrors.New(kind, errorText).WithAccount(at.acc.Email)
			if kind == relerrors.KindRateLimited || kind == relerrors.KindQuotaExhausted {
				resetMs := ParseResetTime(resp.Header, errorText)
				re = re.WithReset(resetMs)
			}
			return nil, kind, re
		}

		defer resp.Body.Close()
		if isThinking {
			result, err := ParseThinkingSSEResponse(resp.Body, req.Model)
			if err != nil {
				if IsEmptyResponseError(err) {
					return nil, relerrors.KindEmptyResponse, err
				}
				return nil, "", err
			}
			return result, "", nil
		}

		var data map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return nil, "", err
		}
		googleResp := format.GoogleResponseFromMap(data)
		return format.ConvertGoogleToAnthropic(googleResp, req.Model), "", nil
	}

	return nil, relerrors.KindNetworkError, relerrors.New(relerrors.KindNetworkError, "all endpoints failed")
}

// isClientError reports whether kind is the requester's fault (bad
// schema, disallowed operation, unsupported endpoint) rather than an
// account or upstream problem, per spec §4.3 step 9 / §7: these are
// surfaced to the caller verbatim and never retried on another account.
func isClientError(kind relerrors.Kind) bool {
	switch kind {
	case relerrors.KindInvalidRequest, relerrors.KindPermissionDenied, relerrors.KindNotImplemented:
		return true
	default:
		return false
	}
}

// handleFailure records the classified failure against the account and
// decides the retry shape. It returns true when the caller should move on
// to a fresh account/attempt, false when it already slept for a quick
// same-account retry that shouldn't consume an attempt slot.
func (c *Controller) handleFailure(a *account.Account, model string, kind relerrors.Kind, err error) bool {
	re, _ := relerrors.AsRelayError(err)

	switch kind {
	case relerrors.KindAuthFailed:
		utils.Error("[CloudCode] permanent auth failure for %s", a.Email)
		c.accountManager.MarkInvalid(a.Email, "token revoked or invalid, re-authentication required")
		return true

	case relerrors.KindValidationRequired:
		verifyURL := ""
		if re != nil {
			verifyURL = re.VerifyURL
		}
		c.accountManager.MarkValidationRequired(a.Email, "account requires re-verification", verifyURL)
		return true

	case relerrors.KindRateLimited, relerrors.KindQuotaExhausted:
		var resetMs int64
		errorText := err.Error()
		if re != nil && re.ResetMs != nil {
			resetMs = *re.ResetMs
		}
		backoff := GetRateLimitBackoff(a.Email, model, resetMs)

		if resetMs > 0 && resetMs < 1000 {
			utils.Info("[CloudCode] short rate limit on %s (%dms), retrying same account", a.Email, resetMs)
			utils.SleepMs(resetMs)
			return false
		}

		smartMs := CalculateSmartBackoff(errorText, resetMs, backoff.Attempt-1)
		if backoff.IsDuplicate {
			c.accountManager.NotifyRateLimit(a, model, smartMs, errorText)
			utils.Info("[CloudCode] recent rate limit on %s (attempt %d), switching account", a.Email, backoff.Attempt)
			return true
		}
		if backoff.Attempt == 1 && smartMs <= c.cfg.DefaultCooldownMs {
			c.accountManager.NotifyRateLimit(a, model, backoff.DelayMs, errorText)
			utils.Info("[CloudCode] first rate limit on %s, quick retry after %s", a.Email, utils.FormatDuration(backoff.DelayMs))
			utils.SleepMs(backoff.DelayMs)
			return false
		}
		c.accountManager.NotifyRateLimit(a, model, smartMs, errorText)
		utils.Info("[CloudCode] quota exhausted for %s (%s), switching account", a.Email, utils.FormatDuration(smartMs))
		utils.SleepMs(config.SwitchAccountDelayMs)
		return true

	case relerrors.KindEmptyResponse:
		c.accountManager.NotifyFailure(a, model, "server")
		return true

	case relerrors.KindServerError, relerrors.KindServiceUnavailable:
		c.accountManager.NotifyFailure(a, model, "server")
		utils.Warn("[CloudCode] %s failed on %s, trying next account", kind, a.Email)
		utils.SleepMs(1000)
		return true

	default:
		c.accountManager.NotifyFailure(a, model, "network")
		utils.Warn("[CloudCode] network/timeout error for %s, trying next account: %v", a.Email, err)
		utils.SleepMs(1000)
		return true
	}
}

// ExecuteStream runs the streaming request path. Once an upstream attempt
// has answered 200 and its body is being streamed, any later failure
// (including a stream that yields no content) is surfaced to the caller as
// an error on the event channel rather than retried — switching accounts
// after content may have been forwarded would produce a corrupt transcript.
func (c *Controller) ExecuteStream(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (<-chan *SSEEvent, <-chan error) {
	events := make(chan *SSEEvent, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		model := req.Model
		maxAttempts := utils.MaxInt(config.MaxRetries, c.accountManager.GetAccountCount()+1)
		attemptsLeft := maxAttempts

		requestID := uuid.New().String()
		trace := c.traces.start(requestID, model)

		var lastErr error
		for attemptsLeft > 0 {
			a, ok, err := c.pickAccount(ctx, model, &attemptsLeft)
			if err != nil {
				lastErr = err
				break
			}
			if !ok {
				break
			}

			c.accountManager.AcquireForRequest(requestID, a)

			at, err := c.authorize(ctx, a)
			if err != nil {
				utils.Warn("[CloudCode] failed to authorize %s: %v", a.Email, err)
				lastErr = err
				c.traces.record(trace, a.Email, "auth_error", "")
				c.accountManager.ReleaseForRequest(requestID, a)
				continue
			}

			started, body, upstreamEvents, upstreamErrs, kind, err := c.tryAccountStream(ctx, at, req)
			if !started {
				if isClientError(kind) {
					c.traces.record(trace, a.Email, "error", string(kind))
					c.traces.finish(trace, "client_error")
					c.accountManager.ReleaseForRequest(requestID, a)
					errs <- err
					return
				}
				lastErr = err
				c.traces.record(trace, a.Email, "error", string(kind))
				if !c.handleFailure(a, model, kind, err) {
					attemptsLeft++
				}
				c.accountManager.ReleaseForRequest(requestID, a)
				continue
			}

			// First byte made it through: relay everything and never retry.
			c.accountManager.NotifySuccess(a, model)
			ClearRateLimitState(a.Email, model)
			c.traces.record(trace, a.Email, "success", "")
			for ev := range upstreamEvents {
				events <- ev
			}
			streamErr := <-upstreamErrs
			body.Close()
			c.accountManager.ReleaseForRequest(requestID, a)
			if streamErr != nil {
				c.traces.finish(trace, "mid_stream_error")
				errs <- streamErr
			} else {
				c.traces.finish(trace, "success")
			}
			return
		}

		if fallbackEnabled {
			if fallbackModel, ok := config.GetFallbackModel(model); ok {
				utils.Warn("[CloudCode] exhausted retries for %s, falling back to %s", model, fallbackModel)
				c.traces.finish(trace, "fallback:"+fallbackModel)
				fallbackReq := *req
				fallbackReq.Model = fallbackModel
				fbEvents, fbErrs := c.ExecuteStream(ctx, &fallbackReq, false)
				for ev := range fbEvents {
					events <- ev
				}
				if err := <-fbErrs; err != nil {
					errs <- err
				}
				return
			}
		}

		if lastErr != nil {
			c.traces.finish(trace, "exhausted")
			errs <- lastErr
			return
		}
		c.traces.finish(trace, "exhausted")
		errs <- relerrors.New(relerrors.KindServiceUnavailable, "max retries exceeded")
	}()

	return events, errs
}

// tryAccountStream attempts every fallback endpoint for one account. It
// returns started=true as soon as an endpoint answers 200 and
// StreamSSEResponseWithMode has been started on its body, before any event
// is parsed — from that point the caller must relay rather than retry.
func (c *Controller) tryAccountStream(ctx context.Context, at attempt, req *anthropic.MessagesRequest) (bool, io.Closer, <-chan *SSEEvent, <-chan error, relerrors.Kind, error) {
	payload, err := BuildCloudCodeRequest(req, at.projectID)
	if err != nil {
		return false, nil, nil, nil, relerrors.KindInvalidRequest, err
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return false, nil, nil, nil, relerrors.KindInvalidRequest, err
	}

	capacityRetries := 0
	for _, endpoint := range config.EndpointFallbacks {
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
		if err != nil {
			return false, nil, nil, nil, "", err
		}
		for k, v := range BuildHeaders(at.token, req.Model, "text/event-stream") {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if utils.IsNetworkError(err) {
				utils.Warn("[CloudCode] network error at %s: %v", endpoint, err)
				continue
			}
			return false, nil, nil, nil, "", err
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errorText := string(body)
			kind := classify(resp.StatusCode, errorText)

			if resp.StatusCode == 429 && IsModelCapacityExhausted(errorText) && capacityRetries < config.MaxCapacityRetries {
				tier := utils.MinInt(capacityRetries, len(config.CapacityBackoffTiersMs)-1)
				waitMs := ParseResetTime(resp.Header, errorText)
				if waitMs <= 0 {
					waitMs = config.CapacityBackoffTiersMs[tier]
				}
				capacityRetries++
				utils.SleepMs(waitMs)
				continue
			}

			re := relerrors.New(kind, errorText).WithAccount(at.acc.Email)
			if kind == relerrors.KindRateLimited || kind == relerrors.KindQuotaExhausted {
				re = re.WithReset(ParseResetTime(resp.Header, errorText))
			}
			return false, nil, nil, nil, kind, re
		}

		upstreamEvents, upstreamErrs := StreamSSEResponseWithMode(resp.Body, req.Model, InlineThinkingMode(c.cfg.InlineThinkingMode))
		return true, resp.Body, upstreamEvents, upstreamErrs, "", nil
	}

	return false, nil, nil, nil, relerrors.KindNetworkError, relerrors.New(relerrors.KindNetworkError, "all endpoints failed")
}
