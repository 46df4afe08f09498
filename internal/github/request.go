package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	retryReasonRateLimit = "rate_limit"
	retryReasonTransient = "transient"
	retryReasonNetwork   = "network"
)

// Request performs an authenticated API call with bounded retry and returns the
// raw response body. A successful response with an empty body yields a nil
// result and a nil error.
//
// Retry policy, attempt index starting at 0:
//   - 403 mentioning a rate limit: sleep RateLimitBackoff*(attempt+1), retry.
//   - 403 otherwise: ErrForbidden, no retry.
//   - 429/502/503/504: sleep TransientBackoff*(attempt+1), retry.
//   - transport failure: sleep NetworkBackoff, retry.
//   - any other non-2xx: ErrRequestFailed, no retry.
//
// maxAttempts <= 0 uses the client's RetryPolicy.MaxAttempts.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, maxAttempts int) (json.RawMessage, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.retry.MaxAttempts
	}
	endpoint = strings.TrimPrefix(endpoint, "/")

	var last *RequestError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := c.Client.NewRequest(method, endpoint, body)
		if err != nil {
			return nil, &RequestError{Kind: ErrRequestFailed, Method: method, Endpoint: endpoint, Err: err}
		}
		req = req.WithContext(ctx)

		var (
			reason string
			delay  time.Duration
		)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = &RequestError{Kind: ErrRequestFailed, Method: method, Endpoint: endpoint, Err: err}
			reason, delay = retryReasonNetwork, c.retry.NetworkBackoff
		} else {
			payload, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			c.budget.UpdateFromResponse(resp)

			switch {
			case readErr != nil:
				last = &RequestError{Kind: ErrRequestFailed, Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Err: readErr}
				reason, delay = retryReasonNetwork, c.retry.NetworkBackoff
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if len(bytes.TrimSpace(payload)) == 0 {
					return nil, nil
				}
				return payload, nil
			case resp.StatusCode == http.StatusForbidden && isRateLimitBody(payload):
				last = &RequestError{Kind: ErrRateLimited, Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(payload)}
				reason, delay = retryReasonRateLimit, c.retry.RateLimitBackoff*time.Duration(attempt+1)
			case resp.StatusCode == http.StatusForbidden:
				return nil, &RequestError{Kind: ErrForbidden, Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(payload), Attempts: attempt + 1}
			case isTransientStatus(resp.StatusCode):
				kind := ErrRequestFailed
				if resp.StatusCode == http.StatusTooManyRequests {
					kind = ErrRateLimited
				}
				last = &RequestError{Kind: kind, Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(payload)}
				reason, delay = retryReasonTransient, c.retry.TransientBackoff*time.Duration(attempt+1)
			default:
				return nil, &RequestError{Kind: ErrRequestFailed, Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(payload), Attempts: attempt + 1}
			}
		}

		last.Attempts = attempt + 1
		if attempt+1 >= maxAttempts {
			break
		}

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("endpoint", scrubEndpoint(endpoint)),
			zap.String("reason", reason),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(last),
		}
		if hint := c.budget.RetryAfter(); hint > 0 {
			fields = append(fields, zap.Duration("server_retry_after", hint))
		}
		c.logger.Warn("github api request will be retried", fields...)
		if c.observer != nil {
			c.observer.ObserveRetry(reason)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, last
}

// RequestJSON performs Request and decodes a non-empty body into T.
func RequestJSON[T any](ctx context.Context, c *Client, method, endpoint string, body any, maxAttempts int) (T, error) {
	var out T
	raw, err := c.Request(ctx, method, endpoint, body, maxAttempts)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", method, scrubEndpoint(endpoint), err)
	}
	return out, nil
}

func isRateLimitBody(body []byte) bool {
	return bytes.Contains(bytes.ToLower(body), []byte("rate limit"))
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
