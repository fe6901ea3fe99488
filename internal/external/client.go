// Package external provides the anti-corruption layer between WeatherDesk
// domain logic and the HTTP services it depends on: the user directory, the
// per-property prediction services and the Open-Meteo weather APIs. All
// outbound calls go through BaseClient, which applies circuit breaking,
// retries with backoff, request-ID propagation and error mapping.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"weatherdesk/internal/types"
)

// RetryPolicy bounds retries of 429 and 5xx answers. Waits grow
// exponentially from MinWait and never exceed MaxWait.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, MinWait: 500 * time.Millisecond, MaxWait: 10 * time.Second}
}

// NoRetryPolicy issues exactly one attempt per call.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// BaseClient is an *http.Client behind a circuit breaker. Each service
// client owns one, so one failing upstream cannot trip the others.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleep     func(time.Duration)
	// returnFinal hands the last 429/5xx response to the caller instead of
	// an error, so the caller can read the service's error payload.
	returnFinal bool
}

type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces time.Sleep between retries.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleep = fn }
}

// WithFinalResponse makes Do return the final 429/5xx response once retries
// are spent. Breaker and transport failures are still errors.
func WithFinalResponse() BaseClientOption {
	return func(c *BaseClient) { c.returnFinal = true }
}

// NewBaseClient builds a client with its own breaker named name. The breaker
// opens after more than five consecutive failures and probes again after 30s.
func NewBaseClient(httpClient *http.Client, name string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return NewBaseClientWithBreaker(httpClient, breaker, policy, userAgent, opts...)
}

// NewBaseClientWithBreaker uses a caller-supplied breaker.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	policy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		breaker:   breaker,
		policy:    policy,
		userAgent: userAgent,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether status is worth another attempt. Such answers
// also count as breaker failures.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// breakerRejected reports whether the breaker refused the call.
func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Do sends req with the request id as X-B3-TraceId and retries 429/5xx
// answers per the policy. Any other answer, 4xx included, is returned as is
// and the caller closes its body. Exhausted retries, an open breaker and
// transport failures become upstream AppErrors.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-B3-TraceId", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	rewind, err := replayable(req)
	if err != nil {
		return nil, err
	}

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		if err := rewind(); err != nil {
			return nil, err
		}
		resp, lastErr = c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if lastErr == nil {
			return resp, nil
		}

		last := attempt >= c.policy.MaxRetries || breakerRejected(lastErr) || req.Context().Err() != nil
		if last {
			break
		}
		wait := c.computeBackoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}
		c.sleep(wait)
	}

	if resp != nil {
		if c.returnFinal {
			return resp, nil
		}
		resp.Body.Close()
	}
	return nil, c.mapError(resp, lastErr)
}

// replayable returns a function that resets req's body before each attempt.
func replayable(req *http.Request) (func() error, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() error { return nil }, nil
	}
	if req.GetBody == nil {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil }
		req.ContentLength = int64(len(raw))
	}
	return func() error {
		body, err := req.GetBody()
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to rewind request body", err)
		}
		req.Body = body
		return nil
	}, nil
}

// computeBackoff honours Retry-After (seconds or HTTP date) and otherwise
// draws a jittered wait from [MinWait, MinWait*2^attempt], all capped at
// MaxWait.
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	capped := func(d time.Duration) time.Duration {
		return max(c.policy.MinWait, min(d, c.policy.MaxWait))
	}

	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return capped(time.Duration(secs) * time.Second)
			}
			if at, err := http.ParseTime(ra); err == nil {
				return capped(time.Until(at))
			}
		}
	}

	ceiling := min(c.policy.MinWait<<min(attempt, 30), c.policy.MaxWait)
	if ceiling <= c.policy.MinWait {
		return c.policy.MinWait
	}
	return c.policy.MinWait + rand.N(ceiling-c.policy.MinWait)
}

// mapError classifies a failed call.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream circuit is open", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
