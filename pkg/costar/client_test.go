package costar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/resilience"
)

type posterFunc func(ctx context.Context, url string, body []byte) (*browser.Response, error)

func (f posterFunc) Post(ctx context.Context, url string, body []byte) (*browser.Response, error) {
	return f(ctx, url, body)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestClient(p Poster, opts ...Option) *Client {
	base := []Option{WithMinInterval(0), WithRetry(fastRetry()), WithPageDelay(0)}
	return NewClient(p, append(base, opts...)...)
}

func TestGraphQL_Success(t *testing.T) {
	t.Parallel()

	var gotURL string
	var gotBody graphQLRequest
	p := posterFunc(func(_ context.Context, url string, body []byte) (*browser.Response, error) {
		gotURL = url
		require.NoError(t, json.Unmarshal(body, &gotBody))
		return &browser.Response{Status: 200, Body: `{"data":{"ok":true}}`}, nil
	})

	c := newTestClient(p, WithGraphQLURL("https://example.test/graphql"))
	data, err := c.GraphQL(context.Background(), "query Q { ok }", nil, "Q")

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, "https://example.test/graphql", gotURL)
	assert.Equal(t, "query Q { ok }", gotBody.Query)
	assert.Equal(t, "Q", gotBody.OperationName)
	assert.NotNil(t, gotBody.Variables)
	assert.Equal(t, int64(1), c.Meter().Count(cost.OpGraphQL))
}

func TestGraphQL_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("failed to fetch")
		}
		return &browser.Response{Status: 200, Body: `{"data":{"n":1}}`}, nil
	})

	c := newTestClient(p)
	data, err := c.GraphQL(context.Background(), "q", map[string]any{"a": 1}, "")

	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), c.Meter().Count(cost.OpGraphQL))
}

func TestGraphQL_RetriesRequestTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(ctx context.Context, url string, _ []byte) (*browser.Response, error) {
		if calls.Add(1) < 3 {
			reqCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
			defer cancel()
			<-reqCtx.Done()
			return nil, eris.Wrapf(reqCtx.Err(), "browser: post %s", url)
		}
		return &browser.Response{Status: 200, Body: `{"data":{"n":2}}`}, nil
	})

	c := newTestClient(p)
	data, err := c.GraphQL(context.Background(), "q", nil, "")

	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGraphQL_RequestTimeoutsOpenBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(ctx context.Context, url string, _ []byte) (*browser.Response, error) {
		calls.Add(1)
		reqCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-reqCtx.Done()
		return nil, resilience.NewTransientError(eris.Wrapf(reqCtx.Err(), "browser: post %s", url), 0)
	})

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	c := newTestClient(p, WithCircuitBreaker(cb))
	_, err := c.GraphQL(context.Background(), "q", nil, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, resilience.CircuitOpen, cb.State())
}

func TestGraphQL_ExhaustionReturnsAPIError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		calls.Add(1)
		return &browser.Response{Status: 503, Body: "unavailable"}, nil
	})

	c := newTestClient(p)
	_, err := c.GraphQL(context.Background(), "q", nil, "")

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Equal(t, cost.OpGraphQL, apiErr.Op)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGraphQL_ErrorsFieldIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		calls.Add(1)
		return &browser.Response{Status: 200, Body: `{"errors":[{"message":"boom"}]}`}, nil
	})

	c := newTestClient(p)
	_, err := c.GraphQL(context.Background(), "q", nil, "")

	var gqlErrs GraphQLErrors
	require.ErrorAs(t, err, &gqlErrs)
	assert.Equal(t, "boom", gqlErrs[0].Message)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGraphQL_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		calls.Add(1)
		return nil, resilience.Permanent(errors.New("session expired"))
	})

	c := newTestClient(p)
	_, err := c.GraphQL(context.Background(), "q", nil, "")

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGraphQL_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		cancel()
		return nil, errors.New("failed to fetch")
	})

	c := newTestClient(p)
	_, err := c.GraphQL(ctx, "q", nil, "")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGraphQL_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		calls.Add(1)
		return nil, errors.New("failed to fetch")
	})

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	c := newTestClient(p, WithCircuitBreaker(cb))

	_, err := c.GraphQL(context.Background(), "q", nil, "")
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	before := calls.Load()
	_, err = c.GraphQL(context.Background(), "q", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

func TestClient_MinIntervalBetweenCalls(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var starts, ends []time.Time
	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return &browser.Response{Status: 200, Body: `{"data":{}}`}, nil
	})

	interval := 40 * time.Millisecond
	c := NewClient(p, WithMinInterval(interval), WithRetry(fastRetry()))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GraphQL(context.Background(), "q", nil, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), interval-2*time.Millisecond)
	}
}

func TestClient_RateLimitSlowsAdaptiveCeiling(t *testing.T) {
	t.Parallel()

	p := posterFunc(func(context.Context, string, []byte) (*browser.Response, error) {
		return &browser.Response{Status: 429, Body: "slow down"}, nil
	})

	c := newTestClient(p, WithMaxRPS(100), WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	before := c.pacer.limiter.Rate()

	_, err := c.GraphQL(context.Background(), "q", nil, "")
	require.Error(t, err)
	assert.Less(t, float64(c.pacer.limiter.Rate()), float64(before))
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	t.Parallel()

	a := NewAdaptiveLimiter(10, 1)
	for range 20 {
		a.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(a.Rate()), 0.001)

	for range 20 {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Rate()), 0.001)
}

func TestPacer_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	p := NewPacer(time.Hour, nil)
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ran := false
	err := p.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}
