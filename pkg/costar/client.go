// Package costar provides a rate-limited client for the CoStar GraphQL and
// property search endpoints, issued through an authenticated browser
// session.
package costar

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
)

const (
	defaultGraphQLURL  = "https://product.costar.com/graphql"
	defaultSearchURL   = "https://product.costar.com/bff2/property/search/list-properties"
	defaultMinInterval = 200 * time.Millisecond
	defaultPageSize    = 2000
	defaultMaxPages    = 10
	defaultPageDelay   = 500 * time.Millisecond
)

// Poster sends a JSON body to a URL through an authenticated session.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) (*browser.Response, error)
}

// Option configures the Client.
type Option func(*Client)

// WithGraphQLURL sets a custom GraphQL endpoint.
func WithGraphQLURL(url string) Option {
	return func(c *Client) { c.graphqlURL = url }
}

// WithSearchURL sets a custom search endpoint.
func WithSearchURL(url string) Option {
	return func(c *Client) { c.searchURL = url }
}

// WithMinInterval sets the minimum gap between requests. Default 200ms.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithMaxRPS adds an adaptive requests-per-second ceiling in front of the
// interval gate. Zero disables it.
func WithMaxRPS(rps float64) Option {
	return func(c *Client) { c.maxRPS = rps }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCircuitBreaker fails calls fast once the breaker opens.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithPageSize sets the result count that marks a full search page.
// Default 2000.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithPageIndexKey sets the payload key the page number is written to.
// Default "2".
func WithPageIndexKey(key string) Option {
	return func(c *Client) { c.pageIndexKey = key }
}

// WithPageDelay sets the pause between search pages. Default 500ms.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithMeter counts calls per operation on m.
func WithMeter(m *cost.Meter) Option {
	return func(c *Client) { c.meter = m }
}

// Client issues paced, retried requests. Safe for concurrent use; requests
// are serialized by the pacing gate.
type Client struct {
	poster       Poster
	graphqlURL   string
	searchURL    string
	minInterval  time.Duration
	maxRPS       float64
	retry        resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
	pageSize     int
	pageIndexKey string
	pageDelay    time.Duration
	meter        *cost.Meter
	pacer        *Pacer
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client that sends requests through poster.
func NewClient(poster Poster, opts ...Option) *Client {
	c := &Client{
		poster:       poster,
		graphqlURL:   defaultGraphQLURL,
		searchURL:    defaultSearchURL,
		minInterval:  defaultMinInterval,
		retry:        resilience.DefaultRetryConfig(),
		pageSize:     defaultPageSize,
		pageIndexKey: model.DefaultPageIndexKey,
		pageDelay:    defaultPageDelay,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = cost.NewMeter()
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}

	var limiter *AdaptiveLimiter
	if c.maxRPS > 0 {
		limiter = NewAdaptiveLimiter(rate.Limit(c.maxRPS), 1)
	}
	c.pacer = NewPacer(c.minInterval, limiter)
	return c
}

// Meter returns the call meter.
func (c *Client) Meter() *cost.Meter {
	return c.meter
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// GraphQL executes a query and returns its data field. Transport failures,
// non-2xx responses, undecodable bodies and GraphQL errors are retried;
// session errors are not. Exhaustion yields an *APIError.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any, operationName string) (json.RawMessage, error) {
	return c.graphQL(ctx, cost.OpGraphQL, query, variables, operationName)
}

func (c *Client) graphQL(ctx context.Context, op, query string, variables map[string]any, operationName string) (json.RawMessage, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables, OperationName: operationName})
	if err != nil {
		return nil, eris.Wrap(err, "costar: encode graphql request")
	}

	return withRetry(ctx, c, op, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.post(ctx, op, c.graphqlURL, body)
		if err != nil {
			return nil, err
		}
		var out graphQLResponse
		if err := resp.JSON(&out); err != nil {
			return nil, err
		}
		if len(out.Errors) > 0 {
			return nil, out.Errors
		}
		return out.Data, nil
	})
}

// withRetry runs fn under the client's retry policy and, when configured,
// its circuit breaker.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("costar", op)
	}

	attempts := 0
	call := func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
			attempts++
			return fn(ctx)
		})
	}

	var (
		val T
		err error
	)
	if c.breaker != nil {
		val, err = resilience.ExecuteVal(ctx, c.breaker, call)
	} else {
		val, err = call(ctx)
	}
	if err != nil {
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &APIError{Op: op, Attempts: attempts, Err: err}
	}
	return val, nil
}

// post sends one request through the pacing gate.
func (c *Client) post(ctx context.Context, op, url string, body []byte) (*browser.Response, error) {
	var resp *browser.Response
	err := c.pacer.Do(ctx, func(ctx context.Context) error {
		c.meter.Inc(op)
		r, err := c.poster.Post(ctx, url, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, eris.New("costar: empty response")
	}

	switch {
	case resp.Status == 429:
		c.pacer.OnRateLimit()
	case resp.OK():
		c.pacer.OnSuccess()
	}
	if !resp.OK() {
		serr := &StatusError{StatusCode: resp.Status, Body: resp.Body}
		if resilience.IsTransientHTTPStatus(resp.Status) {
			return nil, resilience.NewTransientError(serr, resp.Status)
		}
		return nil, serr
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
