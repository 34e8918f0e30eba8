package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/browser/browsertest"
	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/extract"
	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
	"github.com/sells-group/costar-cli/internal/session"
	"github.com/sells-group/costar-cli/internal/store"
	"github.com/sells-group/costar-cli/pkg/costar"
)

const (
	testSearchURL  = "https://costar.test/search"
	testGraphQLURL = "https://costar.test/graphql"
	testHomeURL    = "https://product.costar.com/home/"
)

// platform answers search and GraphQL posts the way the live endpoints do.
type platform struct {
	properties int
	emails     map[int]string
	detailErr  map[int]bool
	onSearch   func()
	onDetail   func()
	searches   atomic.Int64
}

func (p *platform) post(url string, body []byte) (*browser.Response, error) {
	switch url {
	case testSearchURL:
		p.searches.Add(1)
		if p.onSearch != nil {
			p.onSearch()
		}
		items := make([]string, 0, p.properties)
		for i := 1; i <= p.properties; i++ {
			items = append(items, fmt.Sprintf(`{"i":%d,"City":"Austin"}`, i))
		}
		return &browser.Response{Status: 200, Body: `{"properties":[` + strings.Join(items, ",") + `]}`}, nil
	case testGraphQLURL:
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		switch req.Query {
		case costar.ContactsQuery:
			if p.onDetail != nil {
				p.onDetail()
			}
			id := int(req.Variables["propertyId"].(float64))
			if p.detailErr[id] {
				return &browser.Response{Status: 400, Body: `bad request`}, nil
			}
			email := p.emails[id]
			data := fmt.Sprintf(`{"propertyDetail":{
				"propertyDetailHeader":{"propertyId":%d,"addressHeader":"%d Main St","propertyType":"Office"},
				"propertyContactDetails_info":{"trueOwner":{"companyId":%d,"name":"Owner %d",
					"contacts":[{"personId":%d,"name":"Contact %d","email":%q}]}}}}`,
				id, id, 100+id, id, 200+id, id, email)
			return &browser.Response{Status: 200, Body: `{"data":` + data + `}`}, nil
		case costar.ParcelPinsQuery:
			return &browser.Response{Status: 200, Body: `{"data":{"parcelPinsFromProperty":{"parcelPins":[{"id":"P-1"}]}}}`}, nil
		case costar.ParcelDetailsQuery:
			return &browser.Response{Status: 200, Body: `{"data":{"publicRecordDetailNew":{"parcelDetail":{"apn":"123-45"},"parcelSales":{"sales":[]}}}}`}, nil
		}
	}
	return &browser.Response{Status: 404, Body: `not found`}, nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestManager(t *testing.T, p *platform) (*session.Manager, *browsertest.Fake) {
	t.Helper()
	fake := &browsertest.Fake{LoginLanding: testHomeURL, PostFunc: p.post}
	m, err := session.New(session.DefaultConfig("broker@example.com", "secret"), fake,
		session.NewFileCookieStore(t.TempDir()), session.WithSleep(noSleep))
	require.NoError(t, err)
	return m, fake
}

func testClientOptions() FacadeOption {
	return WithClientOptions(
		costar.WithSearchURL(testSearchURL),
		costar.WithGraphQLURL(testGraphQLURL),
		costar.WithMinInterval(0),
		costar.WithPageDelay(0),
		costar.WithRetry(resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		}),
	)
}

func quickOptions(name string) Options {
	return Options{
		Name: name,
		Extract: extract.Options{
			Concurrency:  2,
			RequireEmail: true,
		},
	}
}

func payloads(n int) []model.SearchPayload {
	out := make([]model.SearchPayload, 0, n)
	for range n {
		out = append(out, model.SearchPayload{"0": map[string]any{"BoundingBox": nil}})
	}
	return out
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type memorySink struct {
	writes map[string][]model.ExtractedContactRecord
	err    error
}

func (s *memorySink) Write(_ context.Context, name string, records []model.ExtractedContactRecord) error {
	if s.err != nil {
		return s.err
	}
	if s.writes == nil {
		s.writes = map[string][]model.ExtractedContactRecord{}
	}
	s.writes[name] = records
	return nil
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 3, emails: map[int]string{1: "a@x.com", 2: "", 3: "c@x.com"}}
	m, fake := newTestManager(t, p)
	sink := &memorySink{}
	f := New(m, testClientOptions(), WithSink(sink))

	opts := quickOptions("austin-office")
	opts.Extract.IncludeParcel = true
	res, err := f.Run(context.Background(), payloads(1), opts)

	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	emails := []string{res.Records[0].Email, res.Records[1].Email}
	assert.ElementsMatch(t, []string{"a@x.com", "c@x.com"}, emails)
	for _, r := range res.Records {
		assert.Equal(t, "123-45", r.APN)
		assert.Equal(t, "Austin", r.City)
	}
	assert.Equal(t, 3, res.PropertiesFound)
	assert.Equal(t, 3, res.PropertiesProcessed)
	assert.Equal(t, int64(1), res.Calls[cost.OpSearchPage])
	assert.Equal(t, int64(3), res.Calls[cost.OpDetail])
	assert.Equal(t, int64(2), res.Calls[cost.OpParcelPins])
	assert.Equal(t, 1, fake.LoginCalls())
	assert.Equal(t, res.Records, sink.writes["austin-office"])
}

func TestRun_AcquireFailure(t *testing.T) {
	t.Parallel()

	fake := &browsertest.Fake{LoginErr: errors.New("form missing")}
	m, err := session.New(session.DefaultConfig("broker@example.com", "secret"), fake, nil, session.WithSleep(noSleep))
	require.NoError(t, err)

	_, err = New(m, testClientOptions()).Run(context.Background(), payloads(1), quickOptions("x"))

	require.Error(t, err)
	var authErr *session.AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestRunWithTransport_NoPayloads(t *testing.T) {
	t.Parallel()

	p := &platform{}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)

	res, err := New(m, testClientOptions()).RunWithTransport(context.Background(), tr, nil, quickOptions(""))

	require.Error(t, err)
	assert.Equal(t, "find-sellers", res.Name)
	assert.Zero(t, p.searches.Load())
}

func TestRunWithTransport_RecordsCompletedRun(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 2, emails: map[int]string{1: "a@x.com", 2: "b@x.com"}, detailErr: map[int]bool{}}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)
	st := newTestStore(t)
	f := New(m, testClientOptions(), WithRunStore(st))

	opts := quickOptions("tx")
	opts.MaxProperties = 5
	res, err := f.RunWithTransport(context.Background(), tr, payloads(2), opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "tx", run.Name)
	assert.Equal(t, 2, run.Payloads)
	assert.Equal(t, 5, run.MaxProperties)
	require.NotNil(t, run.Result)
	// The same two properties come back for both payloads; emails dedup.
	assert.Equal(t, 2, run.Result.Contacts)
	assert.Equal(t, 4, run.Result.PropertiesProcessed)
	assert.Empty(t, run.Result.Error)
}

func TestRunWithTransport_SinkFailureFailsRun(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 1, emails: map[int]string{1: "a@x.com"}}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)
	st := newTestStore(t)
	f := New(m, testClientOptions(), WithRunStore(st), WithSink(&memorySink{err: errors.New("disk full")}))

	res, err := f.RunWithTransport(context.Background(), tr, payloads(1), quickOptions("tx"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, res.Records, 1)

	run, getErr := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Result.Error, "disk full")
}

func TestRunWithTransport_DetailFailuresReported(t *testing.T) {
	t.Parallel()

	p := &platform{
		properties: 2,
		emails:     map[int]string{1: "a@x.com", 2: "b@x.com"},
		detailErr:  map[int]bool{2: true},
	}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)

	res, err := New(m, testClientOptions()).RunWithTransport(context.Background(), tr, payloads(1), quickOptions("tx"))

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a@x.com", res.Records[0].Email)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.RunResult().Failures)
}

func TestRunWithTransport_CanceledRecordsFailedRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &platform{properties: 1, emails: map[int]string{1: "a@x.com"}, onSearch: cancel}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)
	st := newTestStore(t)

	res, err := New(m, testClientOptions(), WithRunStore(st)).RunWithTransport(ctx, tr, payloads(1), quickOptions("tx"))

	require.ErrorIs(t, err, context.Canceled)
	run, getErr := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestRunWithTransport_CanceledWritesPartialRecords(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &platform{
		properties: 5,
		emails:     map[int]string{1: "a@x.com", 2: "b@x.com", 3: "c@x.com", 4: "d@x.com", 5: "e@x.com"},
		onDetail:   cancel,
	}
	m, _ := newTestManager(t, p)
	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)
	sink := &memorySink{}

	opts := quickOptions("tx")
	opts.Extract.Concurrency = 1
	res, err := New(m, testClientOptions(), WithSink(sink)).RunWithTransport(ctx, tr, payloads(1), opts)

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Records, 1)
	assert.Equal(t, res.Records, sink.writes["tx"])
}

func TestRunBatch_SharesSession(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 2, emails: map[int]string{1: "a@x.com", 2: "b@x.com"}}
	m, fake := newTestManager(t, p)
	f := New(m, testClientOptions())

	results, err := f.RunBatch(context.Background(), []SellerQuery{
		{Name: "first", Payloads: payloads(1), Options: quickOptions("")},
		{Name: "empty", Options: quickOptions("")},
		{Name: "second", Payloads: payloads(1), Options: quickOptions("")},
	})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Name)
	assert.Len(t, results[0].Records, 2)
	assert.Error(t, results[1].Err)
	// Each query dedups on its own.
	assert.Len(t, results[2].Records, 2)
	assert.Equal(t, 1, fake.LoginCalls())
	assert.Equal(t, int64(2), p.searches.Load())
}

func TestRunBatch_ReacquiresExpiredSession(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 1, emails: map[int]string{1: "a@x.com"}}
	m, fake := newTestManager(t, p)
	sink := &memorySink{}
	f := New(m, testClientOptions(), WithSink(expiringSink{sink: sink, m: m}))

	results, err := f.RunBatch(context.Background(), []SellerQuery{
		{Name: "first", Payloads: payloads(1), Options: quickOptions("")},
		{Name: "second", Payloads: payloads(1), Options: quickOptions("")},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[1].Err)
	assert.Len(t, sink.writes["second"], 1)
	assert.Equal(t, 2, fake.LoginCalls())
}

// expiringSink invalidates the session after every write.
type expiringSink struct {
	sink *memorySink
	m    *session.Manager
}

func (s expiringSink) Write(ctx context.Context, name string, records []model.ExtractedContactRecord) error {
	defer s.m.Invalidate()
	return s.sink.Write(ctx, name, records)
}

func TestRunBatch_StopsOnCancel(t *testing.T) {
	t.Parallel()

	p := &platform{properties: 1, emails: map[int]string{1: "a@x.com"}}
	m, _ := newTestManager(t, p)
	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := New(m, testClientOptions()).RunBatch(ctx, []SellerQuery{
		{Name: "first", Payloads: payloads(1)},
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestSellerResult_RunResult(t *testing.T) {
	t.Parallel()

	r := SellerResult{
		Records:             make([]model.ExtractedContactRecord, 3),
		PropertiesFound:     10,
		PropertiesProcessed: 8,
		Failures:            []resilience.Failure{{}},
		Calls:               map[string]int64{cost.OpDetail: 8},
		Duration:            1500 * time.Millisecond,
		Err:                 errors.New("boom"),
	}

	got := r.RunResult()

	assert.Equal(t, 3, got.Contacts)
	assert.Equal(t, 10, got.PropertiesFound)
	assert.Equal(t, 8, got.PropertiesProcessed)
	assert.Equal(t, 1, got.Failures)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, "boom", got.Error)
}
