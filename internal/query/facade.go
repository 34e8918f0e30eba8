// Package query runs find-sellers queries end to end: session, client,
// extraction, run bookkeeping and export.
package query

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/extract"
	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
	"github.com/sells-group/costar-cli/internal/session"
	"github.com/sells-group/costar-cli/pkg/costar"
)

// Acquirer hands out an authenticated transport.
type Acquirer interface {
	Acquire(ctx context.Context) (*session.Transport, error)
}

// Sink receives the records of each finished query.
type Sink interface {
	Write(ctx context.Context, name string, records []model.ExtractedContactRecord) error
}

// RunStore records run bookkeeping. store.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, name string, payloads, maxProperties int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, result *model.RunResult) error
}

// Options configures one query.
type Options struct {
	Name          string
	MaxProperties int
	Extract       extract.Options
}

// SellerQuery is one named query of a batch.
type SellerQuery struct {
	Name     string
	Payloads []model.SearchPayload
	Options  Options
}

// SellerResult is the outcome of one query.
type SellerResult struct {
	Name                string
	RunID               string
	Records             []model.ExtractedContactRecord
	PropertiesFound     int
	PropertiesProcessed int
	Failures            []resilience.Failure
	Calls               map[string]int64
	Duration            time.Duration
	Err                 error
}

// RunResult converts the outcome into its persisted summary.
func (r *SellerResult) RunResult() *model.RunResult {
	out := &model.RunResult{
		PropertiesFound:     r.PropertiesFound,
		PropertiesProcessed: r.PropertiesProcessed,
		Contacts:            len(r.Records),
		Failures:            len(r.Failures),
		Calls:               r.Calls,
		DurationMs:          r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Facade composes the session, client and pipeline.
type Facade struct {
	sessions   Acquirer
	clientOpts []costar.Option
	runs       RunStore
	sink       Sink
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithClientOptions sets the options every query's client is built with.
func WithClientOptions(opts ...costar.Option) FacadeOption {
	return func(f *Facade) { f.clientOpts = append(f.clientOpts, opts...) }
}

// WithRunStore records each query as a run.
func WithRunStore(rs RunStore) FacadeOption {
	return func(f *Facade) { f.runs = rs }
}

// WithSink hands each query's records to s.
func WithSink(s Sink) FacadeOption {
	return func(f *Facade) { f.sink = s }
}

// New creates a Facade.
func New(sessions Acquirer, opts ...FacadeOption) *Facade {
	f := &Facade{sessions: sessions}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run acquires a session and runs one query.
func (f *Facade) Run(ctx context.Context, payloads []model.SearchPayload, opts Options) (*SellerResult, error) {
	t, err := f.sessions.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "query: acquire session")
	}
	return f.RunWithTransport(ctx, t, payloads, opts)
}

// RunWithTransport runs one query over an already acquired session. The
// result is returned even when err is non-nil.
func (f *Facade) RunWithTransport(ctx context.Context, poster costar.Poster, payloads []model.SearchPayload, opts Options) (*SellerResult, error) {
	name := opts.Name
	if name == "" {
		name = "find-sellers"
	}
	log := zap.L().With(zap.String("query", name))
	out := &SellerResult{Name: name}

	if len(payloads) == 0 {
		out.Err = eris.New("query: no payloads")
		return out, out.Err
	}

	runID := f.startRun(ctx, name, len(payloads), opts.MaxProperties)
	out.RunID = runID

	meter := cost.NewMeter()
	client := costar.NewClient(poster, append(append([]costar.Option{}, f.clientOpts...), costar.WithMeter(meter))...)
	extractOpts := opts.Extract
	extractOpts.Meter = meter

	res, err := extract.New(client, extractOpts).Run(ctx, payloads, opts.MaxProperties)
	if res != nil {
		out.Records = res.Records
		out.PropertiesFound = res.PropertiesFound
		out.PropertiesProcessed = res.PropertiesProcessed
		out.Failures = res.Failures
		out.Calls = res.Calls
		out.Duration = res.Duration
	}
	if err != nil {
		out.Err = eris.Wrap(err, "query: extract")
		// Records gathered before cancellation are still delivered.
		if ctx.Err() != nil && len(out.Records) > 0 && f.sink != nil {
			if werr := f.sink.Write(context.WithoutCancel(ctx), name, out.Records); werr != nil {
				log.Warn("write partial results", zap.Error(werr))
			}
		}
		f.finishRun(ctx, runID, out)
		return out, out.Err
	}

	if f.sink != nil {
		if err := f.sink.Write(ctx, name, out.Records); err != nil {
			out.Err = eris.Wrap(err, "query: write results")
			f.finishRun(ctx, runID, out)
			return out, out.Err
		}
	}

	f.finishRun(ctx, runID, out)
	log.Info("query complete",
		zap.Int("contacts", len(out.Records)),
		zap.Int("properties", out.PropertiesProcessed),
		zap.Int("failures", len(out.Failures)),
	)
	return out, nil
}

// RunBatch runs named queries over one session. A failing query records
// its error on its result and the batch moves on; an expired session is
// re-acquired before the next query. Context cancellation stops the batch.
func (f *Facade) RunBatch(ctx context.Context, queries []SellerQuery) ([]SellerResult, error) {
	t, err := f.sessions.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "query: acquire session")
	}

	results := make([]SellerResult, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if t.State() != session.Authenticated {
			zap.L().Info("session no longer authenticated, re-acquiring", zap.String("state", t.State().String()))
			if t, err = f.sessions.Acquire(ctx); err != nil {
				return results, eris.Wrap(err, "query: re-acquire session")
			}
		}

		opts := q.Options
		if opts.Name == "" {
			opts.Name = q.Name
		}
		res, err := f.RunWithTransport(ctx, t, q.Payloads, opts)
		results = append(results, *res)
		if err != nil {
			zap.L().Warn("query failed", zap.String("query", res.Name), zap.Error(err))
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}

func (f *Facade) startRun(ctx context.Context, name string, payloads, maxProperties int) string {
	if f.runs == nil {
		return ""
	}
	run, err := f.runs.CreateRun(ctx, name, payloads, maxProperties)
	if err != nil {
		zap.L().Warn("record run start", zap.Error(err))
		return ""
	}
	if err := f.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		zap.L().Warn("record run status", zap.String("run_id", run.ID), zap.Error(err))
	}
	return run.ID
}

func (f *Facade) finishRun(ctx context.Context, runID string, res *SellerResult) {
	if f.runs == nil || runID == "" {
		return
	}
	// Bookkeeping must land even when the query was cancelled.
	ctx = context.WithoutCancel(ctx)

	var err error
	if res.Err != nil {
		err = f.runs.FailRun(ctx, runID, res.RunResult())
	} else {
		err = f.runs.CompleteRun(ctx, runID, res.RunResult())
	}
	if err != nil {
		zap.L().Warn("record run result", zap.String("run_id", runID), zap.Error(err))
	}
}
