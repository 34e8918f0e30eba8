// Package extract turns property searches into deduplicated owner contact
// records, paced to look like a person browsing.
package extract

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
)

// Failure phases.
const (
	PhaseDetail = "detail"
	PhaseParcel = "parcel"
)

// API is the subset of the platform client the pipeline needs.
type API interface {
	SearchProperties(ctx context.Context, payload model.SearchPayload, maxPages int) ([]model.PropertyStub, error)
	PropertyDetail(ctx context.Context, propertyID int64) (*model.PropertyDetail, error)
	ParcelPINs(ctx context.Context, propertyID int64) ([]string, error)
	ParcelDetail(ctx context.Context, parcelID string) (*model.ParcelEnrichment, error)
}

// Result is the outcome of a run.
type Result struct {
	Records             []model.ExtractedContactRecord
	PropertiesFound     int
	PropertiesProcessed int
	Failures            []resilience.Failure
	Calls               map[string]int64
	Duration            time.Duration
}

// Pipeline runs contact extraction over search payloads. A Pipeline may be
// reused; each Run has its own dedup and burst state.
type Pipeline struct {
	api   API
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline.
func New(api API, opts Options) *Pipeline {
	return &Pipeline{api: api, opts: opts.withDefaults(), sleep: sleepCtx}
}

// run carries the per-Run state shared by workers.
type run struct {
	state *runState
	sem   *semaphore.Weighted

	mu       sync.Mutex
	failures []resilience.Failure
}

func (r *run) fail(f resilience.Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

// Run searches each payload in order and extracts contacts from the
// matching properties. maxProperties caps the properties attempted across
// all payloads; zero or less means no cap. A property failure never stops
// the run. When ctx ends, Run returns the records gathered so far along
// with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, payloads []model.SearchPayload, maxProperties int) (*Result, error) {
	start := time.Now()
	before := p.opts.Meter.Snapshot()
	r := &run{
		state: newRunState(),
		sem:   semaphore.NewWeighted(int64(p.opts.Concurrency)),
	}
	res := &Result{}

	finish := func(err error) (*Result, error) {
		res.Failures = r.failures
		res.Duration = time.Since(start)
		if p.opts.Meter != nil {
			res.Calls = p.opts.Meter.Since(before)
		}
		zap.L().Info("extraction complete",
			zap.Int("properties", res.PropertiesProcessed),
			zap.Int("contacts", len(res.Records)),
			zap.Int("failures", len(res.Failures)),
			zap.Duration("duration", res.Duration),
		)
		return res, err
	}

	batchSize := 2 * p.opts.Concurrency
	nextProgress := p.opts.ProgressEvery

	for i, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if maxProperties > 0 && res.PropertiesProcessed >= maxProperties {
			break
		}

		log := zap.L().With(zap.Int("payload", i+1), zap.Int("payloads", len(payloads)))
		log.Info("processing payload")

		marketID := ""
		if ids := payload.MarketIDs(); len(ids) > 0 {
			marketID = strconv.FormatInt(ids[0], 10)
		}

		stubs, err := p.api.SearchProperties(ctx, payload, p.opts.MaxPages)
		if err != nil {
			return finish(err)
		}
		res.PropertiesFound += len(stubs)

		if maxProperties > 0 {
			remaining := maxProperties - res.PropertiesProcessed
			if len(stubs) > remaining {
				stubs = stubs[:remaining]
			}
		}

		for bs := 0; bs < len(stubs); bs += batchSize {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			batch := stubs[bs:min(bs+batchSize, len(stubs))]

			res.Records = append(res.Records, p.runBatch(ctx, r, batch, marketID)...)
			res.PropertiesProcessed += len(batch)

			if res.PropertiesProcessed >= nextProgress {
				prog := Progress{
					Processed: res.PropertiesProcessed,
					Found:     res.PropertiesFound,
					Contacts:  len(res.Records),
				}
				zap.L().Info("extraction progress",
					zap.Int("processed", prog.Processed),
					zap.Int("found", prog.Found),
					zap.Int("contacts", prog.Contacts),
				)
				if p.opts.OnProgress != nil {
					p.opts.OnProgress(prog)
				}
				for nextProgress <= res.PropertiesProcessed {
					nextProgress += p.opts.ProgressEvery
				}
			}

			if count, pause := r.state.addProcessed(len(batch), p.opts.BurstSize); pause {
				d := p.opts.BurstDelay + randDuration(0, p.opts.BurstJitter)
				zap.L().Info("burst pause",
					zap.Duration("pause", d),
					zap.Int("properties", count),
				)
				if err := p.sleep(ctx, d); err != nil {
					return finish(err)
				}
			}
		}
	}

	return finish(nil)
}

// runBatch extracts a batch concurrently, bounded by the run-wide
// semaphore. Records keep batch order.
func (p *Pipeline) runBatch(ctx context.Context, r *run, batch []model.PropertyStub, marketID string) []model.ExtractedContactRecord {
	out := make([][]model.ExtractedContactRecord, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, stub := range batch {
		if !stub.HasID() {
			continue
		}
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				return nil //nolint:nilerr // context ended; the coordinator reports it
			}
			defer r.sem.Release(1)

			if err := p.sleep(gctx, randDuration(p.opts.MinDelay, p.opts.MaxDelay)); err != nil {
				return nil //nolint:nilerr // context ended; the coordinator reports it
			}
			out[i] = p.extractProperty(gctx, r, stub, marketID)
			return nil
		})
	}
	_ = g.Wait()

	var records []model.ExtractedContactRecord
	for _, recs := range out {
		records = append(records, recs...)
	}
	return records
}

// extractProperty fetches one property's owner contacts and, when
// requested and worthwhile, its parcel data.
func (p *Pipeline) extractProperty(ctx context.Context, r *run, stub model.PropertyStub, marketID string) []model.ExtractedContactRecord {
	log := zap.L().With(zap.Int64("property_id", stub.ID))

	detail, err := p.api.PropertyDetail(ctx, stub.ID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("property detail failed", zap.Error(err))
			r.fail(resilience.NewFailure(stub.ID, PhaseDetail, err))
		}
		return nil
	}
	if detail == nil || detail.Owner == nil {
		return nil
	}
	detail.MergeStub(stub)

	base := baseRecord(detail, stub.ID, marketID)
	var records []model.ExtractedContactRecord
	for _, person := range detail.Owner.Contacts {
		rec, ok := p.contactRecord(r.state, base, person)
		if ok {
			records = append(records, rec)
		}
	}

	// Parcel lookups cost two calls; skip them when nothing survived.
	if len(records) == 0 || !p.opts.IncludeParcel {
		return records
	}

	parcel, err := p.parcel(ctx, stub.ID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("parcel lookup failed, keeping contacts", zap.Error(err))
			r.fail(resilience.NewFailure(stub.ID, PhaseParcel, err))
		}
		return records
	}
	if parcel != nil {
		for i := range records {
			records[i].ApplyParcel(*parcel)
		}
	}
	return records
}

// parcel resolves the property's first parcel and fetches its detail.
// It returns nil when the property has no parcel.
func (p *Pipeline) parcel(ctx context.Context, propertyID int64) (*model.ParcelEnrichment, error) {
	if err := p.sleep(ctx, randDuration(p.opts.ParcelDelayMin, p.opts.ParcelDelayMax)); err != nil {
		return nil, err
	}
	pins, err := p.api.ParcelPINs(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if len(pins) == 0 || pins[0] == "" {
		return nil, nil
	}

	if err := p.sleep(ctx, randDuration(p.opts.ParcelDelayMin, p.opts.ParcelDelayMax)); err != nil {
		return nil, err
	}
	return p.api.ParcelDetail(ctx, pins[0])
}

// baseRecord holds the property and owner columns shared by every contact
// of a property.
func baseRecord(d *model.PropertyDetail, propertyID int64, marketID string) model.ExtractedContactRecord {
	id := d.Header.PropertyID.String()
	if id == "" {
		id = strconv.FormatInt(propertyID, 10)
	}
	return model.ExtractedContactRecord{
		PropertyID:      id,
		PropertyAddress: d.Header.Address.String(),
		PropertyName:    d.Extras.PropertyName,
		City:            d.Extras.City,
		State:           d.Extras.State,
		PostalCode:      d.Extras.PostalCode,
		County:          d.Extras.County,
		PropertyType:    d.Header.PropertyType.String(),
		BuildingClass:   d.Extras.BuildingClass,
		BuildingSize:    d.Header.BuildingSize.String(),
		LandSize:        d.Header.LandSize.String(),
		YearBuilt:       d.Header.YearBuilt.String(),
		MarketID:        marketID,
		Submarket:       d.Extras.Submarket,
		Cluster:         d.Extras.Cluster,
		CompanyID:       d.Owner.CompanyID.String(),
		CompanyName:     d.Owner.Name.String(),
		CompanyAddress:  d.Owner.Address.String(),
		CompanyPhone:    d.Owner.Phones.First(),
	}
}

// contactRecord applies the contact filters in order and claims the email
// last, so a rejected contact never consumes it.
func (p *Pipeline) contactRecord(state *runState, base model.ExtractedContactRecord, person model.PersonContact) (model.ExtractedContactRecord, bool) {
	name := person.Name.String()
	email := person.Email.String()
	phone := person.Phones.First()

	switch {
	case base.CompanyName == "" || name == "":
		return model.ExtractedContactRecord{}, false
	case p.opts.RequireEmail && !ValidEmail(email):
		return model.ExtractedContactRecord{}, false
	case p.opts.RequirePhone && phone == "":
		return model.ExtractedContactRecord{}, false
	case !state.claimEmail(email):
		return model.ExtractedContactRecord{}, false
	}

	rec := base
	rec.ContactID = person.PersonID.String()
	rec.ContactName = name
	rec.ContactTitle = person.Title.String()
	rec.Email = email
	rec.Phone = phone
	return rec, true
}

// randDuration returns a uniform duration in [lo, hi].
func randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
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
