package extract

import (
	"time"

	"github.com/sells-group/costar-cli/internal/cost"
)

// Progress is a point-in-time view of a run, reported every
// Options.ProgressEvery processed properties.
type Progress struct {
	Processed int
	Found     int
	Contacts  int
}

// Options controls pacing, filtering and enrichment of a pipeline run.
type Options struct {
	// Concurrency bounds in-flight property extractions for the whole run.
	Concurrency int

	// MinDelay and MaxDelay bound the random pause before each property.
	MinDelay time.Duration
	MaxDelay time.Duration

	// After BurstSize processed properties the run pauses for BurstDelay
	// plus up to BurstJitter.
	BurstSize   int
	BurstDelay  time.Duration
	BurstJitter time.Duration

	// ParcelDelayMin and ParcelDelayMax bound the pause before each of the
	// two parcel calls.
	ParcelDelayMin time.Duration
	ParcelDelayMax time.Duration

	RequireEmail  bool
	RequirePhone  bool
	IncludeParcel bool

	// MaxPages caps search pages per payload.
	MaxPages int

	ProgressEvery int
	OnProgress    func(Progress)

	// Meter, when set, is snapshotted around the run to report calls.
	Meter *cost.Meter
}

// DefaultOptions returns the conservative pacing used for large runs.
func DefaultOptions() Options {
	return Options{
		Concurrency:    3,
		MinDelay:       500 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		BurstSize:      50,
		BurstDelay:     5 * time.Second,
		BurstJitter:    2 * time.Second,
		ParcelDelayMin: 100 * time.Millisecond,
		ParcelDelayMax: 300 * time.Millisecond,
		RequireEmail:   true,
		MaxPages:       10,
		ProgressEvery:  100,
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	if o.ParcelDelayMax < o.ParcelDelayMin {
		o.ParcelDelayMax = o.ParcelDelayMin
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 10
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 100
	}
	return o
}
