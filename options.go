package abfall

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options is the collector's configuration surface (spec.md §6).
type Options struct {
	// CollectionInterval is the sleep between background wake-ups; 0
	// disables the background worker entirely (force_collect still works).
	CollectionInterval time.Duration `toml:"collection_interval"`
	// IncrementalWorkBudget caps how many gray headers a single drain
	// iteration processes before yielding.
	IncrementalWorkBudget int `toml:"incremental_work_budget"`
	// AssistWorkBudget caps how many mark units an allocation performs
	// while the heap is Marking; 0 disables assist.
	AssistWorkBudget int `toml:"assist_work_budget"`
	// ThresholdPercent is the growth headroom added to live bytes after a
	// sweep when computing the next threshold.
	ThresholdPercent int `toml:"threshold_percent"`
	// ThresholdShrinkPercent is the shrink guard of spec.md §4.7: a
	// recomputed threshold lower than the current one is adopted only when
	// it is below ThresholdShrinkPercent% of the current threshold.
	ThresholdShrinkPercent int `toml:"threshold_shrink_percent"`
	// MinThresholdBytes floors the threshold and seeds its initial value.
	MinThresholdBytes uint64 `toml:"min_threshold_bytes"`
	// LimitBytes is a hard cap that forces collection regardless of the
	// threshold. Zero means no hard cap.
	LimitBytes uint64 `toml:"limit_bytes"`
	// MaxConcurrentAssist bounds how many goroutines may run mutator
	// assist at once, trading a little allocation latency under heavy
	// concurrent allocation for less contention on the shared gray queue.
	// Zero means unbounded.
	MaxConcurrentAssist int `toml:"max_concurrent_assist"`

	// Logger receives the heap's structured lifecycle logs. A nil Logger
	// means discard — the library never forces log output on an embedder.
	Logger *logrus.Logger `toml:"-"`
	// OnPhaseChange, if set, is invoked on every phase transition, inline on
	// the goroutine running the cycle: the background worker, or the caller
	// of Collect or ForceCollect. It must not block.
	OnPhaseChange func(Phase) `toml:"-"`
}

// DefaultProfile is the interactive preset: background collection enabled
// with modest pacing, suitable for an embedding application that wants the
// heap to take care of itself.
func DefaultProfile() Options {
	return Options{
		CollectionInterval:     100 * time.Millisecond,
		IncrementalWorkBudget:  8,
		AssistWorkBudget:       5,
		ThresholdPercent:       100,
		ThresholdShrinkPercent: 25,
		MinThresholdBytes:      1 << 20, // 1 MiB
		LimitBytes:             0,
		MaxConcurrentAssist:    0,
	}
}

// OffProfile disables both threshold-driven and background collection.
// force_collect remains fully functional.
func OffProfile() Options {
	o := DefaultProfile()
	o.CollectionInterval = 0
	o.LimitBytes = 0
	o.ThresholdPercent = 0
	o.MinThresholdBytes = ^uint64(0) // never crossed by should_collect
	return o
}

// ProfileFromTOML loads Options from a TOML file, starting from
// DefaultProfile and overriding whatever fields the file sets — the same
// "read, unmarshal over a base" shape as tangzhangming/nova's
// internal/pkg/config.go LoadConfig.
func ProfileFromTOML(path string) (Options, error) {
	opts := DefaultProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "abfall: reading config %q", path)
	}
	if err := toml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrapf(err, "abfall: parsing config %q", path)
	}
	if err := opts.validate(); err != nil {
		return Options{}, errors.Wrapf(err, "abfall: invalid config %q", path)
	}
	return opts, nil
}

func (o Options) validate() error {
	if o.ThresholdShrinkPercent > 100 {
		return errors.Wrap(ErrInvalidOptions, "threshold_shrink_percent must be <= 100")
	}
	if o.IncrementalWorkBudget < 0 || o.AssistWorkBudget < 0 {
		return errors.Wrap(ErrInvalidOptions, "work budgets must be non-negative")
	}
	return nil
}

func (o Options) withDefaults() Options {
	d := DefaultProfile()
	if o.IncrementalWorkBudget == 0 {
		o.IncrementalWorkBudget = d.IncrementalWorkBudget
	}
	if o.ThresholdPercent == 0 && o.MinThresholdBytes == 0 {
		// A caller who built a bare Options{} zero value gets the default
		// profile's pacing rather than a heap that never grows its
		// threshold past zero.
		o.ThresholdPercent = d.ThresholdPercent
		o.ThresholdShrinkPercent = d.ThresholdShrinkPercent
		o.MinThresholdBytes = d.MinThresholdBytes
	}
	return o
}
