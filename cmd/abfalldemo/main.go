// Command abfalldemo drives a heap from the command line: run lets a set of
// concurrent mutators allocate and release roots against a live heap, bench
// measures allocation throughput, and stats prints a single snapshot.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/HellButcher/abfall"
)

// node is a leaf value with nothing to trace: embedding abfall.NoTrace
// satisfies the noTracer fast path so the collector marks it straight to
// Black instead of queueing it.
type node struct {
	abfall.NoTrace
	id int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "abfalldemo",
		Short: "Exercise and observe the abfall garbage collector",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML options profile")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadOpts := func() (abfall.Options, error) {
		var opts abfall.Options
		var err error
		if configPath != "" {
			opts, err = abfall.ProfileFromTOML(configPath)
			if err != nil {
				return opts, err
			}
		} else {
			opts = abfall.DefaultProfile()
		}
		logger := logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
		opts.Logger = logger
		return opts, nil
	}

	root.AddCommand(newRunCmd(loadOpts))
	root.AddCommand(newBenchCmd(loadOpts))
	root.AddCommand(newStatsCmd(loadOpts))
	return root
}

func newRunCmd(loadOpts func() (abfall.Options, error)) *cobra.Command {
	var (
		goroutines      int
		duration        time.Duration
		metricsNamespace string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run concurrent mutators against a live heap until duration elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOpts()
			if err != nil {
				return err
			}
			opts.OnPhaseChange = func(p abfall.Phase) {
				opts.Logger.WithField("phase", p.String()).Debug("abfalldemo: phase changed")
			}

			heap := abfall.NewHeap(opts)
			defer heap.Close()

			if metricsNamespace != "" {
				reg := prometheus.NewRegistry()
				if err := heap.RegisterMetrics(reg, metricsNamespace); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < goroutines; i++ {
				i := i
				g.Go(func() error {
					mutate(gctx, heap, i)
					return nil
				})
			}
			_ = g.Wait()

			stats := heap.Stats()
			fmt.Printf("collections=%d live_bytes=%d allocations=%d freed_objects=%d\n",
				stats.CollectionsTotal, stats.BytesAllocated, stats.AllocationCount, stats.ObjectsFreedTotal)
			return nil
		},
	}
	cmd.Flags().IntVar(&goroutines, "goroutines", 4, "number of concurrent mutator goroutines")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "how long to run before stopping")
	cmd.Flags().StringVar(&metricsNamespace, "metrics-namespace", "", "if set, register Prometheus metrics under this namespace")
	return cmd
}

func newBenchCmd(loadOpts func() (abfall.Options, error)) *cobra.Command {
	var allocations int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure allocation throughput for a fixed number of roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOpts()
			if err != nil {
				return err
			}
			heap := abfall.NewHeap(opts)
			defer heap.Close()

			start := time.Now()
			roots := make([]abfall.Root[node], 0, allocations)
			for i := 0; i < allocations; i++ {
				roots = append(roots, abfall.Allocate(heap, node{id: i}))
			}
			elapsed := time.Since(start)

			for _, r := range roots {
				r.Release()
			}
			heap.ForceCollect()

			fmt.Printf("allocated %d objects in %s (%.0f allocs/sec)\n",
				allocations, elapsed, float64(allocations)/elapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().IntVar(&allocations, "allocations", 100000, "number of objects to allocate")
	return cmd
}

func newStatsCmd(loadOpts func() (abfall.Options, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Allocate one object, force a collection, and print the resulting snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOpts()
			if err != nil {
				return err
			}
			heap := abfall.NewHeap(opts)
			defer heap.Close()

			root := abfall.Allocate(heap, node{id: 0})
			defer root.Release()

			heap.ForceCollect()
			s := heap.Stats()
			fmt.Printf("phase=%s live_bytes=%d allocations=%d threshold=%d collections=%d\n",
				s.Phase, s.BytesAllocated, s.AllocationCount, s.Threshold, s.CollectionsTotal)
			return nil
		},
	}
}

// mutate allocates and releases roots in a tight loop, occasionally nudging
// the heap with Collect, until ctx is canceled.
func mutate(ctx context.Context, heap *abfall.Heap, seed int) {
	rng := rand.New(rand.NewSource(int64(seed) + 1))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := abfall.Allocate(heap, node{id: rng.Int()})
		r.Release()

		if rng.Intn(64) == 0 {
			heap.Collect()
		}
	}
}
