package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"qms/ticket-service/internal/config"
	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
)

type benchOptions struct {
	Mode     string
	Workers  int
	Duration time.Duration
	Capacity int
	Seed     int
}

type benchResult struct {
	Elapsed    time.Duration
	Adds       uint64
	Gets       uint64
	Patches    uint64
	Overloaded uint64
	NotFound   uint64
}

func (r benchResult) Ops() uint64 {
	return r.Adds + r.Gets + r.Patches
}

func newBenchCommand(logger pslog.Logger) *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive an in-process store with concurrent callers and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{Port: "0", StoreMode: opts.Mode, QueueCapacity: opts.Capacity, EventBuffer: 1}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st, closeStore := openStore(cfg, nil, logger, nil)
			defer closeStore()

			logger.Info("bench.start", "mode", opts.Mode, "workers", opts.Workers, "duration", opts.Duration.String())
			result, err := runBench(cmd.Context(), st, opts)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), opts, result)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Mode, "mode", config.StoreModeLocked, "store discipline: locked or actor")
	flags.IntVarP(&opts.Workers, "workers", "w", 32, "concurrent callers")
	flags.DurationVarP(&opts.Duration, "duration", "d", 5*time.Second, "how long to run")
	flags.IntVar(&opts.Capacity, "queue-capacity", 128, "actor queue capacity")
	flags.IntVar(&opts.Seed, "seed", 1, "seed for the operation mix")
	return cmd
}

// runBench mixes adds, gets and patches (1:3:1) across workers until the
// duration elapses. Overload and not-found answers are counted, not fatal.
func runBench(ctx context.Context, st store.TicketStore, opts benchOptions) (benchResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var (
		adds, gets, patches, overloaded, notFound atomic.Uint64
		highest                                   atomic.Uint64
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < opts.Workers; w++ {
		rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(w)))
		g.Go(func() error {
			for gctx.Err() == nil {
				var err error
				switch op := rng.IntN(5); {
				case op == 0:
					var id models.TicketID
					id, err = st.Add(gctx, models.TicketDraft{Title: "bench", Description: "generated by bench"})
					if err == nil {
						adds.Add(1)
						for {
							cur := highest.Load()
							if uint64(id) <= cur || highest.CompareAndSwap(cur, uint64(id)) {
								break
							}
						}
					}
				case op <= 3:
					_, err = st.Get(gctx, models.TicketID(rng.Uint64N(highest.Load()+1)))
					if err == nil {
						gets.Add(1)
					}
				default:
					status := models.StatusInProgress
					err = st.Patch(gctx, models.TicketPatch{ID: models.TicketID(rng.Uint64N(highest.Load() + 1)), Status: &status})
					if err == nil {
						patches.Add(1)
					}
				}
				switch {
				case err == nil:
				case errors.Is(err, store.ErrOverloaded):
					overloaded.Add(1)
				case errors.Is(err, store.ErrTicketNotFound):
					notFound.Add(1)
				case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
					return nil
				default:
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	return benchResult{
		Elapsed:    time.Since(start),
		Adds:       adds.Load(),
		Gets:       gets.Load(),
		Patches:    patches.Load(),
		Overloaded: overloaded.Load(),
		NotFound:   notFound.Load(),
	}, nil
}

func printBench(w io.Writer, opts benchOptions, r benchResult) {
	seconds := r.Elapsed.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	fmt.Fprintf(w, "mode:        %s (%d workers, %s)\n", opts.Mode, opts.Workers, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "operations:  %s (%s)\n", humanize.Comma(int64(r.Ops())), humanize.Comma(int64(float64(r.Ops())/seconds))+" ops/s")
	fmt.Fprintf(w, "  adds:      %s\n", humanize.Comma(int64(r.Adds)))
	fmt.Fprintf(w, "  gets:      %s\n", humanize.Comma(int64(r.Gets)))
	fmt.Fprintf(w, "  patches:   %s\n", humanize.Comma(int64(r.Patches)))
	fmt.Fprintf(w, "overloaded:  %s\n", humanize.Comma(int64(r.Overloaded)))
	fmt.Fprintf(w, "not found:   %s\n", humanize.Comma(int64(r.NotFound)))
}
