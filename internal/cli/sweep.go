package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/escrow"
	"github.com/mesh-intelligence/stall/pkg/types"
)

func newSweepCmd() *cobra.Command {
	var (
		every       string
		parallelism int
		listen      string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel expired listings as the expiry authority",
		Long: "Cancel every active listing whose expiry has passed and return the assets\n" +
			"to their sellers. With --every, sweep on a cron schedule until interrupted.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				s := a.market.Sweeper()
				s.SetParallelism(parallelism)
				if every == "" {
					res, err := s.Sweep(cmd.Context())
					if rerr := render(a.out, res, func(w io.Writer) { printSweep(w, res) }); err == nil {
						err = rerr
					}
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := s.Start(every); err != nil {
					return usageError{err}
				}
				a.log.WithField("schedule", every).Info("sweeper started")
				var err error
				if listen != "" {
					err = serveMetrics(ctx, a, listen)
				} else {
					<-ctx.Done()
				}
				s.Stop()
				a.log.Info("sweeper stopped")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&every, "every", "", "cron schedule, e.g. \"@every 1m\"")
	cmd.Flags().IntVar(&parallelism, "parallelism", escrow.DefaultSweepParallelism, "concurrent cancellations per sweep")
	cmd.Flags().StringVar(&listen, "listen", "", "serve /metrics on this address while sweeping")
	return cmd
}

func printSweep(w io.Writer, res escrow.SweepResult) {
	fmt.Fprintf(w, "cancelled: %d  lost: %d  failed: %d\n", len(res.Cancelled), len(res.Lost), len(res.Failed))
	for _, id := range res.Cancelled {
		fmt.Fprintf(w, "  cancelled %s\n", id)
	}
	for _, id := range res.Failed {
		fmt.Fprintf(w, "  failed    %s\n", id)
	}
}

func newMetricsCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Dump metrics in Prometheus text format",
		Long: "Count stored listings by state and print all metrics. With --listen,\n" +
			"serve them on /metrics until interrupted.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				if err := countListings(cmd.Context(), a); err != nil {
					return err
				}
				if listen == "" {
					return a.metrics.WriteText(a.out)
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serveMetrics(ctx, a, listen)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve /metrics on this address")
	return cmd
}

// countListings sets the listings gauge for every state.
func countListings(ctx context.Context, a *app) error {
	for _, s := range []types.ListingState{types.StateActive, types.StateSold, types.StateCancelled} {
		ls, err := a.market.ListListings(ctx, types.ListingFilter{State: s})
		if err != nil {
			return err
		}
		a.metrics.SetListings(string(s), len(ls))
	}
	return nil
}

// serveMetrics serves the app's registry on addr until ctx is done.
func serveMetrics(ctx context.Context, a *app, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.WithField("addr", addr).Info("serving metrics")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
