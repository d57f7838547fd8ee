package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// DefaultSweepParallelism bounds concurrent cancellations in one sweep.
const DefaultSweepParallelism = 8

// SweepResult summarizes one sweep.
type SweepResult struct {
	Cancelled []string `json:"cancelled"` // listings cancelled and released
	Lost      []string `json:"lost"`      // listings a purchase or the seller closed first
	Failed    []string `json:"failed"`    // listings whose cancellation or release failed
}

// Sweeper cancels expired active listings as the expiry authority.
type Sweeper struct {
	e           *Engine
	parallelism int

	mu   sync.Mutex
	cron *cron.Cron
}

// Sweeper returns a sweeper for the engine.
func (e *Engine) Sweeper() *Sweeper {
	return &Sweeper{e: e, parallelism: DefaultSweepParallelism}
}

// SetParallelism bounds concurrent cancellations; n < 1 means one.
func (s *Sweeper) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	s.parallelism = n
}

// Sweep cancels every active listing whose expiry has passed. Races with
// purchases are decided by the store; a listing closed first is reported
// as lost. The returned error joins the failures.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.e.clock()
	expired, err := s.e.store.List(ctx, types.ListingFilter{
		State:         types.StateActive,
		ExpiresBefore: now,
	})
	if err != nil {
		return res, fmt.Errorf("listing expired: %w", err)
	}
	if len(expired) == 0 {
		return res, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, l := range expired {
		id := l.ListingID
		g.Go(func() error {
			_, cerr := s.e.Cancel(gctx, id, s.e.cfg.ExpiryAuthority)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case cerr == nil:
				res.Cancelled = append(res.Cancelled, id)
			case errors.Is(cerr, types.ErrInvalidState) && !errors.Is(cerr, types.ErrReleaseIncomplete):
				res.Lost = append(res.Lost, id)
			default:
				res.Failed = append(res.Failed, id)
				errs = append(errs, cerr)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.e.log.WithField("cancelled", len(res.Cancelled)).
		WithField("lost", len(res.Lost)).
		WithField("failed", len(res.Failed)).
		Info("expiry sweep finished")
	return res, errors.Join(errs...)
}

// Start runs Sweep on a cron schedule (for example "@every 1m") until
// Stop is called.
func (s *Sweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.e.log.WithError(err).Error("expiry sweep had failures")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
