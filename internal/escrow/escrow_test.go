package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mesh-intelligence/stall/internal/ledger"
	"github.com/mesh-intelligence/stall/internal/memory"
	"github.com/mesh-intelligence/stall/internal/metrics"
	"github.com/mesh-intelligence/stall/pkg/types"
)

var errLedgerDown = errors.New("ledger unavailable")

// flakyLedger wraps the local ledger with injectable failures.
type flakyLedger struct {
	*ledger.Ledger

	mu            sync.Mutex
	transferFails map[string]int // "from>to" -> failures left; negative fails forever
	captureFails  int
	transfers     int
}

func newFlakyLedger() *flakyLedger {
	return &flakyLedger{Ledger: ledger.New(), transferFails: make(map[string]int)}
}

func (f *flakyLedger) failTransfers(from, to string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferFails[from+">"+to] = n
}

func (f *flakyLedger) failCaptures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureFails = n
}

func (f *flakyLedger) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transfers
}

func (f *flakyLedger) TransferCustody(ctx context.Context, asset types.AssetRef, from, to string) error {
	f.mu.Lock()
	f.transfers++
	key := from + ">" + to
	if n, ok := f.transferFails[key]; ok && n != 0 {
		if n > 0 {
			f.transferFails[key] = n - 1
		}
		f.mu.Unlock()
		return errLedgerDown
	}
	f.mu.Unlock()
	return f.Ledger.TransferCustody(ctx, asset, from, to)
}

func (f *flakyLedger) Capture(ctx context.Context, payment types.Price, from, to string) error {
	f.mu.Lock()
	if f.captureFails != 0 {
		if f.captureFails > 0 {
			f.captureFails--
		}
		f.mu.Unlock()
		return errLedgerDown
	}
	f.mu.Unlock()
	return f.Ledger.Capture(ctx, payment, from, to)
}

// failingStore rejects every Create.
type failingStore struct {
	types.Store
}

func (failingStore) Create(context.Context, *types.Listing) error {
	return errors.New("disk full")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine  *Engine
	store   types.Store
	ledger  *flakyLedger
	clock   *clock
	metrics *metrics.Collector
	spans   *tracetest.SpanRecorder
}

type harnessOption func(*types.Config, *types.Store)

func withConfig(fn func(*types.Config)) harnessOption {
	return func(c *types.Config, _ *types.Store) { fn(c) }
}

func withStore(fn func(types.Store) types.Store) harnessOption {
	return func(_ *types.Config, s *types.Store) { *s = fn(*s) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := types.Config{
		Backend: types.BackendMemory,
		Retry:   types.RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	var store types.Store = memory.New()
	for _, opt := range opts {
		opt(&cfg, &store)
	}

	h := &harness{
		store:   store,
		ledger:  newFlakyLedger(),
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.NewCollector(),
		spans:   tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	e, err := New(store, h.ledger, h.ledger, cfg,
		WithClock(h.clock.Now),
		WithMetrics(h.metrics),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() { store.Close() })
	return h
}

// mint gives owner a fresh asset in the verified "apes" collection.
func (h *harness) mint(t *testing.T, id, owner string) types.AssetRef {
	t.Helper()
	require.NoError(t, h.ledger.Mint(ledger.Asset{ID: id, Owner: owner, Collection: "apes", Verified: true}))
	return types.AssetRef{ID: id}
}

func (h *harness) owner(t *testing.T, asset types.AssetRef) string {
	t.Helper()
	o, err := h.ledger.QueryCustody(context.Background(), asset)
	require.NoError(t, err)
	return o
}

// open lists a fresh asset of seller at price 50 SOL.
func (h *harness) open(t *testing.T, seller, assetID string) *types.Listing {
	t.Helper()
	asset := h.mint(t, assetID, seller)
	l, err := h.engine.Open(context.Background(), seller, asset, types.NewPrice(50, "SOL"))
	require.NoError(t, err)
	return l
}

func (h *harness) metricsText(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, h.metrics.WriteText(&b))
	return b.String()
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, types.Config{Backend: types.BackendMemory})
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	l := ledger.New()
	_, err := New(memory.New(), l, l, types.Config{
		Backend:         types.BackendMemory,
		EscrowAccount:   "same",
		ExpiryAuthority: "same",
	})
	require.ErrorIs(t, err, types.ErrAccountConflict)
}
