// Package escrow implements the listing state machine and the settlement
// coordinator. The store's compare-and-transition is the only arbiter
// between concurrent callers; the engine holds no lock across adapter
// calls.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/stall/internal/logging"
	"github.com/mesh-intelligence/stall/internal/metrics"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// TracerName is the instrumentation name of the engine's spans.
const TracerName = "github.com/mesh-intelligence/stall/internal/escrow"

// Operation names used for spans, metrics, and ListingError.Op.
const (
	OpOpen       = "open"
	OpCancel     = "cancel"
	OpPurchase   = "purchase"
	OpReconcile  = "reconcile"
	OpInitialize = "initialize"
	OpWhitelist  = "whitelist"
)

// Engine runs listing operations against a store and the external asset
// and payment ledgers. Engine methods are safe for concurrent use.
type Engine struct {
	store       types.Store
	assets      types.AssetLedger
	payments    types.PaymentCapturer
	collections types.CollectionResolver // nil when the ledger cannot resolve collections
	cfg         types.Config

	log     *logrus.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	clock   func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards output.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracerProvider sets the provider spans are created from. The default
// is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(TracerName) }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator overrides listing ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithCollectionResolver sets the collection resolver explicitly. By
// default the asset ledger is used when it implements one.
func WithCollectionResolver(r types.CollectionResolver) Option {
	return func(e *Engine) { e.collections = r }
}

// New creates an engine. cfg is completed with defaults and validated.
func New(store types.Store, assets types.AssetLedger, payments types.PaymentCapturer, cfg types.Config, opts ...Option) (*Engine, error) {
	if store == nil || assets == nil || payments == nil {
		return nil, fmt.Errorf("escrow engine: store, asset ledger and payment capturer are required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:    store,
		assets:   assets,
		payments: payments,
		cfg:      cfg,
		log:      logging.Discard(),
		tracer:   otel.Tracer(TracerName),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    generateUUID,
	}
	if r, ok := assets.(types.CollectionResolver); ok {
		e.collections = r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() types.Config { return e.cfg }

// Store returns the underlying store.
func (e *Engine) Store() types.Store { return e.store }

// generateUUID generates a new UUID v7 for listing IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

// opScope ties a span, a duration metric, and a log entry to one call.
type opScope struct {
	e     *Engine
	op    string
	span  trace.Span
	start time.Time
	log   *logrus.Entry
}

func (e *Engine) begin(ctx context.Context, op, id string) (context.Context, *opScope) {
	ctx, span := e.tracer.Start(ctx, "stall."+op,
		trace.WithAttributes(attribute.String("listing.id", id)))
	return ctx, &opScope{
		e:     e,
		op:    op,
		span:  span,
		start: time.Now(),
		log:   e.log.WithFields(logrus.Fields{"op": op, "listing_id": id}),
	}
}

// setID records an ID assigned after the scope began.
func (s *opScope) setID(id string) {
	s.span.SetAttributes(attribute.String("listing.id", id))
	s.log = s.log.WithField("listing_id", id)
}

func (s *opScope) end(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
	s.e.metrics.ObserveOperation(s.op, time.Since(s.start))
}

// fail builds the ListingError every engine operation returns.
func fail(op, id string, kind, cause error) error {
	return &types.ListingError{Op: op, ListingID: id, Kind: kind, Err: cause}
}

// storeKinds are the store sentinels surfaced as an error kind.
var storeKinds = []error{
	types.ErrNotFound,
	types.ErrStoreClosed,
	types.ErrStaleState,
	types.ErrInvalidState,
	types.ErrDuplicateListing,
	types.ErrAlreadyInitialized,
}

// storeKind classifies a store error. Unclassified errors have no kind.
func storeKind(err error) error {
	for _, k := range storeKinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// retry calls fn until it succeeds or the configured attempts run out,
// sleeping with exponential backoff between tries.
func (e *Engine) retry(ctx context.Context, log *logrus.Entry, what string, fn func(context.Context) error) error {
	attempts := e.cfg.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    e.cfg.Retry.MinDelay,
		Max:    e.cfg.Retry.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// b.Attempt() starts from zero
		n := int(b.Attempt()) + 1
		if n >= attempts {
			return fmt.Errorf("%s: exhausted %d attempts: %w", what, attempts, err)
		}
		wait := b.Duration()
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": n,
			"wait":    wait,
		}).Warn(what + " failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(fmt.Errorf("%s: %w", what, err), ctx.Err())
		case <-timer.C:
		}
	}
}

// releaseTo moves the asset out of escrow to owner, with retries. It runs
// on a context detached from the caller's cancellation because it
// completes a state change that has already been decided.
func (e *Engine) releaseTo(ctx context.Context, log *logrus.Entry, asset types.AssetRef, owner string) error {
	ctx = context.WithoutCancel(ctx)
	return e.retry(ctx, log, "custody release", func(ctx context.Context) error {
		if err := e.assets.TransferCustody(ctx, asset, e.cfg.EscrowAccount, owner); err != nil {
			return fmt.Errorf("%w: %w", types.ErrTransfer, err)
		}
		return nil
	})
}
