// Package metrics provides escrow engine metrics collection.
// It wraps Prometheus collectors for listing lifecycle, purchase
// outcomes, incomplete settlements, and custody compensation.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every metric name.
const Namespace = "stall"

// Purchase results recorded by RecordPurchase.
const (
	ResultSuccess    = "success"
	ResultLost       = "lost"
	ResultRejected   = "rejected"
	ResultIncomplete = "incomplete"
	ResultFailed     = "failed"
)

// Collector holds the engine's Prometheus collectors in a private
// registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	listingsOpened       prometheus.Counter
	listingsClosed       *prometheus.CounterVec
	purchaseAttempts     *prometheus.CounterVec
	settlementIncomplete *prometheus.CounterVec
	compensations        *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	listings             *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.listingsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "listings_opened_total",
		Help:      "Listings created with the asset in escrow custody",
	})
	c.listingsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "listings_closed_total",
		Help:      "Listings moved to a terminal state",
	}, []string{"state"})
	c.purchaseAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "purchase_attempts_total",
		Help:      "Purchase attempts by result",
	}, []string{"result"})
	c.settlementIncomplete = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "settlement_incomplete_total",
		Help:      "Committed purchases whose settlement failed, by stage",
	}, []string{"stage"})
	c.compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "compensations_total",
		Help:      "Custody returns to the seller by result",
	}, []string{"result"})
	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of engine operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"op"})
	c.listings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "listings",
		Help:      "Listings in the store by state",
	}, []string{"state"})

	c.registry.MustRegister(
		c.listingsOpened,
		c.listingsClosed,
		c.purchaseAttempts,
		c.settlementIncomplete,
		c.compensations,
		c.operationDuration,
		c.listings,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordOpened counts a created listing.
func (c *Collector) RecordOpened() {
	if c == nil {
		return
	}
	c.listingsOpened.Inc()
}

// RecordClosed counts a terminal transition.
func (c *Collector) RecordClosed(state string) {
	if c == nil {
		return
	}
	c.listingsClosed.WithLabelValues(state).Inc()
}

// RecordPurchase counts a purchase attempt by result.
func (c *Collector) RecordPurchase(result string) {
	if c == nil {
		return
	}
	c.purchaseAttempts.WithLabelValues(result).Inc()
}

// RecordSettlementIncomplete counts a failed settlement stage.
func (c *Collector) RecordSettlementIncomplete(stage string) {
	if c == nil {
		return
	}
	c.settlementIncomplete.WithLabelValues(stage).Inc()
}

// RecordCompensation counts a custody return by outcome.
func (c *Collector) RecordCompensation(err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailed
	}
	c.compensations.WithLabelValues(result).Inc()
}

// ObserveOperation records how long op took.
func (c *Collector) ObserveOperation(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetListings sets the number of stored listings in state.
func (c *Collector) SetListings(state string, n int) {
	if c == nil {
		return
	}
	c.listings.WithLabelValues(state).Set(float64(n))
}

// WriteText writes all metrics in the Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	if c == nil {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
