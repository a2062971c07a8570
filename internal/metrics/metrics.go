package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lizi/internal/model"
)

type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	fetched       prometheus.Counter
	outcomes      *prometheus.CounterVec
	statusErrors  prometheus.Counter
	ingested      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge

	mu   sync.RWMutex
	snap Snapshot
}

type Snapshot struct {
	Cycles       int                  `json:"cycles"`
	FetchErrors  int                  `json:"fetch_errors"`
	Fetched      int                  `json:"fetched"`
	StatusErrors int                  `json:"status_errors"`
	Outcomes     map[model.Action]int `json:"outcomes"`
	Ingested     map[string]int       `json:"ingested"`
	LastCycleAt  *time.Time           `json:"last_cycle_at,omitempty"`
	Cursor       *time.Time           `json:"cursor,omitempty"`
}

func NewCollector(registry *prometheus.Registry) (*Collector, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lizi_poll_cycles_total",
			Help: "Poll cycles by result",
		}, []string{"result"}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lizi_reviews_fetched_total",
			Help: "Waiting reviews returned by the review source",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lizi_review_outcomes_total",
			Help: "Reconciled reviews by action",
		}, []string{"action"}),
		statusErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lizi_review_status_errors_total",
			Help: "Failed writes of a review's terminal status",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lizi_reviews_ingested_total",
			Help: "Review messages received from upstream by source and result",
		}, []string{"source", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lizi_poll_cycle_duration_seconds",
			Help:    "Time spent fetching and processing one batch",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lizi_last_poll_cycle_timestamp_seconds",
			Help: "Unix time of the last completed poll cycle",
		}),
		snap: Snapshot{
			Outcomes: make(map[model.Action]int),
			Ingested: make(map[string]int),
		},
	}
	for _, col := range []prometheus.Collector{
		c.cycles, c.fetched, c.outcomes, c.statusErrors, c.ingested, c.cycleDuration, c.lastCycle,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveCycle(fetched int, took time.Duration, cursor time.Time) {
	c.cycles.WithLabelValues("ok").Inc()
	c.fetched.Add(float64(fetched))
	c.cycleDuration.Observe(took.Seconds())
	now := time.Now().UTC()
	c.lastCycle.Set(float64(now.Unix()))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Cycles++
	c.snap.Fetched += fetched
	c.snap.LastCycleAt = &now
	cur := cursor
	c.snap.Cursor = &cur
}

func (c *Collector) ObserveFetchError() {
	c.cycles.WithLabelValues("fetch_error").Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.FetchErrors++
}

func (c *Collector) ObserveOutcome(action model.Action) {
	c.outcomes.WithLabelValues(string(action)).Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Outcomes[action]++
}

func (c *Collector) ObserveStatusError() {
	c.statusErrors.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.StatusErrors++
}

func (c *Collector) ObserveIngest(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	c.ingested.WithLabelValues(source, result).Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Ingested[source+"/"+result]++
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.snap
	out.Outcomes = make(map[model.Action]int, len(c.snap.Outcomes))
	for k, v := range c.snap.Outcomes {
		out.Outcomes[k] = v
	}
	out.Ingested = make(map[string]int, len(c.snap.Ingested))
	for k, v := range c.snap.Ingested {
		out.Ingested[k] = v
	}
	return out
}
