package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds engine prometheus collectors
type Metrics struct {
	requests      *prometheus.CounterVec
	fallbacks     prometheus.Counter
	trainDuration prometheus.Histogram
	articles      prometheus.Gauge
	pending       prometheus.Gauge
}

// NewMetrics makes engine collectors and registers them with reg, nil reg leaves them unregistered
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrec",
			Name:      "recommendation_requests_total",
			Help:      "Recommendation requests by kind",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrec",
			Name:      "content_fallbacks_total",
			Help:      "Requests where the last visited article had no content vector",
		}),
		trainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrec",
			Name:      "train_duration_seconds",
			Help:      "Time to rebuild engine state",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		articles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsrec",
			Name:      "articles",
			Help:      "Articles in the current state, pending included",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsrec",
			Name:      "pending_articles",
			Help:      "Articles added after the last training",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.fallbacks, m.trainDuration, m.articles, m.pending)
	}
	return m
}
