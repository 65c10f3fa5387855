// Package metrics defines the prometheus collectors for the flasher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace         = "piflash"
	InstallSubsystem  = "install"
	ObserverSubsystem = "observer"
	HTTPSubsystem     = "http"
)

var (
	Installs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "runs_total",
		Namespace: Namespace,
		Subsystem: InstallSubsystem,
		Help:      "Install runs by terminal result (completed or error kind)",
	}, []string{"result"})

	InstallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Namespace: Namespace,
		Subsystem: InstallSubsystem,
		Help:      "Duration of install runs that reached the writer",
		Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
	})

	InstallsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "in_flight",
		Namespace: Namespace,
		Subsystem: InstallSubsystem,
		Help:      "1 while an install pipeline is running",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "subscribers",
		Namespace: Namespace,
		Subsystem: ObserverSubsystem,
		Help:      "Currently connected observers",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "events_published_total",
		Namespace: Namespace,
		Subsystem: ObserverSubsystem,
		Help:      "Pipeline events published, by type",
	}, []string{"type"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "events_dropped_total",
		Namespace: Namespace,
		Subsystem: ObserverSubsystem,
		Help:      "Events dropped because an observer's buffer was full",
	})

	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "requests_total",
		Namespace: Namespace,
		Subsystem: HTTPSubsystem,
		Help:      "Total number of HTTP requests",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "request_duration_seconds",
		Namespace: Namespace,
		Subsystem: HTTPSubsystem,
		Help:      "Duration of HTTP requests",
	}, []string{"path"})
)
