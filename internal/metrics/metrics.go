package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	OpenChannels *prometheus.GaugeVec // kind label: location|route

	LocationsApplied prometheus.Counter
	LocationErrors   *prometheus.CounterVec // reason label: malformed|unknown_bus|store
	RouteUpserts     prometheus.Counter
	RouteErrors      *prometheus.CounterVec

	TokensIssued prometheus.Counter
	AuthFailures prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	MQTTIngested   prometheus.Counter
	MQTTIngestErrs prometheus.Counter

	FrameDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		OpenChannels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bustracker_open_channels",
			Help: "Number of currently open live update channels.",
		}, []string{"kind"}),
		LocationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_locations_applied_total",
			Help: "Total position updates applied to the history store.",
		}),
		LocationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_location_errors_total",
			Help: "Total rejected position updates.",
		}, []string{"reason"}),
		RouteUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_route_upserts_total",
			Help: "Total route transit upserts applied.",
		}),
		RouteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_route_errors_total",
			Help: "Total rejected route transit submissions.",
		}, []string{"reason"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_tokens_issued_total",
			Help: "Total bearer tokens issued.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_auth_failures_total",
			Help: "Total failed authentication attempts.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Total NATS position messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		MQTTIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_mqtt_ingested_total",
			Help: "Total position updates ingested over the MQTT bridge.",
		}),
		MQTTIngestErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_mqtt_ingest_errors_total",
			Help: "Total MQTT bridge payloads rejected.",
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_frame_duration_seconds",
			Help:    "Duration of decode-validate-apply for one channel frame.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.OpenChannels,
		c.LocationsApplied, c.LocationErrors,
		c.RouteUpserts, c.RouteErrors,
		c.TokensIssued, c.AuthFailures,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.MQTTIngested, c.MQTTIngestErrs,
		c.FrameDuration,
	)

	return c
}

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
