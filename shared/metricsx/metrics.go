package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_appended_total",
			Help: "Events appended to the event log by type.",
		},
		[]string{"event_type"},
	)
	eventsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_purged_total",
			Help: "Events removed by the retention sweep.",
		},
	)
	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Best-effort event notification failures by publisher.",
		},
		[]string{"publisher"},
	)
	feedStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_connection_status",
			Help: "1 for the current connection status of each feed.",
		},
		[]string{"feed", "status"},
	)
	feedFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_failures_total",
			Help: "Feed connection or poll failures.",
		},
		[]string{"feed"},
	)
	feedSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_skipped_values_total",
			Help: "Upstream values dropped by feed parsers.",
		},
		[]string{"feed", "reason"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	aiFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_completion_failures_total",
			Help: "Total AI completion failures.",
		},
	)
	aiSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_completion_success_total",
			Help: "Total AI completion successes.",
		},
	)
	aiLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_completion_latency_seconds",
			Help:    "AI completion latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	analysisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mission_analysis_total",
			Help: "Mission analyses by intent, result source and degradation.",
		},
		[]string{"intent", "source", "degraded"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic and group.",
		},
		[]string{"topic", "group"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpLatency, eventsAppended, eventsPurged, publishFailures, feedStatus, feedFailures, feedSkipped, influxWriteFailures, aiFailures, aiSuccess, aiLatency, analysisRequests, kafkaConsumerLag, asynqQueueDepth)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEventAppended(eventType string) {
	eventsAppended.WithLabelValues(eventType).Inc()
}

func AddEventsPurged(n int) {
	if n > 0 {
		eventsPurged.Add(float64(n))
	}
}

func IncPublishFailure(publisher string) {
	publishFailures.WithLabelValues(publisher).Inc()
}

// SetFeedStatus marks status as current for feed and clears the others.
func SetFeedStatus(feed string, status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		feedStatus.WithLabelValues(feed, s).Set(v)
	}
}

func IncFeedFailure(feed string) {
	feedFailures.WithLabelValues(feed).Inc()
}

func IncFeedSkipped(feed string, reason string) {
	feedSkipped.WithLabelValues(feed, reason).Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncAIFailure() {
	aiFailures.Inc()
}

func IncAISuccess() {
	aiSuccess.Inc()
}

func ObserveAILatency(d time.Duration) {
	aiLatency.Observe(d.Seconds())
}

func IncAnalysis(intent string, source string, degraded bool) {
	analysisRequests.WithLabelValues(intent, source, strconv.FormatBool(degraded)).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
