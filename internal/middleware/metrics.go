package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"kind"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// Synthesis metrics
	synthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_synth_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	synthDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiceclone_bot_synth_duration_seconds",
		Help:    "Duration of synthesis engine calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	embedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_embed_requests_total",
		Help: "Total number of embedding creation requests",
	}, []string{"status"})

	// Moderation metrics
	moderationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_moderation_verdicts_total",
		Help: "Total number of moderation verdicts",
	}, []string{"verdict"})

	strikesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceclone_bot_strikes_issued_total",
		Help: "Total number of strikes issued",
	})

	blacklistAdditions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceclone_bot_blacklist_additions_total",
		Help: "Total number of users added to the blacklist",
	})

	blacklistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceclone_bot_blacklist_size",
		Help: "Number of blacklisted users",
	})

	// Queue metrics
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceclone_bot_engine_queue_depth",
		Help: "Number of jobs waiting for the voice engine",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"user_id"})

	// Storage metrics
	storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceclone_bot_store_operations_total",
		Help: "Total number of store operations",
	}, []string{"operation", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message by kind (text, voice, ...)
func (m *Metrics) RecordMessageReceived(kind string) {
	messagesReceived.WithLabelValues(kind).Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordSynthRequest records a synthesis engine call
func (m *Metrics) RecordSynthRequest(status string, duration time.Duration) {
	synthRequests.WithLabelValues(status).Inc()
	synthDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordEmbedRequest records an embedding creation call
func (m *Metrics) RecordEmbedRequest(status string) {
	embedRequests.WithLabelValues(status).Inc()
}

// RecordModerationVerdict records a moderation outcome (clear, flagged, blocked)
func (m *Metrics) RecordModerationVerdict(verdict string) {
	moderationVerdicts.WithLabelValues(verdict).Inc()
}

// RecordStrikeIssued records one issued strike
func (m *Metrics) RecordStrikeIssued() {
	strikesIssued.Inc()
}

// RecordBlacklistAddition records a blacklist promotion
func (m *Metrics) RecordBlacklistAddition() {
	blacklistAdditions.Inc()
}

// SetBlacklistSize sets the blacklist size gauge
func (m *Metrics) SetBlacklistSize(n float64) {
	blacklistSize.Set(n)
}

// SetQueueDepth sets the engine queue depth gauge
func (m *Metrics) SetQueueDepth(n float64) {
	queueDepth.Set(n)
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(userID string) {
	rateLimitExceeded.WithLabelValues(userID).Inc()
}

// RecordStoreOperation records a store operation
func (m *Metrics) RecordStoreOperation(operation, status string) {
	storeOperations.WithLabelValues(operation, status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
