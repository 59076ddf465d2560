package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the upload server.
type Metrics struct {
	// Upload metrics
	UploadsTotal        *prometheus.CounterVec
	UploadsActive       prometheus.Gauge
	UploadDuration      prometheus.Summary
	BytesProcessedTotal *prometheus.CounterVec
	ChunksIngestedTotal prometheus.Counter
	ChunksDroppedTotal  *prometheus.CounterVec

	// Channel metrics
	HandshakesTotal       *prometheus.CounterVec
	ChannelLossRate       prometheus.Gauge
	ChannelBERRate        prometheus.Gauge
	FECEnabled            prometheus.Gauge
	FECReconstructionsTotal        prometheus.Counter
	FECReconstructionFailuresTotal prometheus.Counter
	HammingCorrectionsTotal        prometheus.Counter

	// Crypto metrics
	CryptoOperationsTotal    *prometheus.CounterVec
	CryptoOperationDuration  prometheus.Summary
	MerkleVerificationsTotal *prometheus.CounterVec

	// Storage metrics
	PersistDuration    prometheus.Histogram
	StageFailuresTotal *prometheus.CounterVec
	DiskSpaceUsedBytes prometheus.Gauge

	activeUploads int64
}

// NewMetrics creates and registers all Prometheus metrics. windowSeconds
// (spec §6's metrics_window_seconds) sets the decay window for the
// summary-based latency metrics, so quantiles reflect recent behavior
// rather than the lifetime of the process.
func NewMetrics(windowSeconds int) *Metrics {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	window := time.Duration(windowSeconds) * time.Second
	quantiles := map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

	m := &Metrics{
		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_uploads_total",
				Help: "Total uploads initiated",
			},
			[]string{"status"},
		),

		UploadsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_uploads_active",
				Help: "Currently active uploads",
			},
		),

		UploadDuration: promauto.NewSummary(
			prometheus.SummaryOpts{
				Name:       "relay_upload_duration_seconds",
				Help:       "Upload init-to-finish completion time distribution",
				Objectives: quantiles,
				MaxAge:     window,
			},
		),

		BytesProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_bytes_processed_total",
				Help: "Total bytes processed, by pipeline stage",
			},
			[]string{"stage"},
		),

		ChunksIngestedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_chunks_ingested_total",
				Help: "Total chunk and parity requests ingested, before channel loss",
			},
		),

		ChunksDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_chunks_dropped_total",
				Help: "Chunks dropped by the noise engine, by cause",
			},
			[]string{"cause"},
		),

		HandshakesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_handshakes_total",
				Help: "X25519 handshake attempts",
			},
			[]string{"result"},
		),

		ChannelLossRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_channel_loss_rate",
				Help: "Configured envelope loss probability (0.0-1.0)",
			},
		),

		ChannelBERRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_channel_ber_rate",
				Help: "Configured per-bit error rate (0.0-1.0)",
			},
		),

		FECEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_fec_enabled",
				Help: "FEC currently enabled (0/1)",
			},
		),

		FECReconstructionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_fec_reconstructions_total",
				Help: "Shards reconstructed via Reed-Solomon parity",
			},
		),

		FECReconstructionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_fec_reconstruction_failures_total",
				Help: "Failed FEC reconstructions (erasures beyond parity budget)",
			},
		),

		HammingCorrectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_hamming_corrections_total",
				Help: "Nibbles corrected by the Hamming(7,4) decoder",
			},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewSummary(
			prometheus.SummaryOpts{
				Name:       "relay_crypto_operation_duration_seconds",
				Help:       "Crypto operation latency",
				Objectives: quantiles,
				MaxAge:     window,
			},
		),

		MerkleVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_merkle_verifications_total",
				Help: "Advisory Merkle root cross-checks at finish",
			},
			[]string{"result"},
		),

		PersistDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_persist_duration_seconds",
				Help:    "Final blob persistence latency",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),

		StageFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_stage_failures_total",
				Help: "Finish-pipeline failures, by stage and error kind",
			},
			[]string{"stage", "kind"},
		),

		DiskSpaceUsedBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_disk_space_used_bytes",
				Help: "Disk space used by persisted final blobs",
			},
		),
	}

	return m
}

// RecordUploadStart increments active upload counters.
func (m *Metrics) RecordUploadStart() {
	atomic.AddInt64(&m.activeUploads, 1)
	m.UploadsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))
}

// RecordUploadComplete records upload completion metrics.
func (m *Metrics) RecordUploadComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeUploads, -1)
	m.UploadsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.UploadsTotal.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordChunkIngested updates metrics for one ingested chunk or parity
// request, whether or not the noise engine then dropped its envelope.
func (m *Metrics) RecordChunkIngested(stage string, bytes int) {
	m.ChunksIngestedTotal.Inc()
	m.BytesProcessedTotal.WithLabelValues(stage).Add(float64(bytes))
}

// RecordChunkDropped increments the noise-engine drop counter for cause.
func (m *Metrics) RecordChunkDropped(cause string) {
	m.ChunksDroppedTotal.WithLabelValues(cause).Inc()
}

// RecordHandshake logs a handshake attempt's outcome.
func (m *Metrics) RecordHandshake(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.HandshakesTotal.WithLabelValues(result).Inc()
}

// SetChannelConfig publishes the active noise engine configuration.
func (m *Metrics) SetChannelConfig(loss, ber float64) {
	m.ChannelLossRate.Set(loss)
	m.ChannelBERRate.Set(ber)
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordMerkleVerification increments Merkle verification counters.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordFECReconstruction updates FEC reconstruction counters.
func (m *Metrics) RecordFECReconstruction(success bool) {
	if success {
		m.FECReconstructionsTotal.Inc()
	} else {
		m.FECReconstructionFailuresTotal.Inc()
	}
}

// RecordHammingCorrections adds n corrected nibbles to the running total.
func (m *Metrics) RecordHammingCorrections(n int) {
	for i := 0; i < n; i++ {
		m.HammingCorrectionsTotal.Inc()
	}
}

// RecordStageFailure increments the stage-failure counter for stage/kind.
func (m *Metrics) RecordStageFailure(stage, kind string) {
	m.StageFailuresTotal.WithLabelValues(stage, kind).Inc()
}

// SetFECEnabled sets the FEC enabled flag.
func (m *Metrics) SetFECEnabled(enabled bool) {
	if enabled {
		m.FECEnabled.Set(1)
	} else {
		m.FECEnabled.Set(0)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
