// Command server is the reference upload-pipeline HTTP server: it exposes
// spec §6's routes over raw net/http (no framework, matching
// bootstrap/main.go's style) and calls straight into the internal/upload
// orchestrator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/imagelab/relay/internal/config"
	"github.com/imagelab/relay/internal/events"
	"github.com/imagelab/relay/internal/noise"
	"github.com/imagelab/relay/internal/observability"
	"github.com/imagelab/relay/internal/ratelimit"
	"github.com/imagelab/relay/internal/upload"
	"github.com/imagelab/relay/internal/validation"
)

// validateConfig sanity-checks the loaded configuration before anything
// binds to it: a malformed listen address or data directory should fail
// fast at startup, not surface as a confusing runtime error on the first
// request.
func validateConfig(cfg *config.Config) error {
	if err := validation.ValidateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if err := validation.ValidateFilePath(cfg.DataDir, false); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if err := validation.ValidateFilePath(cfg.KeysDirectory, false); err != nil {
		return fmt.Errorf("keys_dir: %w", err)
	}
	if err := validation.ValidateRangeInt(cfg.DefaultRSK, 1, cfg.DefaultRSN-1); err != nil {
		return fmt.Errorf("default_rs_k must be less than default_rs_n: %w", err)
	}
	return nil
}

// ipRateLimiter hands out one golang.org/x/time/rate.Limiter per client IP,
// lazily created on first sight, grounded on bootstrap/main.go's
// getRateLimiter limiter-map pattern. This guards the HTTP surface itself
// (every route, per caller); it is a different concern from
// ratelimit.TokenBucket, a single server-wide bucket that paces chunk and
// parity ingestion across all callers and all uploads.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newIPRateLimiter(perMinute float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.get(host).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "request rate exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiServer struct {
	orch      *upload.Orchestrator
	publisher *events.Publisher
	limiter   *ratelimit.TokenBucket
	logger    *observability.Logger
	metrics   *observability.Metrics
}

func main() {
	listenAddr := flag.String("listen-addr", "", "override IMAGE_LAB_LISTEN_ADDR")
	dataDir := flag.String("data-dir", "", "override IMAGE_LAB_DATA_DIR")
	flag.Parse()

	logger := observability.NewLogger("imagelab-server", "1.0.0", os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err, "failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := validateConfig(cfg); err != nil {
		logger.Fatal(err, "invalid configuration")
	}

	metrics := observability.NewMetrics(cfg.MetricsWindowSeconds)
	health := observability.NewHealthChecker("1.0.0")
	health.RegisterCheck("http_listener", observability.HTTPListenerCheck(cfg.ListenAddr))
	health.RegisterCheck("data_dir", observability.DataDirCheck(cfg.DataDir))
	health.RegisterCheck("disk_space", observability.DiskSpaceCheck(cfg.DataDir, cfg.MinFreeDiskGB))

	if shutdown, err := observability.InitTracing(context.Background(), "imagelab-server"); err == nil {
		defer shutdown(context.Background())
	}

	orch, err := upload.NewOrchestrator(cfg.DataDir, cfg.NoiseSeed, upload.Options{
		ChunkSize:  cfg.MaxChunkSize,
		DefaultRSN: cfg.DefaultRSN,
		DefaultRSK: cfg.DefaultRSK,
	})
	if err != nil {
		logger.Fatal(err, "failed to initialize upload orchestrator")
	}

	srv := &apiServer{
		orch:      orch,
		publisher: events.NewPublisher(cfg.SSEQueueSize),
		limiter:   ratelimit.NewTokenBucket(cfg.ChunkIngestRate, cfg.ChunkIngestBurst),
		logger:    logger,
		metrics:   metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/handshake", srv.handleHandshake)
	mux.HandleFunc("/api/upload", srv.handleUploadInit)
	mux.HandleFunc("/api/chunk", srv.handleChunk(false))
	mux.HandleFunc("/api/parity", srv.handleChunk(true))
	mux.HandleFunc("/api/finish", srv.handleFinish)
	mux.HandleFunc("/api/config/channel", srv.handleConfigChannel)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/events", srv.handleEvents)
	mux.HandleFunc("/api/image/", srv.handleImageRaw)
	mux.Handle("/api/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())

	ipLimiter := newIPRateLimiter(cfg.HTTPRatePerMinute, cfg.HTTPRateBurst)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: ipLimiter.middleware(mux)}
	logger.Info("imagelab server listening on " + cfg.ListenAddr)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info("server stopped")
}

type handshakeRequest struct {
	ClientPublicKey string `json:"client_public_key"`
}

func (s *apiServer) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected POST")
		return
	}
	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordHandshake(false)
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	resp, err := s.orch.Handshake(req.ClientPublicKey)
	if err != nil {
		s.metrics.RecordHandshake(false)
		s.logger.HandshakeFailed(r.RemoteAddr, err)
		writeUploadError(w, err)
		return
	}
	s.metrics.RecordHandshake(true)
	s.logger.HandshakeEstablished(r.RemoteAddr, resp.SessionID)
	s.publisher.Publish(events.Event{
		Label:     events.Handshake,
		Timestamp: time.Now(),
		Data:      map[string]any{"session_id": resp.SessionID},
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected POST")
		return
	}
	var req upload.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	resp, err := s.orch.InitUpload(req)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	s.metrics.RecordUploadStart()
	s.logger.UploadInitiated(resp.FileID, req.Filename, 0, req.Pipeline.FEC.Mode)
	s.publisher.Publish(events.Event{
		Label:     events.UploadInit,
		FileID:    resp.FileID,
		Timestamp: time.Now(),
		Data:      map[string]any{"filename": req.Filename},
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleChunk(isParity bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected POST")
			return
		}
		if !s.limiter.Allow(1) {
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "chunk ingestion rate exceeded")
			return
		}
		var req upload.ChunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}

		var stats noise.Stats
		var err error
		if isParity {
			stats, err = s.orch.IngestParity(req)
		} else {
			stats, err = s.orch.IngestChunk(req)
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}

		s.metrics.RecordChunkIngested("ingest", len(req.Payload))
		if stats.Loss > 0 {
			s.metrics.RecordChunkDropped("loss")
		}
		s.logger.ChunkIngested(req.FileID, req.Sequence, len(req.Payload), isParity)
		s.publisher.Publish(events.Event{
			Label:     events.Chunk,
			FileID:    req.FileID,
			Timestamp: time.Now(),
			Data: map[string]any{
				"sequence":  req.Sequence,
				"is_parity": isParity,
				"loss":      stats.Loss,
				"bitflips":  stats.BitFlips,
			},
		})
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *apiServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected POST")
		return
	}
	var req struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	start := time.Now()
	result, err := s.orch.Finish(r.Context(), req.FileID)
	if err != nil {
		s.metrics.RecordUploadComplete(false, time.Since(start).Seconds())
		if upErr, ok := upload.AsError(err); ok {
			s.metrics.RecordStageFailure("finish", upErr.Kind.String())
			s.logger.StageFailed(req.FileID, "finish", upErr.Kind.String(), upErr.Msg)
		}
		writeUploadError(w, err)
		return
	}

	s.metrics.RecordUploadComplete(true, time.Since(start).Seconds())
	s.logger.UploadCompleted(result.FileID, 0, time.Since(start), false)
	s.publisher.Publish(events.Event{
		Label:     events.StageMetrics,
		FileID:    result.FileID,
		Timestamp: time.Now(),
		Data:      map[string]any{"stages": result.Stages},
	})
	s.publisher.Publish(events.Event{
		Label:     events.ImageReady,
		FileID:    result.FileID,
		Timestamp: time.Now(),
		Data:      map[string]any{"saved_path": result.SavedPath},
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleConfigChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected POST")
		return
	}
	var cfg noise.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	clamped := s.orch.ConfigureChannel(cfg)
	s.metrics.SetChannelConfig(clamped.Loss, clamped.BER)
	s.publisher.Publish(events.Event{
		Label:     events.NoiseConfig,
		Timestamp: time.Now(),
		Data: map[string]any{
			"loss": clamped.Loss, "ber": clamped.BER,
			"duplicate": clamped.Duplicate, "reorder": clamped.Reorder,
		},
	})
	writeJSON(w, http.StatusOK, clamped)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected GET")
		return
	}
	fileID := r.URL.Query().Get("file_id")
	status, err := s.orch.Status(fileID)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "UNRECOVERABLE", "streaming unsupported")
		return
	}

	sub := s.publisher.Subscribe(r.URL.Query().Get("file_id"))
	defer s.publisher.Unsubscribe(sub.ID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Label, payload)
			flusher.Flush()
		}
	}
}

func (s *apiServer) handleImageRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "expected GET")
		return
	}
	fileID, ok := parseImageRawPath(r.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "unrecognized image path")
		return
	}
	status, err := s.orch.Status(fileID)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	if !status.Ready {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "image not finished")
		return
	}
	path := s.orch.FinalPath(fileID)
	http.ServeFile(w, r, path)
}

// parseImageRawPath extracts file_id from "/api/image/{file_id}/raw".
func parseImageRawPath(p string) (string, bool) {
	const prefix = "/api/image/"
	const suffix = "/raw"
	if len(p) <= len(prefix)+len(suffix) {
		return "", false
	}
	if p[:len(prefix)] != prefix || p[len(p)-len(suffix):] != suffix {
		return "", false
	}
	return p[len(prefix) : len(p)-len(suffix)], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type jsonError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, jsonError{Code: code, Message: msg})
}

func writeUploadError(w http.ResponseWriter, err error) {
	if upErr, ok := upload.AsError(err); ok {
		writeJSONError(w, upErr.Kind.HTTPStatus(), upErr.Kind.String(), upErr.Msg)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "UNRECOVERABLE", err.Error())
}
