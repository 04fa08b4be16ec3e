package webhook

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"embygram/internal/emby"
	"embygram/internal/metrics"
	"embygram/pkg/logx"
)

const maxBodyBytes = 1 << 20

const (
	statusSuccess = "success"
	statusIgnored = "ignored"
	statusError   = "error"
)

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status             string `json:"status"`
	TelegramConfigured bool   `json:"telegram_configured"`
	PendingBatches     int    `json:"pending_batches"`
}

type indexResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Service) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)

	r.Get("/", s.handleIndex(cfg))
	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.EnableProfiler {
		r.Mount("/debug", chimw.Profiler())
	}
	return r
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		s.log.Warn("empty or unreadable webhook body", logx.Err(err))
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		respondJSON(w, http.StatusBadRequest, response{Status: statusError, Message: "Empty request"})
		return
	}

	event, ok := emby.GetEventType(body)
	if !ok {
		s.log.Warn("webhook body carries no event marker", logx.Int("bytes", len(body)))
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		respondJSON(w, http.StatusBadRequest, response{Status: statusError, Message: "Empty request"})
		return
	}
	if event != emby.EventLibraryNew {
		s.log.Debug("ignoring event", logx.String("event", event))
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		respondJSON(w, http.StatusOK, response{Status: statusIgnored, Message: fmt.Sprintf("Event %s ignored", event)})
		return
	}

	attrs, ok := s.deps.Extractor.Extract(body)
	if !ok {
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		respondJSON(w, http.StatusInternalServerError, response{Status: statusError, Message: "Failed to process notification"})
		return
	}

	if s.deps.Enricher != nil {
		s.deps.Enricher.Enrich(r.Context(), &attrs)
	}

	if err := s.deps.Engine.Submit(r.Context(), attrs); err != nil {
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		respondJSON(w, http.StatusInternalServerError, response{Status: statusError, Message: "Failed to process notification"})
		return
	}

	metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	respondJSON(w, http.StatusOK, response{Status: statusSuccess, Message: "Notification queued"})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:             "ok",
		TelegramConfigured: s.deps.Telegram.IsConfigured(),
		PendingBatches:     s.deps.Engine.Pending(),
	})
}

func (s *Service) handleIndex(cfg Config) http.HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	endpoints := map[string]string{
		"webhook": "/webhook (POST)",
		"health":  "/health (GET)",
	}
	if cfg.EnableMetrics {
		endpoints["metrics"] = "/metrics (GET)"
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, indexResponse{
			Name:      "embygram",
			Version:   version,
			Endpoints: endpoints,
		})
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("elapsed", time.Since(start)),
				logx.String("remote", r.RemoteAddr))
		})
	}
}
