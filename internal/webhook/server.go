package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hookledger/internal/processor"
)

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	processor *processor.Processor
	logger    *slog.Logger
	server    *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, proc *processor.Processor, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]

		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader(ep.Provider)
		}
		if ep.Extractor.Provider == "" {
			ep.Extractor = NewExtractor(ep.Provider, "", "", "")
		}

		endpoints[ep.Path] = ep
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 45 * time.Second
	}

	return &Server{
		config:    config,
		processor: proc,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		// In-flight handlers get their full budget to finish and finalize.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook verifies, registers and runs one delivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	// Verification runs on the raw bytes, before anything is decoded.
	header := r.Header.Get(endpoint.SignatureHeader)
	if !endpoint.Verifier.Verify(endpoint.Provider, body, header, endpoint.Secret) {
		s.logger.Warn("webhook signature rejected",
			"path", r.URL.Path,
			"provider", endpoint.Provider,
			"header", endpoint.SignatureHeader,
			"header_present", header != "",
		)
		s.respondError(w, processor.StatusCode(processor.ErrSignatureInvalid), "invalid signature")
		return
	}

	eventID, eventType, err := endpoint.Extractor.Extract(r.Header, body)
	if err != nil {
		s.logger.Warn("webhook payload rejected",
			"path", r.URL.Path,
			"provider", endpoint.Provider,
			"error", err,
		)
		msg := "malformed payload"
		if errors.Is(err, ErrMissingEventID) {
			msg = "missing event id"
		}
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := processor.ProcessIdempotent(ctx, s.processor, processor.Delivery{
		Provider:  endpoint.Provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   body,
	}, endpoint.Handler)
	if err != nil {
		status := processor.StatusCode(err)
		s.logger.Log(ctx, levelFor(status), "webhook processing failed",
			"path", r.URL.Path,
			"provider", endpoint.Provider,
			"event_id", eventID,
			"kind", processor.Kind(err),
			"error", err,
		)
		s.respondError(w, status, publicMessage(err))
		return
	}

	resp := AcceptedResponse{
		Status:   StatusProcessed,
		EventID:  eventID,
		Attempts: res.Attempts,
	}
	if res.Skipped {
		resp.Status = StatusSkipped
	} else if res.Value != nil {
		resp.Result = res.Value.Result
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// publicMessage keeps store and handler internals off the wire.
func publicMessage(err error) string {
	switch processor.Kind(err) {
	case processor.KindConcurrentInFlight:
		return "event is already being processed; retry later"
	case processor.KindHandlerFailure:
		return "handler failed"
	case processor.KindStoreFailure:
		return "temporarily unavailable"
	}
	return "internal error"
}

func levelFor(status int) slog.Level {
	if status == http.StatusConflict {
		return slog.LevelInfo
	}
	return slog.LevelError
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
