package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/webitel/alert-relay-service/internal/adapter/broker"
	"github.com/webitel/alert-relay-service/internal/domain/model"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	"github.com/webitel/alert-relay-service/internal/service"
)

const (
	// MaxBodyBytes caps a /publish request body.
	MaxBodyBytes = 1 << 20

	publishedMessage     = "Alert received and broadcast"
	internalErrorMessage = "Internal server error"
)

// BridgeStater reports the current broker connection state.
type BridgeStater interface {
	State() broker.State
}

type Handler struct {
	relay   service.Relayer
	hub     registry.Hubber
	bridge  BridgeStater
	metrics http.Handler
	logger  *slog.Logger
}

func NewHandler(relay service.Relayer, hub registry.Hubber, bridge BridgeStater, metrics http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:   relay,
		hub:     hub,
		bridge:  bridge,
		metrics: metrics,
		logger:  logger,
	}
}

// Routes builds the ingress router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(TraceIDMiddleware)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(RecoverMiddleware(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", TraceIDHeader},
		ExposedHeaders: []string{TraceIDHeader},
		MaxAge:         300,
	}))

	r.Post("/publish", h.Publish)
	r.Get("/stats", h.Stats)
	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

type publishRequest struct {
	Message  *string `json:"message"`
	Location *string `json:"location"`
}

func (p publishRequest) validate() error {
	if p.Message == nil || strings.TrimSpace(*p.Message) == "" {
		return &model.ValidationError{Field: "message", Reason: "must be a non-empty string"}
	}
	if p.Location == nil || strings.TrimSpace(*p.Location) == "" {
		return &model.ValidationError{Field: "location", Reason: "must be a non-empty string"}
	}
	return nil
}

// Publish handles POST /publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	req, err := decodePublish(w, r)
	if err != nil {
		h.logger.Debug("PUBLISH_REJECTED", "err", err, "trace_id", TraceIDFromContext(r.Context()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.relay.OnAlertIngress(r.Context(), *req.Message, *req.Location); err != nil {
		h.logger.Error("PUBLISH_FAILED", "err", err, "trace_id", TraceIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": publishedMessage})
}

func decodePublish(w http.ResponseWriter, r *http.Request) (publishRequest, error) {
	var req publishRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var (
			typeErr *json.UnmarshalTypeError
			sizeErr *http.MaxBytesError
		)
		switch {
		case errors.As(err, &typeErr) && typeErr.Field == "":
			return req, &model.ValidationError{Field: "body", Reason: "must be a JSON object"}
		case errors.As(err, &typeErr):
			return req, &model.ValidationError{Field: typeErr.Field, Reason: "must be a string"}
		case errors.As(err, &sizeErr):
			return req, &model.ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d bytes", sizeErr.Limit)}
		case errors.Is(err, io.EOF):
			return req, &model.ValidationError{Field: "body", Reason: "is empty"}
		default:
			return req, &model.ValidationError{Field: "body", Reason: "is not valid JSON"}
		}
	}

	// One object per request; anything after it is rejected.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, &model.ValidationError{Field: "body", Reason: "must contain a single JSON object"}
	}

	return req, req.validate()
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	if h.bridge != nil {
		stats.BridgeState = h.bridge.State().String()
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
