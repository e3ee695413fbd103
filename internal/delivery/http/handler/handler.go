package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/delivery/http/request"
	"github.com/ecscrape/scraper-service/internal/delivery/http/response"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/usecase"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	orchestrator usecase.Orchestrator
	configs      usecase.ConfigService
	checks       map[string]HealthCheck
	logger       *zap.Logger
}

func NewHandler(orchestrator usecase.Orchestrator, configs usecase.ConfigService, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		configs:      configs,
		checks:       checks,
		logger:       logger,
	}
}

// HandleRunBatch runs a batch synchronously and returns its summary. A batch
// stopped by a persistence or configuration failure still reports the
// partial summary.
func (h *Handler) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req request.RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	kind, err := entity.ParseResourceKind(req.Kind)
	if err != nil {
		h.writeJSONError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	mode := entity.Mode(req.Mode)
	switch mode {
	case "", entity.ModeLive, entity.ModeInit, entity.ModeCheck:
	default:
		h.writeJSONError(w, http.StatusBadRequest, "Unknown batch mode: "+req.Mode, nil)
		return
	}

	sum, err := h.orchestrator.RunBatch(r.Context(), usecase.BatchRequest{
		Kind:  kind,
		Sites: req.Sites,
		Mode:  mode,
	})
	if sum == nil {
		if err == nil {
			err = errors.New("batch produced no summary")
		}
		h.writeError(w, "run batch", err)
		return
	}

	resp := response.NewBatchResponse(sum)
	status := http.StatusOK
	if err != nil {
		h.logger.Error("batch stopped", zap.String("batch", sum.ID), zap.Error(err))
		resp.Error = err.Error()
		status = statusFor(entity.Classify(err))
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	site, kind, ok := h.configKey(w, r)
	if !ok {
		return
	}
	cfg, err := h.configs.Get(r.Context(), site, kind)
	if err != nil {
		h.writeError(w, "get configuration", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewConfigResponse(cfg, false))
}

func (h *Handler) HandleSaveConfig(w http.ResponseWriter, r *http.Request) {
	site, kind, ok := h.configKey(w, r)
	if !ok {
		return
	}
	var req request.ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	cfg, created, err := h.configs.Save(r.Context(), site, kind, req.Text)
	if err != nil {
		h.writeError(w, "save configuration", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, response.NewConfigResponse(cfg, created))
}

func (h *Handler) HandlePreviewConfig(w http.ResponseWriter, r *http.Request) {
	site, kind, ok := h.configKey(w, r)
	if !ok {
		return
	}
	var req request.ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	records, err := h.configs.Execute(r.Context(), site, kind, req.Text)
	if err != nil {
		h.writeError(w, "preview configuration", err)
		return
	}
	if records == nil {
		records = []entity.Record{}
	}
	h.writeJSON(w, http.StatusOK, response.PreviewResponse{Count: len(records), Records: records})
}

// HandleGetArtifact serves a stored raw page as HTML.
func (h *Handler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	body, err := h.configs.Artifact(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, "get artifact", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("failed to write artifact", zap.Error(err))
	}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Error("health check failed", zap.String("service", name), zap.Error(err))
			health[name] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		health[name] = "healthy"
	}
	h.writeJSON(w, status, health)
}

func (h *Handler) configKey(w http.ResponseWriter, r *http.Request) (string, entity.ResourceKind, bool) {
	kind, err := entity.ParseResourceKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeJSONError(w, http.StatusBadRequest, err.Error(), nil)
		return "", "", false
	}
	return chi.URLParam(r, "site"), kind, true
}

// writeError maps a classified use case error onto an HTTP status.
// statusFor maps an error cause to its HTTP status.
func statusFor(cause entity.FailureCause) int {
	switch cause {
	case entity.CauseConfig, entity.CauseParse:
		return http.StatusUnprocessableEntity
	case entity.CauseFetch, entity.CauseAuth:
		return http.StatusBadGateway
	case entity.CausePersistence:
		return http.StatusServiceUnavailable
	case entity.CauseCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, entity.ErrNotFound) {
		h.writeJSONError(w, http.StatusNotFound, "Not found", nil)
		return
	}
	cause := entity.Classify(err)
	status := statusFor(cause)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	h.writeJSONError(w, status, err.Error(), &cause)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, message string, cause *entity.FailureCause) {
	resp := response.ErrorResponse{Error: message}
	if cause != nil {
		resp.Cause = string(*cause)
	}
	h.writeJSON(w, status, resp)
}
