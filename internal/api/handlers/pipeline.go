// Package handlers contains the HTTP handler implementations for the
// ClimaScope API.
//
// This file implements the report pipeline surface: submission (synchronous
// and asynchronous), status polling, cancellation, history, and PDF retrieval.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"climascope/internal/core"
	"climascope/internal/pipeline"
	"climascope/internal/types"
)

// ReportService is the submission-side pipeline contract this handler depends
// on. Mirrors the concrete pipeline.Service methods used here.
type ReportService interface {
	Start(ctx context.Context, req pipeline.StartRequest, wait bool) (*types.PipelineExecution, error)
	Status(ctx context.Context, executionID string) (types.ExecutionStatusView, error)
	Cancel(ctx context.Context, executionID string) (bool, error)
	List(ctx context.Context, filter types.ExecutionFilter) ([]*types.PipelineExecution, types.PageInfo, error)
	PDF(ctx context.Context, executionID string) ([]byte, error)
}

// SubmitReportRequest is the request body for POST /v1/pipeline/reports.
// Document carries the raw weather data document; it is validated by the
// pipeline's validating stage, not here.
type SubmitReportRequest struct {
	CountyID    string          `json:"county_id" validate:"required,county_code"`
	PeriodStart string          `json:"period_start" validate:"required"`
	PeriodEnd   string          `json:"period_end" validate:"required"`
	Document    json.RawMessage `json:"document" validate:"required"`
}

// CancelReportResponse is the body for POST /v1/pipeline/reports/{id}/cancel.
type CancelReportResponse struct {
	ExecutionID string `json:"execution_id"`
	Result      string `json:"result"`
}

// PipelineHandler serves the report pipeline endpoints.
type PipelineHandler struct {
	service   ReportService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler with the provided dependencies.
func NewPipelineHandler(service ReportService, v *core.Validator, l *slog.Logger) *PipelineHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PipelineHandler{
		service:   service,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts pipeline routes on the provided chi.Router.
func (h *PipelineHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pipeline/reports", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", h.Status)
			r.Post("/cancel", h.Cancel)
			r.Get("/pdf", h.PDF)
		})
	})
}

// Submit handles POST /v1/pipeline/reports.
//
// With ?wait=true the call blocks until the execution reaches a terminal
// state and returns its final status view. Otherwise the execution is created
// in the Pending state, scheduled, and returned with 202 Accepted for the
// caller to poll.
func (h *PipelineHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	periodStart, err := types.ParseDate(req.PeriodStart)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil))
		return
	}
	periodEnd, err := types.ParseDate(req.PeriodEnd)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil))
		return
	}

	wait := r.URL.Query().Get("wait") == "true"

	exec, err := h.service.Start(r.Context(), pipeline.StartRequest{
		CountyID:    req.CountyID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Document:    req.Document,
	}, wait)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view := exec.StatusView()
	status := http.StatusAccepted
	var meta *types.ResponseMeta
	if wait {
		status = http.StatusOK
		if len(view.Warnings) > 0 {
			meta = &types.ResponseMeta{Warnings: view.Warnings}
		}
	}
	core.JSON(w, r, status, core.APIResponse{Data: view, Meta: meta})
}

// Status handles GET /v1/pipeline/reports/{id}/status.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"execution id is required",
			nil,
		))
		return
	}

	view, err := h.service.Status(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// Cancel handles POST /v1/pipeline/reports/{id}/cancel.
//
// Cancellation is cooperative: the pipeline observes the flag at the next
// stage boundary, so an acknowledged cancel still takes a moment to land. A
// terminal execution reports already_terminal instead of an error.
func (h *PipelineHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"execution id is required",
			nil,
		))
		return
	}

	acknowledged, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := CancelReportResponse{ExecutionID: id, Result: "acknowledged"}
	status := http.StatusAccepted
	if !acknowledged {
		resp.Result = "already_terminal"
		status = http.StatusOK
	}
	core.JSON(w, r, status, core.APIResponse{Data: resp})
}

// List handles GET /v1/pipeline/reports.
//
// Supports county_id, status, limit, and cursor query parameters. Results are
// returned newest first.
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := types.ExecutionFilter{
		CountyID: r.URL.Query().Get("county_id"),
		Status:   types.ExecStatus(r.URL.Query().Get("status")),
		Cursor:   r.URL.Query().Get("cursor"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a positive number",
				nil,
			))
			return
		}
		filter.Limit = parsed
	}

	execs, pageInfo, err := h.service.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	views := make([]types.ExecutionStatusView, len(execs))
	for i, exec := range execs {
		views[i] = exec.StatusView()
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: views,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// PDF handles GET /v1/pipeline/reports/{id}/pdf. Serves the rendered report
// bytes directly rather than the JSON envelope.
func (h *PipelineHandler) PDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"execution id is required",
			nil,
		))
		return
	}

	pdf, err := h.service.PDF(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
