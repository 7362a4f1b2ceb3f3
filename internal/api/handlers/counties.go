// This file implements the county reference-data CRUD surface. Counties and
// their wards are the geographic vocabulary the pipeline validates submissions
// against.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"climascope/internal/core"
	"climascope/internal/types"
)

// CountyRepo defines the data access contract for county operations. Mirrors
// the concrete db.CountyRepository methods used by this handler.
type CountyRepo interface {
	types.CountyRepository
}

// WardPayload is one ward in a county create or update request.
type WardPayload struct {
	ID   string `json:"id" validate:"required,max=10"`
	Name string `json:"name" validate:"required,max=100"`
}

// CreateCountyRequest is the request body for POST /v1/counties.
type CreateCountyRequest struct {
	ID    string        `json:"id" validate:"required,county_code"`
	Name  string        `json:"name" validate:"required,max=100"`
	Wards []WardPayload `json:"wards,omitempty" validate:"omitempty,max=50,dive"`
}

// UpdateCountyRequest is the request body for PUT /v1/counties/{id}. The
// county code itself is immutable; wards are replaced, not merged.
type UpdateCountyRequest struct {
	Name  string        `json:"name" validate:"required,max=100"`
	Wards []WardPayload `json:"wards,omitempty" validate:"omitempty,max=50,dive"`
}

// CountyHandler manages county reference CRUD.
type CountyHandler struct {
	repo      CountyRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewCountyHandler creates a CountyHandler with the provided dependencies.
func NewCountyHandler(repo CountyRepo, v *core.Validator, l *slog.Logger) *CountyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CountyHandler{
		repo:      repo,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts county routes on the provided chi.Router.
func (h *CountyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/counties", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/counties.
func (h *CountyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCountyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	county := &types.County{
		ID:        req.ID,
		Name:      req.Name,
		Wards:     toWards(req.Wards),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.Create(r.Context(), county); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "county created",
		"county_id", county.ID,
		"ward_count", len(county.Wards),
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: county})
}

// Get handles GET /v1/counties/{id}.
func (h *CountyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"county id is required",
			nil,
		))
		return
	}

	county, err := h.repo.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: county})
}

// List handles GET /v1/counties. The full set is 47 counties, so no
// pagination here.
func (h *CountyHandler) List(w http.ResponseWriter, r *http.Request) {
	counties, err := h.repo.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if counties == nil {
		counties = []*types.County{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: counties})
}

// Update handles PUT /v1/counties/{id}. The ward list is a full replacement.
func (h *CountyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"county id is required",
			nil,
		))
		return
	}

	var req UpdateCountyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	county, err := h.repo.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	county.Name = req.Name
	county.Wards = toWards(req.Wards)
	county.UpdatedAt = time.Now().UTC()

	if err := h.repo.Update(r.Context(), county); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: county})
}

// Delete handles DELETE /v1/counties/{id}.
func (h *CountyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"county id is required",
			nil,
		))
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "county deleted", "county_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// toWards converts request ward payloads to the domain type.
func toWards(payloads []WardPayload) []types.Ward {
	if len(payloads) == 0 {
		return nil
	}
	wards := make([]types.Ward, len(payloads))
	for i, p := range payloads {
		wards[i] = types.Ward{ID: p.ID, Name: p.Name}
	}
	return wards
}
