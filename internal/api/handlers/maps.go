// This file implements the map asset surface: multipart upload of rendered
// county map images and lookup by (county, variable, period). Map generation
// itself happens upstream in the GIS tooling; this API only stores and serves
// the finished images for the pipeline to embed.
package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"climascope/internal/core"
	"climascope/internal/types"
)

// MapStore is the storage contract this handler depends on. Mirrors the
// concrete maps.Store methods used here.
type MapStore interface {
	types.MapStore
}

// MapHandler serves map upload and lookup endpoints.
type MapHandler struct {
	store          MapStore
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewMapHandler creates a MapHandler. maxUploadBytes bounds the multipart
// image payload; the store enforces the same cap on the decoded bytes.
func NewMapHandler(store MapStore, maxUploadBytes int64, l *slog.Logger) *MapHandler {
	if l == nil {
		l = slog.Default()
	}
	return &MapHandler{
		store:          store,
		maxUploadBytes: maxUploadBytes,
		logger:         l,
	}
}

// RegisterRoutes mounts map routes on the provided chi.Router.
func (h *MapHandler) RegisterRoutes(r chi.Router) {
	r.Route("/maps", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/{county}", h.List)
		r.Get("/{county}/{variable}", h.Resolve)
	})
}

// Upload handles POST /v1/maps (multipart/form-data).
//
// Form fields: county, variable, period_start, period_end, file, and the
// optional dpi, width, height, overwrite. Re-uploading identical bytes is
// idempotent; differing bytes under an existing key require overwrite=true.
func (h *MapHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// A little slack over the image cap for the multipart framing and the
	// metadata fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(64<<10))

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationImageSize,
			"upload exceeds the maximum allowed size",
			err,
		))
		return
	}

	key, appErr := mapKeyFromForm(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	dpi, appErr := formInt(r, "dpi")
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	width, appErr := formInt(r, "width")
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	height, appErr := formInt(r, "height")
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"file is required",
			err,
		))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to read uploaded file",
			err,
		))
		return
	}

	meta := types.MapMetadata{
		ResolutionDPI: dpi,
		WidthPx:       width,
		HeightPx:      height,
		GeneratedAt:   time.Now().UTC(),
	}
	overwrite := r.FormValue("overwrite") == "true"

	ref, err := h.store.Store(r.Context(), key, image, meta, overwrite)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "map stored",
		"map_key", key.String(),
		"size_bytes", len(image),
		"overwrite", overwrite,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: ref})
}

// Resolve handles GET /v1/maps/{county}/{variable}?period_start=&period_end=.
// A stored map returns its reference; an absent one is a 404 at this surface
// even though the pipeline treats absence as a degradable condition.
func (h *MapHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	variable := types.Variable(chi.URLParam(r, "variable"))
	if !variable.Valid() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidVariable,
			"variable must be one of: rainfall, temperature, wind",
			nil,
		))
		return
	}

	periodStart, err := types.ParseDate(r.URL.Query().Get("period_start"))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil))
		return
	}
	periodEnd, err := types.ParseDate(r.URL.Query().Get("period_end"))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil))
		return
	}

	key := types.MapKey{
		CountyID:    chi.URLParam(r, "county"),
		Variable:    variable,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	ref, err := h.store.Resolve(r.Context(), key)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ref.Found {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundMap,
			"no map stored for this county, variable, and period",
			nil,
			map[string]any{"map_key": key.String()},
		))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ref})
}

// List handles GET /v1/maps/{county}, returning metadata for every map stored
// for the county.
func (h *MapHandler) List(w http.ResponseWriter, r *http.Request) {
	countyID := chi.URLParam(r, "county")
	if countyID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"county id is required",
			nil,
		))
		return
	}

	metas, err := h.store.List(r.Context(), countyID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if metas == nil {
		metas = []types.MapMetadata{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metas})
}

// mapKeyFromForm builds the storage key from the multipart form fields.
func mapKeyFromForm(r *http.Request) (types.MapKey, *types.AppError) {
	countyID := r.FormValue("county")
	if countyID == "" {
		return types.MapKey{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"county is required",
			nil,
		)
	}

	variable := types.Variable(r.FormValue("variable"))
	if !variable.Valid() {
		return types.MapKey{}, types.NewAppError(
			types.ErrCodeValidationInvalidVariable,
			"variable must be one of: rainfall, temperature, wind",
			nil,
		)
	}

	periodStart, err := types.ParseDate(r.FormValue("period_start"))
	if err != nil {
		return types.MapKey{}, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil)
	}
	periodEnd, err := types.ParseDate(r.FormValue("period_end"))
	if err != nil {
		return types.MapKey{}, types.NewAppError(types.ErrCodeValidationInvalidPeriod, err.Error(), nil)
	}
	if periodEnd.Before(periodStart.Time) {
		return types.MapKey{}, types.NewAppError(
			types.ErrCodeValidationInvalidPeriod,
			"period_end must not precede period_start",
			nil,
		)
	}

	return types.MapKey{
		CountyID:    countyID,
		Variable:    variable,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}, nil
}

// formInt parses an optional positive integer form field.
func formInt(r *http.Request, field string) (int, *types.AppError) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			field+" must be a non-negative number",
			nil,
		)
	}
	return parsed, nil
}
