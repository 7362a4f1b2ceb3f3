package types

import (
	"fmt"
	"time"
)

// MapKey addresses one stored map image. Lookups are O(1) by this tuple.
type MapKey struct {
	CountyID    string   `json:"county_id"`
	Variable    Variable `json:"variable"`
	PeriodStart Date     `json:"period_start"`
	PeriodEnd   Date     `json:"period_end"`
}

// String renders the key in the canonical file-name form:
// {county}_{variable}_{start}_{end}.
func (k MapKey) String() string {
	return fmt.Sprintf("%s_%s_%s_%s", k.CountyID, k.Variable, k.PeriodStart, k.PeriodEnd)
}

// MapMetadata describes a stored map image. Persisted as a .meta.json sidecar
// next to the image file.
type MapMetadata struct {
	CountyID      string    `json:"county_id"`
	Variable      Variable  `json:"variable"`
	PeriodStart   Date      `json:"period_start"`
	PeriodEnd     Date      `json:"period_end"`
	Format        MapFormat `json:"format"`
	ResolutionDPI int       `json:"resolution_dpi"`
	WidthPx       int       `json:"width_px"`
	HeightPx      int       `json:"height_px"`
	SizeBytes     int64     `json:"size_bytes"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// MapReference is the outcome of a map lookup: either a resolved asset or an
// explicit Missing marker with a human-readable reason. Missing is a normal,
// non-error outcome; the renderer substitutes a labeled placeholder.
type MapReference struct {
	Key           MapKey       `json:"key"`
	Found         bool         `json:"found"`
	AssetPath     string       `json:"asset_path,omitempty"`
	Metadata      *MapMetadata `json:"metadata,omitempty"`
	MissingReason string       `json:"missing_reason,omitempty"`
}

// FoundMap constructs a resolved MapReference.
func FoundMap(key MapKey, assetPath string, meta *MapMetadata) MapReference {
	return MapReference{Key: key, Found: true, AssetPath: assetPath, Metadata: meta}
}

// MissingMap constructs an explicit absent MapReference with a reason.
func MissingMap(key MapKey, reason string) MapReference {
	return MapReference{Key: key, Found: false, MissingReason: reason}
}
