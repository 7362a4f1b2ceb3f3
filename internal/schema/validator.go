// Package schema validates raw weather data documents before they enter the
// report pipeline. Validation is pure: no I/O, no repair of input. A document
// either comes out as a typed *types.WeatherDataDocument or as a list of
// field-level errors with dotted paths (e.g. "variables.rainfall.daily").
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"climascope/internal/types"
)

// Supported schema versions. Documents with a different major version are
// rejected; a newer minor version of the same major is accepted with a
// warning.
const (
	SupportedSchemaMajor = 1
	SupportedSchemaMinor = 2
)

// Plausibility bounds for county-level temperatures in degrees Celsius.
const (
	TemperatureMin = -10.0
	TemperatureMax = 50.0
)

var countyCodePattern = regexp.MustCompile(`^[0-9]{2}$`)

// Result carries the outcome of a validation run. FieldErrors is empty iff
// Document is non-nil. Warnings never block the pipeline.
type Result struct {
	Document    *types.WeatherDataDocument
	FieldErrors []types.FieldError
	Warnings    []string
}

// Valid reports whether the document passed validation.
func (r Result) Valid() bool {
	return len(r.FieldErrors) == 0
}

// rawDocument mirrors WeatherDataDocument with pointer fields so that absent
// and present-but-zero values can be told apart.
type rawDocument struct {
	SchemaVersion *string        `json:"schema_version"`
	CountyID      *string        `json:"county_id"`
	CountyName    *string        `json:"county_name"`
	Period        *rawPeriod     `json:"period"`
	Variables     *rawVariables  `json:"variables"`
	Wards         *[]rawWard     `json:"wards"`
	Extremes      types.Extremes `json:"extremes"`
	Metadata      *rawProvenance `json:"metadata"`
}

type rawPeriod struct {
	Start      *types.Date `json:"start"`
	End        *types.Date `json:"end"`
	WeekNumber int         `json:"week_number"`
	Year       int         `json:"year"`
}

type rawVariables struct {
	Temperature *rawTemperature `json:"temperature"`
	Rainfall    *rawRainfall    `json:"rainfall"`
	Wind        *rawWind        `json:"wind"`
}

type rawTemperature struct {
	Weekly    *types.WeeklyTemperature `json:"weekly"`
	DailyMean *[]float64               `json:"daily_mean"`
}

type rawRainfall struct {
	Weekly               *types.WeeklyRainfall   `json:"weekly"`
	Daily                *[]float64              `json:"daily"`
	ProbabilityAboveNorm types.Optional[float64] `json:"probability_above_normal"`
}

type rawWind struct {
	Weekly    *types.WeeklyWind `json:"weekly"`
	DailyPeak *[]float64        `json:"daily_peak"`
}

type rawWard struct {
	WardID          *string                `json:"ward_id"`
	Name            *string                `json:"name"`
	RainfallTotal   *float64               `json:"rainfall_total"`
	MeanTemperature *float64               `json:"mean_temperature"`
	PeakWind        *float64               `json:"peak_wind"`
	Advisory        types.Optional[string] `json:"advisory"`
}

type rawProvenance struct {
	DataSource  *string `json:"data_source"`
	ModelRun    *string `json:"model_run"`
	GeneratedAt *string `json:"generated_at"`
}

// Validate checks a raw JSON weather data document against the schema. It
// returns a Result with either a typed document or the accumulated field
// errors. The error return is reserved for input that is not valid JSON at
// all.
func Validate(raw []byte) (Result, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"weather data document is not valid JSON",
			err,
		)
	}

	v := &validation{}

	v.checkSchemaVersion(doc.SchemaVersion)
	v.checkCounty(doc.CountyID, doc.CountyName)
	period := v.checkPeriod(doc.Period)
	variables := v.checkVariables(doc.Variables)
	wards := v.checkWards(doc.Wards)
	provenance := v.checkProvenance(doc.Metadata)

	if len(v.fieldErrors) > 0 {
		return Result{FieldErrors: v.fieldErrors, Warnings: v.warnings}, nil
	}

	typed := &types.WeatherDataDocument{
		SchemaVersion: *doc.SchemaVersion,
		CountyID:      *doc.CountyID,
		CountyName:    *doc.CountyName,
		Period:        period,
		Variables:     variables,
		Wards:         wards,
		Extremes:      doc.Extremes,
		Provenance:    provenance,
	}
	return Result{Document: typed, Warnings: v.warnings}, nil
}

// validation accumulates errors and warnings across the rule checks.
type validation struct {
	fieldErrors []types.FieldError
	warnings    []string
}

func (v *validation) fail(path, message string) {
	v.fieldErrors = append(v.fieldErrors, types.FieldError{FieldPath: path, Message: message})
}

func (v *validation) warn(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validation) checkSchemaVersion(version *string) {
	if version == nil {
		v.fail("schema_version", "is required")
		return
	}

	parts := strings.SplitN(*version, ".", 2)
	if len(parts) != 2 {
		v.fail("schema_version", "must be in MAJOR.MINOR form")
		return
	}
	major, errMajor := strconv.Atoi(parts[0])
	minor, errMinor := strconv.Atoi(parts[1])
	if errMajor != nil || errMinor != nil {
		v.fail("schema_version", "must be in MAJOR.MINOR form")
		return
	}

	if major != SupportedSchemaMajor {
		v.fail("schema_version", fmt.Sprintf("unsupported major version %d; supported: %d", major, SupportedSchemaMajor))
		return
	}
	if minor > SupportedSchemaMinor {
		v.warn("schema version %s is newer than supported %d.%d; unknown fields were ignored",
			*version, SupportedSchemaMajor, SupportedSchemaMinor)
	}
}

func (v *validation) checkCounty(countyID, countyName *string) {
	if countyID == nil {
		v.fail("county_id", "is required")
	} else if !countyCodePattern.MatchString(*countyID) {
		v.fail("county_id", "must be a 2-digit county code")
	}

	if countyName == nil || *countyName == "" {
		v.fail("county_name", "is required")
	}
}

func (v *validation) checkPeriod(period *rawPeriod) types.ReportPeriod {
	if period == nil {
		v.fail("period", "is required")
		return types.ReportPeriod{}
	}

	var out types.ReportPeriod
	out.WeekNumber = period.WeekNumber
	out.Year = period.Year

	switch {
	case period.Start == nil:
		v.fail("period.start", "is required")
	case period.End == nil:
		v.fail("period.end", "is required")
	default:
		out.Start = *period.Start
		out.End = *period.End
		if span := out.SpanDays(); span != types.DaysPerWeek-1 {
			v.fail("period", fmt.Sprintf("must span exactly 7 days; got %d", span+1))
		}
	}

	return out
}

func (v *validation) checkVariables(vars *rawVariables) types.WeatherVariables {
	if vars == nil {
		v.fail("variables", "is required")
		return types.WeatherVariables{}
	}

	var out types.WeatherVariables
	out.Temperature = v.checkTemperature(vars.Temperature)
	out.Rainfall = v.checkRainfall(vars.Rainfall)
	out.Wind = v.checkWind(vars.Wind)
	return out
}

func (v *validation) checkTemperature(t *rawTemperature) types.TemperatureStats {
	if t == nil {
		v.fail("variables.temperature", "is required")
		return types.TemperatureStats{}
	}

	var out types.TemperatureStats
	if t.Weekly == nil {
		v.fail("variables.temperature.weekly", "is required")
	} else {
		out.Weekly = *t.Weekly
		v.checkTemperatureValue("variables.temperature.weekly.min", t.Weekly.Min)
		v.checkTemperatureValue("variables.temperature.weekly.max", t.Weekly.Max)
		v.checkTemperatureValue("variables.temperature.weekly.mean", t.Weekly.Mean)
		if t.Weekly.Min > t.Weekly.Max {
			v.fail("variables.temperature.weekly", "min must not exceed max")
		}
	}

	if daily := v.checkDailySeries("variables.temperature.daily_mean", t.DailyMean); daily != nil {
		out.DailyMean = daily
		for i, val := range daily {
			v.checkTemperatureValue(fmt.Sprintf("variables.temperature.daily_mean[%d]", i), val)
		}
	}
	return out
}

func (v *validation) checkTemperatureValue(path string, val float64) {
	if val < TemperatureMin || val > TemperatureMax {
		v.fail(path, fmt.Sprintf("must be between %.0f and %.0f degrees Celsius", TemperatureMin, TemperatureMax))
	}
}

func (v *validation) checkRainfall(r *rawRainfall) types.RainfallStats {
	if r == nil {
		v.fail("variables.rainfall", "is required")
		return types.RainfallStats{}
	}

	var out types.RainfallStats
	if r.Weekly == nil {
		v.fail("variables.rainfall.weekly", "is required")
	} else {
		out.Weekly = *r.Weekly
		if r.Weekly.Total < 0 {
			v.fail("variables.rainfall.weekly.total", "must not be negative")
		}
		if r.Weekly.MaxIntensity < 0 {
			v.fail("variables.rainfall.weekly.max_intensity", "must not be negative")
		}
		if r.Weekly.RainyDays < 0 || r.Weekly.RainyDays > types.DaysPerWeek {
			v.fail("variables.rainfall.weekly.rainy_days", "must be between 0 and 7")
		}
	}

	if daily := v.checkDailySeries("variables.rainfall.daily", r.Daily); daily != nil {
		out.Daily = daily
		for i, val := range daily {
			if val < 0 {
				v.fail(fmt.Sprintf("variables.rainfall.daily[%d]", i), "must not be negative")
			}
		}
	}

	if prob, ok := r.ProbabilityAboveNorm.Get(); ok {
		if prob < 0 || prob > 1 {
			v.fail("variables.rainfall.probability_above_normal", "must be between 0 and 1")
		}
		out.ProbabilityAboveNorm = r.ProbabilityAboveNorm
	}
	return out
}

func (v *validation) checkWind(w *rawWind) types.WindStats {
	if w == nil {
		v.fail("variables.wind", "is required")
		return types.WindStats{}
	}

	var out types.WindStats
	if w.Weekly == nil {
		v.fail("variables.wind.weekly", "is required")
	} else {
		out.Weekly = *w.Weekly
		if w.Weekly.MeanSpeed < 0 {
			v.fail("variables.wind.weekly.mean_speed", "must not be negative")
		}
		if w.Weekly.MaxGust < 0 {
			v.fail("variables.wind.weekly.max_gust", "must not be negative")
		}
	}

	if daily := v.checkDailySeries("variables.wind.daily_peak", w.DailyPeak); daily != nil {
		out.DailyPeak = daily
		for i, val := range daily {
			if val < 0 {
				v.fail(fmt.Sprintf("variables.wind.daily_peak[%d]", i), "must not be negative")
			}
		}
	}
	return out
}

// checkDailySeries enforces the fixed 7-element length of every daily series.
// Returns nil when the series is absent or mis-sized (the failure is already
// recorded).
func (v *validation) checkDailySeries(path string, series *[]float64) []float64 {
	if series == nil {
		v.fail(path, "is required")
		return nil
	}
	if len(*series) != types.DaysPerWeek {
		v.fail(path, fmt.Sprintf("must have exactly 7 daily values; got %d", len(*series)))
		return nil
	}
	return *series
}

func (v *validation) checkWards(wards *[]rawWard) []types.WardSummary {
	if wards == nil {
		v.fail("wards", "is required")
		return nil
	}
	if len(*wards) == 0 {
		v.fail("wards", "must contain at least one ward")
		return nil
	}

	out := make([]types.WardSummary, 0, len(*wards))
	seen := make(map[string]bool, len(*wards))
	for i, ward := range *wards {
		path := fmt.Sprintf("wards[%d]", i)

		var summary types.WardSummary
		if ward.WardID == nil || *ward.WardID == "" {
			v.fail(path+".ward_id", "is required")
		} else {
			if seen[*ward.WardID] {
				v.fail(path+".ward_id", fmt.Sprintf("duplicate ward id %q", *ward.WardID))
			}
			seen[*ward.WardID] = true
			summary.WardID = *ward.WardID
		}

		if ward.Name == nil || *ward.Name == "" {
			v.fail(path+".name", "is required")
		} else {
			summary.Name = *ward.Name
		}

		if ward.RainfallTotal == nil {
			v.fail(path+".rainfall_total", "is required")
		} else {
			if *ward.RainfallTotal < 0 {
				v.fail(path+".rainfall_total", "must not be negative")
			}
			summary.RainfallTotal = *ward.RainfallTotal
		}

		if ward.MeanTemperature == nil {
			v.fail(path+".mean_temperature", "is required")
		} else {
			if *ward.MeanTemperature < TemperatureMin || *ward.MeanTemperature > TemperatureMax {
				v.fail(path+".mean_temperature", fmt.Sprintf("must be between %.0f and %.0f degrees Celsius", TemperatureMin, TemperatureMax))
			}
			summary.MeanTemperature = *ward.MeanTemperature
		}

		if ward.PeakWind == nil {
			v.fail(path+".peak_wind", "is required")
		} else {
			if *ward.PeakWind < 0 {
				v.fail(path+".peak_wind", "must not be negative")
			}
			summary.PeakWind = *ward.PeakWind
		}

		summary.Advisory = ward.Advisory
		out = append(out, summary)
	}
	return out
}

func (v *validation) checkProvenance(meta *rawProvenance) types.Provenance {
	if meta == nil {
		v.fail("metadata", "is required")
		return types.Provenance{}
	}

	var out types.Provenance
	if meta.DataSource == nil || *meta.DataSource == "" {
		v.fail("metadata.data_source", "is required")
	} else {
		out.DataSource = *meta.DataSource
	}
	if meta.ModelRun != nil {
		out.ModelRun = *meta.ModelRun
	}
	if meta.GeneratedAt != nil {
		t, err := parseTimestamp(*meta.GeneratedAt)
		if err != nil {
			v.fail("metadata.generated_at", "must be an RFC3339 timestamp")
		} else {
			out.GeneratedAt = t
		}
	}
	return out
}

// parseTimestamp accepts RFC3339 with or without fractional seconds.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
