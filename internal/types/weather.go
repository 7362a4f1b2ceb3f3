package types

import (
	"fmt"
	"strings"
	"time"
)

// DaysPerWeek is the fixed length of every daily series in a weather data
// document. A report always covers exactly one 7-day period.
const DaysPerWeek = 7

// Date is a calendar date (no time component) serialized as YYYY-MM-DD.
// Weather data periods and map storage keys use dates, never timestamps.
type Date struct {
	time.Time
}

// NewDate constructs a Date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string into a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting only YYYY-MM-DD.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Time.IsZero()
}

// DaysUntil returns the number of whole days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours() / 24)
}

// ReportPeriod is the fixed 7-day span a report summarizes.
// Invariant: End - Start == 6 days.
type ReportPeriod struct {
	Start      Date `json:"start"`
	End        Date `json:"end"`
	WeekNumber int  `json:"week_number,omitempty"`
	Year       int  `json:"year,omitempty"`
}

// SpanDays returns the inclusive day count difference (End - Start).
func (p ReportPeriod) SpanDays() int {
	return p.Start.DaysUntil(p.End)
}

// Formatted renders the period for display, e.g.
// "Week 4, 2026 (January 19 - January 25, 2026)".
func (p ReportPeriod) Formatted() string {
	base := fmt.Sprintf("%s - %s", p.Start.Format("January 02"), p.End.Format("January 02, 2006"))
	if p.WeekNumber > 0 && p.Year > 0 {
		return fmt.Sprintf("Week %d, %d (%s)", p.WeekNumber, p.Year, base)
	}
	return base
}

// WeeklyTemperature holds county-level weekly temperature aggregates in
// degrees Celsius.
type WeeklyTemperature struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// TemperatureStats holds the temperature block of a weather data document.
// DailyMean has exactly DaysPerWeek entries, Monday first.
type TemperatureStats struct {
	Weekly    WeeklyTemperature `json:"weekly"`
	DailyMean []float64         `json:"daily_mean"`
}

// WeeklyRainfall holds county-level weekly rainfall aggregates in millimetres.
type WeeklyRainfall struct {
	Total        float64 `json:"total"`
	MaxIntensity float64 `json:"max_intensity"`
	RainyDays    int     `json:"rainy_days"`
}

// RainfallStats holds the rainfall block of a weather data document.
// Daily has exactly DaysPerWeek entries, Monday first.
type RainfallStats struct {
	Weekly               WeeklyRainfall    `json:"weekly"`
	Daily                []float64         `json:"daily"`
	ProbabilityAboveNorm Optional[float64] `json:"probability_above_normal"`
}

// WeeklyWind holds county-level weekly wind aggregates in km/h.
type WeeklyWind struct {
	MeanSpeed         float64 `json:"mean_speed"`
	MaxGust           float64 `json:"max_gust"`
	DominantDirection string  `json:"dominant_direction"`
}

// WindStats holds the wind block of a weather data document.
// DailyPeak has exactly DaysPerWeek entries, Monday first.
type WindStats struct {
	Weekly    WeeklyWind `json:"weekly"`
	DailyPeak []float64  `json:"daily_peak"`
}

// WeatherVariables groups the per-variable statistics blocks.
type WeatherVariables struct {
	Temperature TemperatureStats `json:"temperature"`
	Rainfall    RainfallStats    `json:"rainfall"`
	Wind        WindStats        `json:"wind"`
}

// WardSummary is one ward's aggregated weekly figures. Wards appear in the
// document's order and are unique by WardID.
type WardSummary struct {
	WardID          string           `json:"ward_id"`
	Name            string           `json:"name"`
	RainfallTotal   float64          `json:"rainfall_total"`
	MeanTemperature float64          `json:"mean_temperature"`
	PeakWind        float64          `json:"peak_wind"`
	Advisory        Optional[string] `json:"advisory"`
}

// Extremes carries optional extreme-value callouts. Each field names a ward
// from the document's ward list; the assembler verifies the reference and
// records a consistency warning when it dangles.
type Extremes struct {
	HighestRainfallWard Optional[string] `json:"highest_rainfall_ward"`
	HottestWard         Optional[string] `json:"hottest_ward"`
	WindiestWard        Optional[string] `json:"windiest_ward"`
}

// Provenance records where the numeric data came from.
type Provenance struct {
	DataSource  string    `json:"data_source"`
	ModelRun    string    `json:"model_run"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WeatherDataDocument is the validated input to the report pipeline: one
// county, one 7-day period, per-variable statistics, ward summaries, optional
// extremes, and provenance. Immutable once accepted by the pipeline.
type WeatherDataDocument struct {
	SchemaVersion string           `json:"schema_version"`
	CountyID      string           `json:"county_id"`
	CountyName    string           `json:"county_name"`
	Period        ReportPeriod     `json:"period"`
	Variables     WeatherVariables `json:"variables"`
	Wards         []WardSummary    `json:"wards"`
	Extremes      Extremes         `json:"extremes"`
	Provenance    Provenance       `json:"metadata"`
}

// WardByID returns the ward with the given id, if present.
func (d *WeatherDataDocument) WardByID(id string) (WardSummary, bool) {
	for _, w := range d.Wards {
		if w.WardID == id {
			return w, true
		}
	}
	return WardSummary{}, false
}

// DayNames returns the full weekday names for the document's period,
// Monday first.
var DayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayAbbrevs returns the abbreviated weekday names, Monday first.
var DayAbbrevs = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
