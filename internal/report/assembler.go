// Package report assembles the validated document, generated narratives and
// resolved map references into the ordered section list consumed by the PDF
// renderer. Assembly is pure: no I/O, no provider calls, deterministic output
// for identical inputs.
package report

import (
	"fmt"

	"climascope/internal/types"
)

// Input carries everything the assembler needs. Maps is keyed by variable;
// every variable must have an entry (Found or Missing), which the orchestrator
// guarantees by always resolving all three.
type Input struct {
	Document   *types.WeatherDataDocument
	Narratives types.NarrativeSet
	Maps       map[types.Variable]types.MapReference
}

// Assemble builds the report sections in their fixed order. It never fails:
// inconsistencies (dangling extreme references, missing narratives) degrade to
// warnings, and missing maps pass through as explicit Missing references for
// the renderer's placeholder.
func Assemble(in Input) ([]types.ReportSection, []string) {
	b := &builder{
		doc:        in.Document,
		narratives: in.Narratives,
		maps:       in.Maps,
	}

	sections := make([]types.ReportSection, 0, len(types.SectionOrder))
	for _, kind := range types.SectionOrder {
		sections = append(sections, b.build(kind))
	}
	return sections, b.warnings
}

type builder struct {
	doc        *types.WeatherDataDocument
	narratives types.NarrativeSet
	maps       map[types.Variable]types.MapReference
	warnings   []string
}

func (b *builder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// narrative fetches the prose for a narrative-bearing section, warning when
// the generator produced nothing for it.
func (b *builder) narrative(kind types.SectionKind) string {
	n, ok := b.narratives.Get(types.SectionID(kind))
	if !ok {
		b.warnf("no narrative generated for section %s", kind)
		return ""
	}
	return n.Text
}

// mapRef fetches the map reference for a variable, synthesizing a Missing
// reference when the orchestrator never resolved one.
func (b *builder) mapRef(variable types.Variable) *types.MapReference {
	if ref, ok := b.maps[variable]; ok {
		return &ref
	}
	b.warnf("no map resolution recorded for variable %s", variable)
	ref := types.MissingMap(types.MapKey{
		CountyID:    b.doc.CountyID,
		Variable:    variable,
		PeriodStart: b.doc.Period.Start,
		PeriodEnd:   b.doc.Period.End,
	}, "map was not resolved")
	return &ref
}

func (b *builder) build(kind types.SectionKind) types.ReportSection {
	switch kind {
	case types.SectionCover:
		return b.cover()
	case types.SectionExecutiveSummary:
		return b.executiveSummary()
	case types.SectionNarrativeOverview:
		return types.ReportSection{
			Kind:      kind,
			Title:     "Weekly Overview",
			Narrative: b.narrative(kind),
		}
	case types.SectionRainfallOutlook:
		return b.rainfall()
	case types.SectionTemperatureOutlook:
		return b.temperature()
	case types.SectionWindOutlook:
		return b.wind()
	case types.SectionWardTable:
		return b.wardTable()
	case types.SectionExtremes:
		return b.extremes()
	case types.SectionAdvisories:
		return b.advisories()
	case types.SectionMethodology:
		return b.methodology()
	case types.SectionDisclaimers:
		return types.ReportSection{
			Kind:  kind,
			Title: "Disclaimers",
			Narrative: "This report is generated from modelled and observed data and is provided " +
				"for general guidance only. Figures are county and ward aggregates; local " +
				"conditions may differ. Always follow official advisories from the Kenya " +
				"Meteorological Department and county authorities.",
		}
	}
	// The section list is fixed; an unknown kind indicates a programming error
	// upstream, so return an empty titled section rather than panicking.
	b.warnf("unknown section kind %s", kind)
	return types.ReportSection{Kind: kind, Title: string(kind)}
}

func (b *builder) cover() types.ReportSection {
	return types.ReportSection{
		Kind:  types.SectionCover,
		Title: fmt.Sprintf("%s County Weather Report", b.doc.CountyName),
		Facts: []types.KeyValue{
			{Key: "County", Value: fmt.Sprintf("%s (%s)", b.doc.CountyName, b.doc.CountyID)},
			{Key: "Period", Value: b.doc.Period.Formatted()},
			{Key: "Data Source", Value: b.doc.Provenance.DataSource},
		},
	}
}

func (b *builder) executiveSummary() types.ReportSection {
	rain := b.doc.Variables.Rainfall.Weekly
	temp := b.doc.Variables.Temperature.Weekly
	wind := b.doc.Variables.Wind.Weekly

	return types.ReportSection{
		Kind:      types.SectionExecutiveSummary,
		Title:     "Executive Summary",
		Narrative: b.narrative(types.SectionExecutiveSummary),
		Facts: []types.KeyValue{
			{Key: "Total Rainfall", Value: fmt.Sprintf("%.1f mm over %d rainy days", rain.Total, rain.RainyDays)},
			{Key: "Temperature Range", Value: fmt.Sprintf("%.1f to %.1f °C (mean %.1f)", temp.Min, temp.Max, temp.Mean)},
			{Key: "Wind", Value: fmt.Sprintf("mean %.1f km/h, gusts to %.1f km/h (%s)", wind.MeanSpeed, wind.MaxGust, wind.DominantDirection)},
		},
	}
}

func (b *builder) rainfall() types.ReportSection {
	stats := b.doc.Variables.Rainfall
	facts := []types.KeyValue{
		{Key: "Weekly Total", Value: fmt.Sprintf("%.1f mm", stats.Weekly.Total)},
		{Key: "Rainy Days", Value: fmt.Sprintf("%d of %d", stats.Weekly.RainyDays, types.DaysPerWeek)},
		{Key: "Max Daily Intensity", Value: fmt.Sprintf("%.1f mm", stats.Weekly.MaxIntensity)},
		{Key: "Wettest Day", Value: peakDay(stats.Daily)},
	}
	if prob, ok := stats.ProbabilityAboveNorm.Get(); ok {
		facts = append(facts, types.KeyValue{
			Key: "Probability Above Normal", Value: fmt.Sprintf("%.0f%%", prob*100),
		})
	}

	return types.ReportSection{
		Kind:      types.SectionRainfallOutlook,
		Title:     "Rainfall",
		Narrative: b.narrative(types.SectionRainfallOutlook),
		Facts:     facts,
		Chart: &types.ChartSeries{
			Label:  "Daily Rainfall",
			Unit:   "mm",
			Days:   types.DayAbbrevs,
			Values: stats.Daily,
		},
		Map:      b.mapRef(types.VariableRainfall),
		Variable: types.VariableRainfall,
	}
}

func (b *builder) temperature() types.ReportSection {
	stats := b.doc.Variables.Temperature
	return types.ReportSection{
		Kind:      types.SectionTemperatureOutlook,
		Title:     "Temperature",
		Narrative: b.narrative(types.SectionTemperatureOutlook),
		Facts: []types.KeyValue{
			{Key: "Weekly Minimum", Value: fmt.Sprintf("%.1f °C", stats.Weekly.Min)},
			{Key: "Weekly Maximum", Value: fmt.Sprintf("%.1f °C", stats.Weekly.Max)},
			{Key: "Weekly Mean", Value: fmt.Sprintf("%.1f °C", stats.Weekly.Mean)},
			{Key: "Warmest Day", Value: peakDay(stats.DailyMean)},
		},
		Chart: &types.ChartSeries{
			Label:  "Daily Mean Temperature",
			Unit:   "°C",
			Days:   types.DayAbbrevs,
			Values: stats.DailyMean,
		},
		Map:      b.mapRef(types.VariableTemperature),
		Variable: types.VariableTemperature,
	}
}

func (b *builder) wind() types.ReportSection {
	stats := b.doc.Variables.Wind
	return types.ReportSection{
		Kind:      types.SectionWindOutlook,
		Title:     "Wind",
		Narrative: b.narrative(types.SectionWindOutlook),
		Facts: []types.KeyValue{
			{Key: "Mean Speed", Value: fmt.Sprintf("%.1f km/h", stats.Weekly.MeanSpeed)},
			{Key: "Maximum Gust", Value: fmt.Sprintf("%.1f km/h", stats.Weekly.MaxGust)},
			{Key: "Dominant Direction", Value: stats.Weekly.DominantDirection},
			{Key: "Windiest Day", Value: peakDay(stats.DailyPeak)},
		},
		Chart: &types.ChartSeries{
			Label:  "Daily Peak Wind",
			Unit:   "km/h",
			Days:   types.DayAbbrevs,
			Values: stats.DailyPeak,
		},
		Map:      b.mapRef(types.VariableWind),
		Variable: types.VariableWind,
	}
}

func (b *builder) wardTable() types.ReportSection {
	rows := make([][]string, 0, len(b.doc.Wards))
	for _, ward := range b.doc.Wards {
		advisory := ""
		if a, ok := ward.Advisory.Get(); ok {
			advisory = a
		}
		rows = append(rows, []string{
			ward.WardID,
			ward.Name,
			fmt.Sprintf("%.1f", ward.RainfallTotal),
			fmt.Sprintf("%.1f", ward.MeanTemperature),
			fmt.Sprintf("%.1f", ward.PeakWind),
			advisory,
		})
	}

	return types.ReportSection{
		Kind:  types.SectionWardTable,
		Title: "Ward Summaries",
		Tables: []types.SectionTable{{
			Header: []string{"Ward ID", "Ward", "Rainfall (mm)", "Mean Temp (°C)", "Peak Wind (km/h)", "Advisory"},
			Rows:   rows,
		}},
	}
}

func (b *builder) extremes() types.ReportSection {
	var facts []types.KeyValue
	add := func(label string, ref types.Optional[string]) {
		wardID, ok := ref.Get()
		if !ok {
			return
		}
		ward, found := b.doc.WardByID(wardID)
		if !found {
			b.warnf("extreme %q references unknown ward %s", label, wardID)
			facts = append(facts, types.KeyValue{Key: label, Value: fmt.Sprintf("ward %s (not in ward list)", wardID)})
			return
		}
		facts = append(facts, types.KeyValue{Key: label, Value: fmt.Sprintf("%s (%s)", ward.Name, ward.WardID)})
	}

	add("Highest Rainfall", b.doc.Extremes.HighestRainfallWard)
	add("Hottest Ward", b.doc.Extremes.HottestWard)
	add("Windiest Ward", b.doc.Extremes.WindiestWard)

	narrative := ""
	if len(facts) == 0 {
		narrative = "No extreme-value callouts were reported for this period."
	}

	return types.ReportSection{
		Kind:      types.SectionExtremes,
		Title:     "Extremes",
		Narrative: narrative,
		Facts:     facts,
	}
}

func (b *builder) advisories() types.ReportSection {
	var rows [][]string
	for _, ward := range b.doc.Wards {
		if advisory, ok := ward.Advisory.Get(); ok {
			rows = append(rows, []string{ward.Name, advisory})
		}
	}

	section := types.ReportSection{
		Kind:      types.SectionAdvisories,
		Title:     "Advisories",
		Narrative: b.narrative(types.SectionAdvisories),
	}
	if len(rows) > 0 {
		section.Tables = []types.SectionTable{{
			Header: []string{"Ward", "Advisory"},
			Rows:   rows,
		}}
	}
	return section
}

func (b *builder) methodology() types.ReportSection {
	facts := []types.KeyValue{
		{Key: "Data Source", Value: b.doc.Provenance.DataSource},
		{Key: "Schema Version", Value: b.doc.SchemaVersion},
	}
	if b.doc.Provenance.ModelRun != "" {
		facts = append(facts, types.KeyValue{Key: "Model Run", Value: b.doc.Provenance.ModelRun})
	}
	if !b.doc.Provenance.GeneratedAt.IsZero() {
		facts = append(facts, types.KeyValue{
			Key: "Data Generated At", Value: b.doc.Provenance.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"),
		})
	}

	return types.ReportSection{
		Kind:  types.SectionMethodology,
		Title: "Methodology",
		Narrative: "County figures are aggregated from ward-level observations and model output " +
			"for the stated period. Daily series run Monday through Sunday. Narrative text is " +
			"generated from the tabulated figures and reviewed statistics only.",
		Facts: facts,
	}
}

// peakDay names the weekday holding the maximum value of a daily series.
func peakDay(values []float64) string {
	if len(values) == 0 {
		return "n/a"
	}
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	if maxIdx < len(types.DayNames) {
		return fmt.Sprintf("%s (%.1f)", types.DayNames[maxIdx], values[maxIdx])
	}
	return "n/a"
}
