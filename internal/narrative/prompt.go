package narrative

import (
	"fmt"
	"strings"

	"climascope/internal/types"
)

// buildPrompt renders the section-specific prompt from the document's figures.
// Prompts are pure functions of the document: the same document always yields
// the same prompt, which is what makes content-hash caching sound.
func buildPrompt(doc *types.WeatherDataDocument, sectionID types.SectionID) string {
	header := fmt.Sprintf(
		"County: %s (%s)\nPeriod: %s\n\n",
		doc.CountyName, doc.CountyID, doc.Period.Formatted(),
	)

	switch types.SectionKind(sectionID) {
	case types.SectionExecutiveSummary:
		return header + fmt.Sprintf(
			"Write a 2-3 sentence executive summary of the week's weather.\n"+
				"Rainfall total: %.1f mm over %d rainy days (max intensity %.1f mm).\n"+
				"Temperature: %.1f to %.1f degrees C, mean %.1f.\n"+
				"Wind: mean %.1f km/h, max gust %.1f km/h from the %s.",
			doc.Variables.Rainfall.Weekly.Total,
			doc.Variables.Rainfall.Weekly.RainyDays,
			doc.Variables.Rainfall.Weekly.MaxIntensity,
			doc.Variables.Temperature.Weekly.Min,
			doc.Variables.Temperature.Weekly.Max,
			doc.Variables.Temperature.Weekly.Mean,
			doc.Variables.Wind.Weekly.MeanSpeed,
			doc.Variables.Wind.Weekly.MaxGust,
			doc.Variables.Wind.Weekly.DominantDirection,
		)

	case types.SectionNarrativeOverview:
		return header + fmt.Sprintf(
			"Write a narrative overview (2 short paragraphs) connecting the week's rainfall, "+
				"temperature and wind patterns across the county's %d wards.\n"+
				"Daily rainfall (mm, Mon-Sun): %s\n"+
				"Daily mean temperature (C, Mon-Sun): %s\n"+
				"Daily peak wind (km/h, Mon-Sun): %s",
			len(doc.Wards),
			formatSeries(doc.Variables.Rainfall.Daily),
			formatSeries(doc.Variables.Temperature.DailyMean),
			formatSeries(doc.Variables.Wind.DailyPeak),
		)

	case types.SectionRainfallOutlook:
		prompt := header + fmt.Sprintf(
			"Write the rainfall section (1-2 paragraphs).\n"+
				"Weekly total: %.1f mm. Rainy days: %d. Max intensity: %.1f mm.\n"+
				"Daily totals (mm, Mon-Sun): %s",
			doc.Variables.Rainfall.Weekly.Total,
			doc.Variables.Rainfall.Weekly.RainyDays,
			doc.Variables.Rainfall.Weekly.MaxIntensity,
			formatSeries(doc.Variables.Rainfall.Daily),
		)
		if prob, ok := doc.Variables.Rainfall.ProbabilityAboveNorm.Get(); ok {
			prompt += fmt.Sprintf("\nProbability of above-normal rainfall: %.0f%%", prob*100)
		}
		return prompt

	case types.SectionTemperatureOutlook:
		return header + fmt.Sprintf(
			"Write the temperature section (1-2 paragraphs).\n"+
				"Weekly range: %.1f to %.1f degrees C, mean %.1f.\n"+
				"Daily means (C, Mon-Sun): %s",
			doc.Variables.Temperature.Weekly.Min,
			doc.Variables.Temperature.Weekly.Max,
			doc.Variables.Temperature.Weekly.Mean,
			formatSeries(doc.Variables.Temperature.DailyMean),
		)

	case types.SectionWindOutlook:
		return header + fmt.Sprintf(
			"Write the wind section (1 paragraph).\n"+
				"Mean speed: %.1f km/h. Max gust: %.1f km/h. Dominant direction: %s.\n"+
				"Daily peaks (km/h, Mon-Sun): %s",
			doc.Variables.Wind.Weekly.MeanSpeed,
			doc.Variables.Wind.Weekly.MaxGust,
			doc.Variables.Wind.Weekly.DominantDirection,
			formatSeries(doc.Variables.Wind.DailyPeak),
		)

	case types.SectionAdvisories:
		var sb strings.Builder
		sb.WriteString(header)
		sb.WriteString("Write a short advisories section for residents based on these ward-level advisories")
		sb.WriteString(" and the week's figures. If no advisories are listed, note that no specific advisories are in effect.\n")
		count := 0
		for _, ward := range doc.Wards {
			if advisory, ok := ward.Advisory.Get(); ok {
				fmt.Fprintf(&sb, "- %s (%s): %s\n", ward.Name, ward.WardID, advisory)
				count++
			}
		}
		if count == 0 {
			sb.WriteString("(no ward advisories)\n")
		}
		return sb.String()
	}

	// Unknown sections get a generic prompt rather than an error; the section
	// list is fixed at compile time so this is effectively unreachable.
	return header + fmt.Sprintf("Write the %s section of the weather report.", sectionID)
}

// formatSeries renders a daily series as "0.0, 12.5, 18.2, ...".
func formatSeries(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return strings.Join(parts, ", ")
}
