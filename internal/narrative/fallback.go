package narrative

import (
	"fmt"
	"strings"

	"climascope/internal/types"
)

// fallbackText produces deterministic templated prose for a section when every
// configured provider has failed. The text states the figures plainly so the
// report remains useful without AI-generated narrative.
func fallbackText(doc *types.WeatherDataDocument, sectionID types.SectionID) string {
	rain := doc.Variables.Rainfall
	temp := doc.Variables.Temperature
	wind := doc.Variables.Wind

	switch types.SectionKind(sectionID) {
	case types.SectionExecutiveSummary:
		return fmt.Sprintf(
			"%s County recorded %.1f mm of rainfall over %d rainy days during %s. "+
				"Temperatures ranged from %.1f to %.1f degrees Celsius with a mean of %.1f. "+
				"Winds averaged %.1f km/h with gusts up to %.1f km/h from the %s.",
			doc.CountyName, rain.Weekly.Total, rain.Weekly.RainyDays, doc.Period.Formatted(),
			temp.Weekly.Min, temp.Weekly.Max, temp.Weekly.Mean,
			wind.Weekly.MeanSpeed, wind.Weekly.MaxGust, wind.Weekly.DominantDirection,
		)

	case types.SectionNarrativeOverview:
		return fmt.Sprintf(
			"During %s, %s County experienced a weekly rainfall total of %.1f mm, "+
				"mean temperatures around %.1f degrees Celsius, and winds averaging %.1f km/h. "+
				"Figures for all %d wards are tabulated in the ward summary section.",
			doc.Period.Formatted(), doc.CountyName, rain.Weekly.Total,
			temp.Weekly.Mean, wind.Weekly.MeanSpeed, len(doc.Wards),
		)

	case types.SectionRainfallOutlook:
		text := fmt.Sprintf(
			"Total rainfall for the week was %.1f mm across %d rainy days, "+
				"with a maximum daily intensity of %.1f mm.",
			rain.Weekly.Total, rain.Weekly.RainyDays, rain.Weekly.MaxIntensity,
		)
		if prob, ok := rain.ProbabilityAboveNorm.Get(); ok {
			text += fmt.Sprintf(" The probability of above-normal rainfall is %.0f%%.", prob*100)
		}
		return text

	case types.SectionTemperatureOutlook:
		return fmt.Sprintf(
			"Temperatures ranged between %.1f and %.1f degrees Celsius, "+
				"with a weekly mean of %.1f degrees.",
			temp.Weekly.Min, temp.Weekly.Max, temp.Weekly.Mean,
		)

	case types.SectionWindOutlook:
		return fmt.Sprintf(
			"Winds averaged %.1f km/h from the %s, with a maximum gust of %.1f km/h.",
			wind.Weekly.MeanSpeed, wind.Weekly.DominantDirection, wind.Weekly.MaxGust,
		)

	case types.SectionAdvisories:
		var lines []string
		for _, ward := range doc.Wards {
			if advisory, ok := ward.Advisory.Get(); ok {
				lines = append(lines, fmt.Sprintf("%s: %s", ward.Name, advisory))
			}
		}
		if len(lines) == 0 {
			return "No specific weather advisories are in effect for this period."
		}
		return "The following ward advisories are in effect. " + strings.Join(lines, " ")
	}

	return fmt.Sprintf("Data for the %s section is presented in the accompanying tables.", sectionID)
}
