package types

// SectionID identifies a narrative slot within the report. Narrative section
// ids coincide with the SectionKind values listed in NarrativeSections.
type SectionID string

// Narrative is one generated (or fallback) prose block for a report section.
type Narrative struct {
	SectionID   SectionID `json:"section_id"`
	Text        string    `json:"text"`
	Provider    string    `json:"provider"`
	ContentHash string    `json:"content_hash"`
	// Fallback marks text produced from the deterministic template after all
	// configured providers failed.
	Fallback bool `json:"fallback"`
}

// NarrativeSet maps section ids to their generated narratives. Built once per
// execution during the narrative stage; read-only afterwards.
type NarrativeSet map[SectionID]Narrative

// Get returns the narrative for a section, if generated.
func (s NarrativeSet) Get(id SectionID) (Narrative, bool) {
	n, ok := s[id]
	return n, ok
}

// FallbackCount returns how many narratives degraded to templated text.
func (s NarrativeSet) FallbackCount() int {
	count := 0
	for _, n := range s {
		if n.Fallback {
			count++
		}
	}
	return count
}

// SectionTable is a structured grid rendered into the PDF.
type SectionTable struct {
	Title  string     `json:"title,omitempty"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// ChartSeries is a daily numeric series rendered as a bar chart immediately
// before embedding. Days and Values have equal length (DaysPerWeek).
type ChartSeries struct {
	Label  string    `json:"label"`
	Unit   string    `json:"unit"`
	Days   []string  `json:"days"`
	Values []float64 `json:"values"`
}

// KeyValue is a labeled display value on the cover or summary sections.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReportSection is one assembled, ordered unit of the final report. Sections
// are ephemeral: built once per execution by the assembler and consumed by the
// renderer.
type ReportSection struct {
	Kind      SectionKind   `json:"kind"`
	Title     string        `json:"title"`
	Narrative string        `json:"narrative,omitempty"`
	Facts     []KeyValue    `json:"facts,omitempty"`
	Tables    []SectionTable `json:"tables,omitempty"`
	Chart     *ChartSeries  `json:"chart,omitempty"`
	// Map is set on variable-outlook sections. A Missing reference renders as
	// a labeled placeholder box, never as an omitted region.
	Map *MapReference `json:"map,omitempty"`
	// Variable is set only for SectionRainfallOutlook, SectionTemperatureOutlook
	// and SectionWindOutlook.
	Variable Variable `json:"variable,omitempty"`
}

// CompleteReport is the intermediate artifact persisted alongside the PDF:
// the validated document, generated narratives, map references, and the
// assembled sections. It is what the dashboard consumes for HTML previews.
type CompleteReport struct {
	ExecutionID string              `json:"execution_id"`
	Document    WeatherDataDocument `json:"document"`
	Narratives  NarrativeSet        `json:"narratives"`
	Maps        []MapReference      `json:"maps"`
	Sections    []ReportSection     `json:"sections"`
	Warnings    []string            `json:"warnings,omitempty"`
}
