package types

// ExecStatus represents the lifecycle state of a pipeline execution.
type ExecStatus string

const (
	ExecStatusPending   ExecStatus = "pending"
	ExecStatusRunning   ExecStatus = "running"
	ExecStatusCompleted ExecStatus = "completed"
	ExecStatusFailed    ExecStatus = "failed"
	ExecStatusCancelled ExecStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. Terminal executions
// are never mutated again; cancellation of a terminal execution is a no-op.
func (s ExecStatus) Terminal() bool {
	return s == ExecStatusCompleted || s == ExecStatusFailed || s == ExecStatusCancelled
}

// Valid reports whether s is a recognized execution status. Used when parsing
// status filters from query strings.
func (s ExecStatus) Valid() bool {
	switch s {
	case ExecStatusPending, ExecStatusRunning, ExecStatusCompleted, ExecStatusFailed, ExecStatusCancelled:
		return true
	}
	return false
}

// Stage identifies one discrete step of the pipeline state machine.
// Stage transitions are strictly ordered; see pipeline.Orchestrator.
type Stage string

const (
	StagePending              Stage = "pending"
	StageValidating           Stage = "validating"
	StageGeneratingNarratives Stage = "generating_narratives"
	StageResolvingMaps        Stage = "resolving_maps"
	StageAssembling           Stage = "assembling"
	StageRendering            Stage = "rendering"
	StagePersisting           Stage = "persisting"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
	StageCancelled            Stage = "cancelled"
)

// Progress checkpoints reached at the completion of each stage. Progress is
// monotonically non-decreasing; within the narrative stage it advances
// proportionally between the validating and narrative checkpoints as sections
// complete.
const (
	ProgressValidated      = 10
	ProgressNarrativeStart = 15
	ProgressNarrativesDone = 40
	ProgressMapsResolved   = 50
	ProgressAssembled      = 55
	ProgressRendered       = 80
	ProgressPersisted      = 95
	ProgressCompleted      = 100
)

// Variable identifies a weather variable covered by the report.
type Variable string

const (
	VariableRainfall    Variable = "rainfall"
	VariableTemperature Variable = "temperature"
	VariableWind        Variable = "wind"
)

// AllVariables lists every mappable weather variable in report order.
var AllVariables = []Variable{VariableRainfall, VariableTemperature, VariableWind}

// Valid reports whether v is a recognized weather variable.
func (v Variable) Valid() bool {
	switch v {
	case VariableRainfall, VariableTemperature, VariableWind:
		return true
	}
	return false
}

// SectionKind identifies a report section. The assembler emits sections in the
// fixed order given by SectionOrder; the renderer consumes them in that order.
type SectionKind string

const (
	SectionCover              SectionKind = "cover"
	SectionExecutiveSummary   SectionKind = "executive_summary"
	SectionNarrativeOverview  SectionKind = "narrative_overview"
	SectionRainfallOutlook    SectionKind = "rainfall_outlook"
	SectionTemperatureOutlook SectionKind = "temperature_outlook"
	SectionWindOutlook        SectionKind = "wind_outlook"
	SectionWardTable          SectionKind = "ward_table"
	SectionExtremes           SectionKind = "extremes"
	SectionAdvisories         SectionKind = "advisories"
	SectionMethodology        SectionKind = "methodology"
	SectionDisclaimers        SectionKind = "disclaimers"
)

// SectionOrder is the fixed, non-configurable order of report sections.
var SectionOrder = []SectionKind{
	SectionCover,
	SectionExecutiveSummary,
	SectionNarrativeOverview,
	SectionRainfallOutlook,
	SectionTemperatureOutlook,
	SectionWindOutlook,
	SectionWardTable,
	SectionExtremes,
	SectionAdvisories,
	SectionMethodology,
	SectionDisclaimers,
}

// NarrativeSections lists the section kinds that carry AI-generated prose.
// Each entry gets its own provider call (or cached/fallback text).
var NarrativeSections = []SectionKind{
	SectionExecutiveSummary,
	SectionNarrativeOverview,
	SectionRainfallOutlook,
	SectionTemperatureOutlook,
	SectionWindOutlook,
	SectionAdvisories,
}

// MapFormat identifies a supported map image format.
type MapFormat string

const (
	MapFormatPNG  MapFormat = "png"
	MapFormatJPEG MapFormat = "jpeg"
	MapFormatSVG  MapFormat = "svg"
)

// Valid reports whether f is a supported map image format.
func (f MapFormat) Valid() bool {
	switch f {
	case MapFormatPNG, MapFormatJPEG, MapFormatSVG:
		return true
	}
	return false
}

// TerminalErrorKind distinguishes the classes of terminal failure so callers
// can tell "your input was invalid" apart from "the system could not complete
// this".
type TerminalErrorKind string

const (
	TerminalErrorValidation TerminalErrorKind = "validation"
	TerminalErrorRender     TerminalErrorKind = "render"
	TerminalErrorStorage    TerminalErrorKind = "storage"
	TerminalErrorInternal   TerminalErrorKind = "internal"
)
