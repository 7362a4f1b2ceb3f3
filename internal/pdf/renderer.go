// Package pdf renders an assembled report into the final PDF document. The
// renderer consumes sections in the order the assembler produced them and is
// the only pipeline stage allowed to fail on asset problems: a corrupt map
// image aborts the render, while a Missing map reference degrades to a
// labeled placeholder box.
package pdf

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"

	"climascope/internal/types"
)

// Page geometry in millimetres (A4 portrait).
const (
	pageWidth    = 210.0
	marginLeft   = 15.0
	marginTop    = 15.0
	marginRight  = 15.0
	contentWidth = pageWidth - marginLeft - marginRight

	chartHeight = 45.0
	mapHeight   = 80.0
)

// Renderer produces the report PDF. Safe for concurrent use; each Render call
// builds an independent document.
type Renderer struct {
	logger *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render builds the PDF from the complete report. Fatal conditions (corrupt
// embedded image, document generation failure) return an internal_render
// AppError; everything degradable was already degraded upstream.
func (r *Renderer) Render(report *types.CompleteReport) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(marginLeft, marginTop, marginRight)
	doc.SetAutoPageBreak(true, 20)
	doc.SetTitle(fmt.Sprintf("%s County Weather Report", report.Document.CountyName), false)
	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont("Helvetica", "I", 8)
		doc.SetTextColor(120, 120, 120)
		doc.CellFormat(0, 8, fmt.Sprintf("Page %d", doc.PageNo()), "", 0, "C", false, 0, "")
	})

	for _, section := range report.Sections {
		if section.Kind == types.SectionCover {
			r.renderCover(doc, report, section)
			continue
		}
		r.renderSection(doc, section)
	}

	if len(report.Warnings) > 0 {
		r.renderWarnings(doc, report.Warnings)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalRender,
			"failed to generate report PDF",
			err,
		)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderCover(doc *fpdf.Fpdf, report *types.CompleteReport, section types.ReportSection) {
	doc.AddPage()
	doc.SetY(70)

	doc.SetFont("Helvetica", "B", 24)
	doc.SetTextColor(20, 50, 90)
	doc.MultiCell(contentWidth, 12, section.Title, "", "C", false)
	doc.Ln(6)

	doc.SetFont("Helvetica", "", 13)
	doc.SetTextColor(60, 60, 60)
	doc.MultiCell(contentWidth, 8, report.Document.Period.Formatted(), "", "C", false)
	doc.Ln(20)

	doc.SetFont("Helvetica", "", 10)
	for _, fact := range section.Facts {
		doc.CellFormat(contentWidth, 6, fmt.Sprintf("%s: %s", fact.Key, fact.Value), "", 1, "C", false, 0, "")
	}
}

func (r *Renderer) renderSection(doc *fpdf.Fpdf, section types.ReportSection) {
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 16)
	doc.SetTextColor(20, 50, 90)
	doc.CellFormat(contentWidth, 10, section.Title, "", 1, "L", false, 0, "")
	doc.SetDrawColor(20, 50, 90)
	doc.SetLineWidth(0.5)
	doc.Line(marginLeft, doc.GetY(), marginLeft+contentWidth, doc.GetY())
	doc.Ln(4)

	if len(section.Facts) > 0 {
		r.renderFacts(doc, section.Facts)
	}

	if section.Narrative != "" {
		doc.SetFont("Helvetica", "", 10)
		doc.SetTextColor(40, 40, 40)
		doc.MultiCell(contentWidth, 5.5, section.Narrative, "", "L", false)
		doc.Ln(4)
	}

	if section.Chart != nil {
		r.renderChart(doc, section.Chart)
	}

	for _, table := range section.Tables {
		r.renderTable(doc, table)
	}

	if section.Map != nil {
		r.renderMap(doc, section.Map)
	}
}

func (r *Renderer) renderFacts(doc *fpdf.Fpdf, facts []types.KeyValue) {
	doc.SetFont("Helvetica", "", 10)
	for _, fact := range facts {
		doc.SetTextColor(100, 100, 100)
		doc.CellFormat(55, 6, fact.Key, "", 0, "L", false, 0, "")
		doc.SetTextColor(30, 30, 30)
		doc.CellFormat(contentWidth-55, 6, fact.Value, "", 1, "L", false, 0, "")
	}
	doc.Ln(3)
}

func (r *Renderer) renderTable(doc *fpdf.Fpdf, table types.SectionTable) {
	if table.Title != "" {
		doc.SetFont("Helvetica", "B", 11)
		doc.SetTextColor(30, 30, 30)
		doc.CellFormat(contentWidth, 7, table.Title, "", 1, "L", false, 0, "")
	}
	if len(table.Header) == 0 {
		return
	}

	colWidth := contentWidth / float64(len(table.Header))

	doc.SetFont("Helvetica", "B", 8.5)
	doc.SetFillColor(230, 236, 245)
	doc.SetTextColor(20, 50, 90)
	for _, h := range table.Header {
		doc.CellFormat(colWidth, 7, h, "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Helvetica", "", 8.5)
	doc.SetTextColor(40, 40, 40)
	fill := false
	doc.SetFillColor(246, 248, 251)
	for _, row := range table.Rows {
		for i := 0; i < len(table.Header); i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			doc.CellFormat(colWidth, 6, truncate(cell, 34), "1", 0, "L", fill, 0, "")
		}
		doc.Ln(-1)
		fill = !fill
	}
	doc.Ln(4)
}

// renderChart draws a daily series as a simple bar chart using rectangle
// primitives. Charts are generated at render time, never stored.
func (r *Renderer) renderChart(doc *fpdf.Fpdf, chart *types.ChartSeries) {
	if len(chart.Values) == 0 {
		return
	}

	doc.SetFont("Helvetica", "B", 9)
	doc.SetTextColor(30, 30, 30)
	doc.CellFormat(contentWidth, 6, fmt.Sprintf("%s (%s)", chart.Label, chart.Unit), "", 1, "L", false, 0, "")

	top := doc.GetY()
	maxVal := 0.0
	for _, v := range chart.Values {
		if v > maxVal {
			maxVal = v
		}
	}

	barSlot := contentWidth / float64(len(chart.Values))
	barWidth := barSlot * 0.6

	doc.SetFillColor(70, 120, 190)
	doc.SetFont("Helvetica", "", 7)
	for i, v := range chart.Values {
		barHeight := 0.0
		if maxVal > 0 {
			barHeight = (v / maxVal) * (chartHeight - 10)
		}
		x := marginLeft + float64(i)*barSlot + (barSlot-barWidth)/2
		y := top + (chartHeight - 10) - barHeight
		if barHeight > 0 {
			doc.Rect(x, y, barWidth, barHeight, "F")
		}

		doc.SetXY(marginLeft+float64(i)*barSlot, top+chartHeight-9)
		doc.SetTextColor(60, 60, 60)
		doc.CellFormat(barSlot, 4, fmt.Sprintf("%.1f", v), "", 0, "C", false, 0, "")
		doc.SetXY(marginLeft+float64(i)*barSlot, top+chartHeight-5)
		label := ""
		if i < len(chart.Days) {
			label = chart.Days[i]
		}
		doc.CellFormat(barSlot, 4, label, "", 0, "C", false, 0, "")
	}

	// Baseline under the bars.
	doc.SetDrawColor(150, 150, 150)
	doc.SetLineWidth(0.2)
	doc.Line(marginLeft, top+chartHeight-10, marginLeft+contentWidth, top+chartHeight-10)

	doc.SetY(top + chartHeight + 2)
}

// renderMap embeds a resolved map image or draws the labeled placeholder for
// a missing one. An unreadable or corrupt image file is fatal: the execution
// must fail rather than ship a report silently missing a promised asset.
func (r *Renderer) renderMap(doc *fpdf.Fpdf, ref *types.MapReference) {
	if !ref.Found {
		r.renderMapPlaceholder(doc, ref, ref.MissingReason)
		return
	}

	format := imageType(ref)
	if format == "" {
		// SVG cannot be embedded directly; keep the report flowing with a
		// placeholder that points at the stored asset.
		r.renderMapPlaceholder(doc, ref, "map stored as SVG; not embeddable in PDF")
		return
	}

	raw, err := os.ReadFile(ref.AssetPath)
	if err != nil {
		doc.SetError(fmt.Errorf("read map image %s: %w", ref.AssetPath, err))
		return
	}

	opts := fpdf.ImageOptions{ImageType: format, ReadDpi: true}
	doc.RegisterImageOptionsReader(ref.AssetPath, opts, bytes.NewReader(raw))
	if doc.Err() {
		return
	}

	if doc.GetY()+mapHeight > 270 {
		doc.AddPage()
	}
	doc.ImageOptions(ref.AssetPath, marginLeft, doc.GetY(), contentWidth, 0, true, opts, 0, "")
	doc.Ln(3)
}

func (r *Renderer) renderMapPlaceholder(doc *fpdf.Fpdf, ref *types.MapReference, reason string) {
	if doc.GetY()+mapHeight > 270 {
		doc.AddPage()
	}
	top := doc.GetY()

	doc.SetDrawColor(170, 170, 170)
	doc.SetFillColor(245, 245, 245)
	doc.SetLineWidth(0.3)
	doc.Rect(marginLeft, top, contentWidth, mapHeight, "FD")

	doc.SetY(top + mapHeight/2 - 8)
	doc.SetFont("Helvetica", "B", 11)
	doc.SetTextColor(120, 120, 120)
	doc.CellFormat(contentWidth, 6, fmt.Sprintf("%s map unavailable", titleCase(string(ref.Key.Variable))), "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(contentWidth, 5, reason, "", 1, "C", false, 0, "")

	doc.SetY(top + mapHeight + 3)
	r.logger.Debug("rendered map placeholder",
		slog.String("key", ref.Key.String()),
		slog.String("reason", reason),
	)
}

func (r *Renderer) renderWarnings(doc *fpdf.Fpdf, warnings []string) {
	doc.AddPage()
	doc.SetFont("Helvetica", "B", 14)
	doc.SetTextColor(150, 90, 20)
	doc.CellFormat(contentWidth, 10, "Generation Notes", "", 1, "L", false, 0, "")
	doc.Ln(2)

	doc.SetFont("Helvetica", "", 9)
	doc.SetTextColor(60, 60, 60)
	for _, warning := range warnings {
		doc.MultiCell(contentWidth, 5, "- "+warning, "", "L", false)
	}
}

// imageType maps the stored format to fpdf's image type string. SVG returns
// empty (not embeddable).
func imageType(ref *types.MapReference) string {
	var format types.MapFormat
	if ref.Metadata != nil {
		format = ref.Metadata.Format
	} else {
		switch {
		case strings.HasSuffix(ref.AssetPath, ".png"):
			format = types.MapFormatPNG
		case strings.HasSuffix(ref.AssetPath, ".jpeg"), strings.HasSuffix(ref.AssetPath, ".jpg"):
			format = types.MapFormatJPEG
		}
	}

	switch format {
	case types.MapFormatPNG:
		return "PNG"
	case types.MapFormatJPEG:
		return "JPG"
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
