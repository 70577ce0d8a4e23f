package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// Color scheme - calm editorial theme
var (
	pdfColorPrimary     = [3]int{30, 58, 95}    // Dark navy
	pdfColorAccent      = [3]int{52, 152, 219}  // Bright blue
	pdfColorTextDark    = [3]int{44, 62, 80}    // Dark text
	pdfColorTextMuted   = [3]int{127, 140, 141} // Muted text
	pdfColorBackground  = [3]int{248, 249, 250} // Light gray bg
	pdfColorTableHeader = [3]int{30, 58, 95}    // Navy header
	pdfColorTableAlt    = [3]int{241, 245, 249} // Alternating row
	pdfColorGridLine    = [3]int{220, 220, 220} // Divider
)

// PDFData is everything one rendered report needs: the band-scored view and
// the generated document when one exists.
type PDFData struct {
	TestTitle   string
	ReportTitle string
	Band        *BandView
	Scales      []ScaleEntry
	TotalScore  float64
	GeneratedAt time.Time
	Doc         *ReportJSON
}

// PDFGenerator renders report PDFs.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate renders a report PDF from the provided data.
func (g *PDFGenerator) Generate(data *PDFData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("no report data")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	g.writeCoverPage(pdf, data)

	pdf.AddPage()
	if data.Band != nil {
		g.writeBandSection(pdf, data)
	}
	if len(data.Scales) > 0 {
		g.writeScaleTable(pdf, data)
	}

	if data.Doc != nil {
		g.writeDocument(pdf, data.Doc)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, data *PDFData) {
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(60)
	pdf.SetFont("Arial", "B", 28)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	title := data.ReportTitle
	if title == "" {
		title = "Your Report"
	}
	pdf.MultiCell(0, 12, title, "", "C", false)

	pdf.SetY(90)
	pdf.SetFont("Arial", "", 13)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(0, 8, data.TestTitle, "", 1, "C", false, 0, "")

	if data.Doc != nil && data.Doc.Summary.Headline != "" {
		pdf.SetY(130)
		boxX := 35.0
		boxWidth := pageWidth - 70

		pdf.SetFillColor(pdfColorBackground[0], pdfColorBackground[1], pdfColorBackground[2])
		pdf.SetDrawColor(pdfColorGridLine[0], pdfColorGridLine[1], pdfColorGridLine[2])
		pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, 36, 3, "1234", "FD")

		pdf.SetY(pdf.GetY() + 8)
		pdf.SetX(boxX + 8)
		pdf.SetFont("Arial", "B", 13)
		pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
		pdf.MultiCell(boxWidth-16, 7, data.Doc.Summary.Headline, "", "C", false)
	}

	pdf.SetY(pageHeight - 50)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.UTC().Format("January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")

	pdf.SetFillColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func (g *PDFGenerator) sectionTitle(pdf *fpdf.Fpdf, title string) {
	if pdf.GetY() > 245 {
		pdf.AddPage()
	}
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 15)
	pdf.SetTextColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")

	// Accent underline
	pdf.SetDrawColor(pdfColorAccent[0], pdfColorAccent[1], pdfColorAccent[2])
	pdf.SetLineWidth(0.6)
	y := pdf.GetY()
	pdf.Line(20, y, 60, y)
	pdf.SetLineWidth(0.2)
	pdf.Ln(3)
}

func (g *PDFGenerator) bodyText(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	pdf.MultiCell(0, 6, text, "", "L", false)
	pdf.Ln(2)
}

func (g *PDFGenerator) bulletList(pdf *fpdf.Fpdf, items []string) {
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	for _, item := range items {
		pdf.SetX(26)
		pdf.MultiCell(0, 6, "- "+item, "", "L", false)
	}
	pdf.Ln(2)
}

func (g *PDFGenerator) writeBandSection(pdf *fpdf.Fpdf, data *PDFData) {
	g.sectionTitle(pdf, "Your Result")

	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	pdf.MultiCell(0, 7, data.Band.Headline, "", "L", false)
	pdf.Ln(1)

	g.bodyText(pdf, data.Band.Summary)
	if len(data.Band.Bullets) > 0 {
		g.bulletList(pdf, data.Band.Bullets)
	}
}

func (g *PDFGenerator) writeScaleTable(pdf *fpdf.Fpdf, data *PDFData) {
	g.sectionTitle(pdf, "Scale Scores")

	colScale := 90.0
	colValue := 40.0

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(pdfColorTableHeader[0], pdfColorTableHeader[1], pdfColorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(colScale, 8, "Scale", "", 0, "L", true, 0, "")
	pdf.CellFormat(colValue, 8, "Score", "", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	for i, entry := range data.Scales {
		fill := i%2 == 1
		pdf.SetFillColor(pdfColorTableAlt[0], pdfColorTableAlt[1], pdfColorTableAlt[2])
		pdf.CellFormat(colScale, 7, entry.Scale, "", 0, "L", fill, 0, "")
		pdf.CellFormat(colValue, 7, fmt.Sprintf("%.1f", entry.Value), "", 1, "R", fill, 0, "")
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(colScale, 8, "Total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(colValue, 8, fmt.Sprintf("%.1f", data.TotalScore), "T", 1, "R", false, 0, "")
	pdf.Ln(2)
}

func (g *PDFGenerator) writeDocument(pdf *fpdf.Fpdf, doc *ReportJSON) {
	g.sectionTitle(pdf, "Summary")
	g.bodyText(pdf, doc.Summary.Headline)
	g.bulletList(pdf, doc.Summary.Bullets)

	for _, section := range doc.Sections {
		g.sectionTitle(pdf, section.Title)
		g.bodyText(pdf, section.Body)
		if len(section.Bullets) > 0 {
			g.bulletList(pdf, section.Bullets)
		}
	}

	if len(doc.ActionPlan) > 0 {
		g.sectionTitle(pdf, "Action Plan")
		for _, item := range doc.ActionPlan {
			pdf.SetFont("Arial", "B", 11)
			pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
			pdf.MultiCell(0, 6, item.Title, "", "L", false)
			g.bulletList(pdf, item.Steps)
		}
	}

	if len(doc.Disclaimers) > 0 {
		g.sectionTitle(pdf, "Disclaimers")
		pdf.SetFont("Arial", "I", 9)
		pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
		for _, line := range doc.Disclaimers {
			pdf.MultiCell(0, 5, line, "", "L", false)
			pdf.Ln(1)
		}
	}
}
