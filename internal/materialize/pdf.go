package materialize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/tabular"
)

const (
	pdfMargin     = 10.0
	pdfRowHeight  = 6.0
	pdfTitleSize  = 14.0
	pdfMinFont    = 5.0
	pdfMaxFont    = 9.0
	noDataMessage = "No data available for the selected locations and period."
)

// PDFRenderer writes a landscape A4 table. A table without rows renders a
// placeholder message instead of an empty grid.
type PDFRenderer struct{}

// Format implements Renderer.
func (PDFRenderer) Format() export.FileType { return export.FilePDF }

// Render implements Renderer.
func (PDFRenderer) Render(t *Table) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = "Air quality data"
	}
	pdf.SetTitle(title, true)
	pdf.SetCreator("airdash", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", pdfTitleSize)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	headers := t.Selected()
	rows := t.SelectedRows()
	if len(rows) == 0 || len(headers) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 10, tr(noDataMessage), "", 1, "L", false, 0, "")
		return output(pdf)
	}

	pageWidth, pageHeight := pdf.GetPageSize()
	usable := pageWidth - 2*pdfMargin
	colWidth := usable / float64(len(headers))
	fontSize := fitFontSize(len(headers))

	drawHeader := func() {
		pdf.SetFont("Helvetica", "B", fontSize)
		pdf.SetFillColor(230, 236, 242)
		for _, h := range headers {
			pdf.CellFormat(colWidth, pdfRowHeight+1, clip(pdf, tr(h), colWidth), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", fontSize)
	}

	drawHeader()
	for _, row := range rows {
		if pdf.GetY()+pdfRowHeight > pageHeight-pdfMargin {
			pdf.AddPage()
			drawHeader()
		}
		for _, f := range row {
			pdf.CellFormat(colWidth, pdfRowHeight, clip(pdf, tr(tabular.FormatValue(f.Value)), colWidth), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// fitFontSize shrinks the body font as the column count grows.
func fitFontSize(columns int) float64 {
	size := pdfMaxFont - float64(columns-6)*0.5
	switch {
	case size > pdfMaxFont:
		return pdfMaxFont
	case size < pdfMinFont:
		return pdfMinFont
	default:
		return size
	}
}

// clip shortens s with an ellipsis until it fits a cell of width w.
func clip(pdf *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > limit {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
