package export

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"
)

const (
	pdfMargin    = 10.0
	pdfRowHeight = 6.0
	pdfMinCol    = 14.0
)

func WritePDF(w io.Writer, t Table) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, _ := pdf.GetPageSize()
	widths := columnWidths(t, pageW-2*pdfMargin)
	generated := time.Now().Format("2006-01-02 15:04")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(t.Title), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(0, 8, tr("Generated "+generated), "", 1, "R", false, 0, "")

		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(221, 235, 247)
		for i, c := range t.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, tr(fit(pdf, c, widths[i])), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(pdfRowHeight)
		pdf.SetFont("Helvetica", "", 8)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for _, row := range t.Rows {
		for i := range t.Columns {
			var v string
			if i < len(row) {
				v = row[i]
			}
			pdf.CellFormat(widths[i], pdfRowHeight, tr(fit(pdf, v, widths[i])), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(pdfRowHeight)
	}
	if len(t.Rows) == 0 {
		pdf.CellFormat(0, pdfRowHeight, "No records.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return errors.Wrap(err, "build pdf")
	}
	return errors.Wrap(pdf.Output(w), "write pdf")
}

// columnWidths splits the usable width in proportion to the longest value of each column.
func columnWidths(t Table, usable float64) []float64 {
	n := len(t.Columns)
	if n == 0 {
		return nil
	}

	weights := make([]float64, n)
	var total float64
	for i, c := range t.Columns {
		longest := len(c)
		for _, row := range t.Rows {
			if i < len(row) && len(row[i]) > longest {
				longest = len(row[i])
			}
		}
		if longest > 40 {
			longest = 40
		}
		weights[i] = float64(longest) + 4
		total += weights[i]
	}

	widths := make([]float64, n)
	for i := range weights {
		widths[i] = usable * weights[i] / total
		if widths[i] < pdfMinCol {
			widths[i] = pdfMinCol
		}
	}
	return widths
}

// fit shortens s until it fits into a cell of width w.
func fit(pdf *fpdf.Fpdf, s string, w float64) string {
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
