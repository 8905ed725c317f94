package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatPDF   Format = "pdf"
)

var Formats = []Format{FormatCSV, FormatExcel, FormatPDF}

var ErrUnknownFormat = errors.New("unknown export format")

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", ErrUnknownFormat
}

func (f Format) Extension() string {
	switch f {
	case FormatExcel:
		return "xlsx"
	case FormatPDF:
		return "pdf"
	}
	return "csv"
}

func (f Format) ContentType() string {
	switch f {
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Table is the format-independent shape of an export.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

func Render(w io.Writer, f Format, t Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatExcel:
		return WriteXLSX(w, t)
	case FormatPDF:
		return WritePDF(w, t)
	}
	return ErrUnknownFormat
}

// Filename builds e.g. "defects_20260301_142500.xlsx".
func Filename(entity string, f Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", entity, now.Format("20060102_150405"), f.Extension())
}
