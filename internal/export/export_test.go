package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func sample() Table {
	return Table{
		Title:   "Defects",
		Columns: []string{"ID", "Title", "Status"},
		Rows: [][]string{
			{"1", "Cracked tile, lobby", "open"},
			{"2", "Água infiltrada no teto", "closed"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatCSV, "CSV": FormatCSV, "xlsx": FormatExcel, "excel": FormatExcel, "pdf": FormatPDF}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("docx"); err != ErrUnknownFormat {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestCSVStartsWithBOM(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatCSV, sample()); err != nil {
		t.Fatalf("render: %v", err)
	}

	data := buf.Bytes()
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatalf("missing UTF-8 BOM")
	}

	records, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 || records[1][1] != "Cracked tile, lobby" || records[2][1] != "Água infiltrada no teto" {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatExcel, sample()); err != nil {
		t.Fatalf("render: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Defects")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][2] != "Status" || rows[2][2] != "closed" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestPDFOutput(t *testing.T) {
	table := sample()
	for i := 0; i < 80; i++ {
		table.Rows = append(table.Rows, []string{"9", strings.Repeat("long description ", 10), "pending"})
	}

	var buf bytes.Buffer
	if err := Render(&buf, FormatPDF, table); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
	if buf.Len() < 1000 {
		t.Fatalf("pdf suspiciously small: %d bytes", buf.Len())
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 25, 0, 0, time.UTC)
	if got := Filename("contractors", FormatExcel, now); got != "contractors_20260301_142500.xlsx" {
		t.Fatalf("filename = %s", got)
	}
}
