package grid

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, cells map[string]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for ref, v := range cells {
		if err := f.SetCellValue("Sheet1", ref, v); err != nil {
			t.Fatalf("set %s: %v", ref, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestLoadWorkbook(t *testing.T) {
	data := buildWorkbook(t, map[string]any{
		"D6": "blue widget",
		"F6": 1500,
		"H6": 3,
	})
	g, err := LoadWorkbook(data)
	if err != nil {
		t.Fatalf("LoadWorkbook: %v", err)
	}
	if got := g.TextAt(5, 3); got != "blue widget" {
		t.Fatalf("name cell = %q", got)
	}
	if got := g.NumberAt(5, 5); got != 1500 {
		t.Fatalf("price cell = %v", got)
	}
	if got := g.NumberAt(5, 7); got != 3 {
		t.Fatalf("stock cell = %v", got)
	}
}

func TestLoadWorkbookRejectsGarbage(t *testing.T) {
	if _, err := LoadWorkbook([]byte("this is not a zip archive")); err == nil {
		t.Fatal("expected an error for non-xlsx bytes")
	}
}

func TestParseDimension(t *testing.T) {
	r, ok := parseDimension("A1:U500")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	want := Range{MinRow: 0, MaxRow: 499, MinCol: 0, MaxCol: 20}
	if r != want {
		t.Fatalf("range = %+v, want %+v", r, want)
	}

	r, ok = parseDimension("B2")
	if !ok || r.MinRow != 1 || r.MaxRow != 1 || r.MinCol != 1 {
		t.Fatalf("single cell range = %+v ok=%v", r, ok)
	}

	if _, ok := parseDimension("not-a-ref"); ok {
		t.Fatal("expected parse failure")
	}
}
