package grid

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadWorkbook parses xlsx bytes into a grid. Only the first sheet is read,
// matching the upload contract. Raw cell values are kept so numeric text is
// preserved byte-for-byte; style ids ride along as opaque metadata.
func LoadWorkbook(data []byte) (*Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	g := New()

	if dim, err := f.GetSheetDimension(sheet); err == nil && dim != "" {
		if r, ok := parseDimension(dim); ok {
			g.SetDeclared(r)
		}
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	for rowIdx, row := range rows {
		for colIdx, raw := range row {
			if raw == "" {
				continue
			}
			c := cellFromString(raw)
			if name, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1); err == nil {
				if styleID, err := f.GetCellStyle(sheet, name); err == nil {
					c.StyleID = styleID
				}
			}
			g.Set(rowIdx, colIdx, c)
		}
	}
	return g, nil
}

// parseDimension converts a declared range like "A1:U500" (or a single-cell
// "A1") into a 0-based Range.
func parseDimension(dim string) (Range, bool) {
	start, end := dim, dim
	if i := strings.IndexByte(dim, ':'); i >= 0 {
		start, end = dim[:i], dim[i+1:]
	}
	sc, sr, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return Range{}, false
	}
	ec, er, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return Range{}, false
	}
	return Range{
		MinRow: sr - 1,
		MaxRow: er - 1,
		MinCol: sc - 1,
		MaxCol: ec - 1,
	}, true
}

// LoadCSV parses csv bytes into a grid. CSV carries no formatting, so cells
// get a zero style id; the observed extent doubles as the declared range.
func LoadCSV(r io.Reader) (*Grid, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	g := New()
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for col, raw := range record {
			g.Set(row, col, cellFromString(raw))
		}
		row++
	}
	if bounds, ok := g.Bounds(); ok {
		g.SetDeclared(bounds)
	}
	return g, nil
}
