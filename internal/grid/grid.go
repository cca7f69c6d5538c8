package grid

import (
	"strconv"
	"strings"
)

// Kind classifies a cell value.
type Kind int

const (
	Empty Kind = iota
	Number
	Text
)

// Address identifies a cell by 0-based row and column.
type Address struct {
	Row int
	Col int
}

// Cell holds a typed value plus opaque formatting metadata. StyleID is carried
// verbatim and never interpreted; the reconciliation service is the only
// component that rewrites formatting.
type Cell struct {
	Kind    Kind
	Number  float64
	Text    string
	Raw     string
	StyleID int
}

// Range is an inclusive bounding rectangle.
type Range struct {
	MinRow, MaxRow int
	MinCol, MaxCol int
}

// Rows returns the declared row count.
func (r Range) Rows() int { return r.MaxRow - r.MinRow + 1 }

// Grid is a sparse addressable container of cells over a bounding range.
// Sheets are sparse and declared ranges can be large, so cells live in a map
// rather than a dense 2D array.
type Grid struct {
	cells    map[Address]Cell
	bounds   Range
	hasCells bool

	// declared is the range the file claims, when it claims one. It can
	// understate real content and is treated as a hint, not a limit.
	declared    Range
	hasDeclared bool
}

// New returns an empty grid with no declared range.
func New() *Grid {
	return &Grid{cells: make(map[Address]Cell)}
}

// Set stores a cell and grows the observed bounding range. Empty cells are
// not stored; the sparse map only holds real content.
func (g *Grid) Set(row, col int, c Cell) {
	if row < 0 || col < 0 || c.Kind == Empty {
		return
	}
	addr := Address{Row: row, Col: col}
	g.cells[addr] = c
	if !g.hasCells {
		g.bounds = Range{MinRow: row, MaxRow: row, MinCol: col, MaxCol: col}
		g.hasCells = true
		return
	}
	if row < g.bounds.MinRow {
		g.bounds.MinRow = row
	}
	if row > g.bounds.MaxRow {
		g.bounds.MaxRow = row
	}
	if col < g.bounds.MinCol {
		g.bounds.MinCol = col
	}
	if col > g.bounds.MaxCol {
		g.bounds.MaxCol = col
	}
}

// SetDeclared records the range the file itself declared.
func (g *Grid) SetDeclared(r Range) {
	g.declared = r
	g.hasDeclared = true
}

// Cell returns the cell at (row, col); missing cells read as Empty.
func (g *Grid) Cell(row, col int) Cell {
	if c, ok := g.cells[Address{Row: row, Col: col}]; ok {
		return c
	}
	return Cell{Kind: Empty}
}

// Bounds returns the effective bounding range. The declared range wins when
// present and at least as large as the observed content, since trailing rows
// may carry only formatting with no stored values. ok is false for a grid
// with no declared range and no cells at all.
func (g *Grid) Bounds() (Range, bool) {
	switch {
	case g.hasDeclared && g.hasCells:
		r := g.declared
		if g.bounds.MaxRow > r.MaxRow {
			r.MaxRow = g.bounds.MaxRow
		}
		if g.bounds.MaxCol > r.MaxCol {
			r.MaxCol = g.bounds.MaxCol
		}
		return r, true
	case g.hasDeclared:
		return g.declared, true
	case g.hasCells:
		return g.bounds, true
	default:
		return Range{}, false
	}
}

// CellCount reports the number of stored (non-empty) cells.
func (g *Grid) CellCount() int { return len(g.cells) }

// NumberAt reads a cell coerced to a number. Textual numerics are accepted
// as-is and parsed; anything else reads as 0.
func (g *Grid) NumberAt(row, col int) float64 {
	c := g.Cell(row, col)
	switch c.Kind {
	case Number:
		return c.Number
	case Text:
		if f, err := strconv.ParseFloat(strings.TrimSpace(c.Text), 64); err == nil {
			return f
		}
	}
	return 0
}

// TextAt reads a cell coerced to a string. Numeric cells render their raw
// representation so numeric product names still count as names.
func (g *Grid) TextAt(row, col int) string {
	c := g.Cell(row, col)
	switch c.Kind {
	case Text:
		return c.Text
	case Number:
		if c.Raw != "" {
			return c.Raw
		}
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	}
	return ""
}

// cellFromString builds a typed cell from a raw string value, trying integer
// and float coercion before falling back to text.
func cellFromString(raw string) Cell {
	if raw == "" {
		return Cell{Kind: Empty}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return Cell{Kind: Number, Number: f, Raw: raw}
		}
	}
	return Cell{Kind: Text, Text: raw, Raw: raw}
}
