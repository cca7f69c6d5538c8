// Package extract scans the grid for product rows under a fixed column layout.
//
// The sheet format reserves the first rows as a header/legend block; product
// data starts at a fixed row and lives in fixed columns (name, price, stock,
// image). Rows are sparse, and the declared sheet range is unreliable when
// trailing rows hold only formatting, so scanning is bounded by a consecutive
// empty-row threshold and a ceiling policy rather than the declared range alone.
package extract

import (
	"strings"

	"github.com/example/storesheet/internal/grid"
	"github.com/example/storesheet/internal/model"
)

// Config fixes the column layout and scan bounds.
type Config struct {
	NameCol  int
	PriceCol int
	StockCol int
	ImageCol int

	// StartRow is the first data-eligible row (0-based). Rows before it are
	// the reserved header/legend block and are never scanned as data.
	StartRow int

	// MaxEmptyRows terminates the scan after this many consecutive misses.
	MaxEmptyRows int

	// MaxScanRow is the hard ceiling regardless of the range-based policy.
	MaxScanRow int

	// Ceiling policy: a declared range under SmallRangeRows rows is treated
	// as understating real content and replaced by ForcedCeiling; otherwise
	// the scan runs to declared-end + SafetyMargin, capped at AbsoluteCeiling.
	SmallRangeRows  int
	ForcedCeiling   int
	SafetyMargin    int
	AbsoluteCeiling int
}

// DefaultConfig matches the store export layout: name in D, price in F,
// stock in H, image URL in U, data from Excel row 6.
func DefaultConfig() Config {
	return Config{
		NameCol:         3,
		PriceCol:        5,
		StockCol:        7,
		ImageCol:        20,
		StartRow:        5,
		MaxEmptyRows:    20,
		MaxScanRow:      50000,
		SmallRangeRows:  100,
		ForcedCeiling:   1000,
		SafetyMargin:    100,
		AbsoluteCeiling: 5000,
	}
}

// Extract scans g and returns product records in row order. A row is a hit
// when its name cell is non-empty after trimming; price and stock default to
// zero and a missing image yields an empty reference, never an error. A grid
// with no range at all returns an empty list — "no data" is the caller's
// state to surface, not an error here.
func Extract(g *grid.Grid, cfg Config) []model.ProductRecord {
	bounds, ok := g.Bounds()
	if !ok {
		return nil
	}

	ceiling := scanCeiling(bounds, cfg)
	records := make([]model.ProductRecord, 0, 64)
	emptyRun := 0

	for row := cfg.StartRow; row <= ceiling; row++ {
		name := strings.TrimSpace(g.TextAt(row, cfg.NameCol))
		if name == "" {
			emptyRun++
			if emptyRun >= cfg.MaxEmptyRows {
				break
			}
			continue
		}
		emptyRun = 0
		records = append(records, model.ProductRecord{
			ProductName: name,
			Price:       g.NumberAt(row, cfg.PriceCol),
			Stock:       g.NumberAt(row, cfg.StockCol),
			ImageRef:    strings.TrimSpace(g.TextAt(row, cfg.ImageCol)),
			SourceRow:   row,
		})
	}
	return records
}

func scanCeiling(bounds grid.Range, cfg Config) int {
	var ceiling int
	if bounds.Rows() < cfg.SmallRangeRows {
		ceiling = cfg.ForcedCeiling
	} else {
		ceiling = bounds.MaxRow + cfg.SafetyMargin
		if ceiling > cfg.AbsoluteCeiling {
			ceiling = cfg.AbsoluteCeiling
		}
	}
	if ceiling > cfg.MaxScanRow {
		ceiling = cfg.MaxScanRow
	}
	return ceiling
}
