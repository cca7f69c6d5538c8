// Package dataset tracks the extracted records of one session and the diffs
// applied to them, by hand or by a bulk price-search merge.
package dataset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/example/storesheet/internal/model"
)

// SortMode selects a projection over the tracked records. Projections are
// pure: they copy, they never reorder or mutate the tracked collection.
type SortMode string

const (
	SortDefault   SortMode = "default"
	SortPriceAsc  SortMode = "priceAsc"
	SortPriceDesc SortMode = "priceDesc"
	SortDeltaAsc  SortMode = "deltaAsc"
	SortDeltaDesc SortMode = "deltaDesc"
)

// MergeStats summarizes one bulk merge batch.
type MergeStats struct {
	Merged    int
	NoOp      int
	Conflicts int
	Unmatched int
}

// Dataset is the in-memory record collection for a session. Records are
// indexed by position, not by source row, since rows can be sparse. Every
// manual edit bumps a generation counter; the bulk merge uses it to detect
// records the user touched while a job was in flight.
type Dataset struct {
	mu      sync.Mutex
	records []model.ProductRecord
	editGen []int64
	gen     int64

	byRow  map[int]int
	byName map[string]int
}

// New takes ownership of the extracted records.
func New(records []model.ProductRecord) *Dataset {
	d := &Dataset{
		records: records,
		editGen: make([]int64, len(records)),
		byRow:   make(map[int]int, len(records)),
		byName:  make(map[string]int, len(records)),
	}
	for i, r := range records {
		d.byRow[r.SourceRow] = i
		if _, dup := d.byName[r.ProductName]; !dup {
			d.byName[r.ProductName] = i
		}
	}
	return d
}

// Len returns the record count.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Records returns a copy of the tracked records in extraction order.
func (d *Dataset) Records() []model.ProductRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.ProductRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Record returns the record at a position index.
func (d *Dataset) Record(index int) (model.ProductRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.records) {
		return model.ProductRecord{}, fmt.Errorf("record %d: %w", index, model.ErrNotFound)
	}
	return d.records[index], nil
}

// ModifiedCount reports how many records carry unsaved changes.
func (d *Dataset) ModifiedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.records {
		if r.Modified {
			n++
		}
	}
	return n
}

// Generation returns the current edit generation. The coordinator snapshots
// it at job submission to detect edits made during the wait.
func (d *Dataset) Generation() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// ApplyManualEdit overwrites price and stock on the record at index and marks
// it modified. OriginalPrice and PriceChangeLabel are left alone: a manual
// edit after a bulk edit must not erase the before-vs-after-search comparison.
func (d *Dataset) ApplyManualEdit(index int, price, stock float64) (model.ProductRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.records) {
		return model.ProductRecord{}, fmt.Errorf("record %d: %w", index, model.ErrNotFound)
	}
	d.gen++
	r := &d.records[index]
	r.Price = price
	r.Stock = stock
	r.Modified = true
	r.Conflict = false
	d.editGen[index] = d.gen
	return *r, nil
}

// MergeBulkResults applies one job's results as a single atomic batch.
//
// Matching prefers the echoed source row over the product name, since names
// are not guaranteed unique. A result whose new price equals its current
// price is a no-op and is dropped without marking the record. Records the
// user edited after sinceGen (the generation at job submission) keep the
// manual value and are flagged as conflicts instead of being overwritten.
func (d *Dataset) MergeBulkResults(results []model.PriceResult, sinceGen int64) MergeStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stats MergeStats
	for _, res := range results {
		idx, ok := d.match(res)
		if !ok {
			stats.Unmatched++
			continue
		}
		if res.NewPrice == res.CurrentPrice {
			stats.NoOp++
			continue
		}
		if d.editGen[idx] > sinceGen {
			d.records[idx].Conflict = true
			stats.Conflicts++
			continue
		}
		r := &d.records[idx]
		orig := res.CurrentPrice
		r.OriginalPrice = &orig
		r.Price = res.NewPrice
		r.PriceChangeLabel = model.FormatPriceDelta(res.NewPrice - res.CurrentPrice)
		r.FilterInfo = res.FilterInfo
		r.SearchKeyword = res.SearchKeyword
		r.ValidCandidateCount = res.ValidCandidateCount
		r.Modified = true
		stats.Merged++
	}
	return stats
}

func (d *Dataset) match(res model.PriceResult) (int, bool) {
	if res.Row > 0 {
		if idx, ok := d.byRow[res.Row-1]; ok {
			return idx, true
		}
	}
	if idx, ok := d.byName[res.ProductName]; ok {
		return idx, true
	}
	return 0, false
}

// View returns a sorted copy of the records. SourceRow and Modified state are
// untouched; unknown modes fall back to extraction order.
func (d *Dataset) View(mode SortMode) []model.ProductRecord {
	out := d.Records()
	switch mode {
	case SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	case SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	case SortDeltaAsc:
		sort.SliceStable(out, func(i, j int) bool { return priceDelta(out[i]) < priceDelta(out[j]) })
	case SortDeltaDesc:
		sort.SliceStable(out, func(i, j int) bool { return priceDelta(out[i]) > priceDelta(out[j]) })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].SourceRow < out[j].SourceRow })
	}
	return out
}

func priceDelta(r model.ProductRecord) float64 {
	if r.OriginalPrice == nil {
		return 0
	}
	return r.Price - *r.OriginalPrice
}
