// Package patch converts modified records into a minimal change-set and asks
// the remote reconciliation service to apply it to the original file bytes.
//
// The client never rewrites the uploaded file itself: only the service can
// patch the format faithfully, preserving formatting, merges, and the declared
// range of every untouched cell. The client's half of that contract is to ship
// the original bytes unchanged and to key every change by source row.
package patch

import (
	"github.com/example/storesheet/internal/model"
)

// RowChange is one entry of the change-set sent to the reconciliation
// service. Row is the 1-based Excel row (SourceRow + 1); the 0-based index
// never crosses the wire, which keeps the off-by-one class of bugs on this
// side of the boundary.
type RowChange struct {
	Row                 int     `json:"row"`
	ProductName         string  `json:"productName"`
	Price               float64 `json:"price"`
	Stock               float64 `json:"stock"`
	FilterInfo          string  `json:"filterInfo,omitempty"`
	SearchKeyword       string  `json:"searchKeyword,omitempty"`
	ValidCandidateCount int     `json:"validCandidateCount,omitempty"`
}

// BuildChangeSet returns a change entry for every modified record, in record
// order. An empty result is the defined "nothing to patch" failure, never a
// zero-length success.
func BuildChangeSet(records []model.ProductRecord) ([]RowChange, error) {
	changes := make([]RowChange, 0, len(records))
	for _, r := range records {
		if !r.Modified {
			continue
		}
		changes = append(changes, RowChange{
			Row:                 r.SourceRow + 1,
			ProductName:         r.ProductName,
			Price:               r.Price,
			Stock:               r.Stock,
			FilterInfo:          r.FilterInfo,
			SearchKeyword:       r.SearchKeyword,
			ValidCandidateCount: r.ValidCandidateCount,
		})
	}
	if len(changes) == 0 {
		return nil, model.ErrNothingToPatch
	}
	return changes, nil
}
