package ingest

import (
	"slices"

	"github.com/google/uuid"

	"github.com/sells-group/finrecon/internal/model"
)

// Diff compares the line items of a new extraction with the previous
// snapshot of the same file. Keys present only in the new extraction are
// added, keys only in the previous one are removed, and keys in both whose
// amounts differ under equal are changed.
func Diff(prev *model.ExtractionSnapshot, current []model.LineItemFact, equal func(a, b float64) bool) *model.SnapshotDiff {
	d := &model.SnapshotDiff{
		PreviousHash: prev.ContentHash,
		Added:        []model.FactKey{},
		Removed:      []model.FactKey{},
		Changed:      []model.ValueChange{},
	}

	old := make(map[model.FactKey]float64, len(prev.LineItems))
	for _, f := range prev.LineItems {
		old[f.Key()] = f.Amount
	}
	seen := make(map[model.FactKey]struct{}, len(current))
	for _, f := range current {
		k := f.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		was, ok := old[k]
		switch {
		case !ok:
			d.Added = append(d.Added, k)
		case !equal(was, f.Amount):
			d.Changed = append(d.Changed, model.ValueChange{Key: k, OldValue: was, NewValue: f.Amount})
		}
	}
	for _, f := range prev.LineItems {
		k := f.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		d.Removed = append(d.Removed, k)
	}

	sortKeys(d.Added)
	sortKeys(d.Removed)
	return d
}

func sortKeys(keys []model.FactKey) {
	slices.SortFunc(keys, model.FactKey.Compare)
}

func newSnapshotID() string {
	return uuid.NewString()
}
