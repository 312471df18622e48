package timeline

import (
	"reflect"

	"roomline/pkg/models"
)

// DiffSnapshots computes the ordered diff transforming old into new. Items
// are matched by their stable key, so a local echo confirming (identity
// remap, same key) appears as an update and a reposition appears as a move.
// Applying the returned operations in order to old yields exactly new;
// that replay equivalence is what diff-stream consumers rely on.
func DiffSnapshots(old, new []models.TimelineItem) []models.Diff {
	newAt := make(map[string]int, len(new))
	for i, it := range new {
		newAt[it.Key] = i
	}

	var diffs []models.Diff
	working := append([]models.TimelineItem(nil), old...)

	// Removals first, highest position first so earlier positions hold.
	for i := len(working) - 1; i >= 0; i-- {
		if _, ok := newAt[working[i].Key]; !ok {
			diffs = append(diffs, models.Diff{Op: models.DiffRemove, Pos: i})
			working = append(working[:i], working[i+1:]...)
		}
	}

	// Then walk the target list, settling each position in turn.
	for j := range new {
		want := new[j]
		if j < len(working) && working[j].Key == want.Key {
			if !itemEqual(working[j], want) {
				it := want
				diffs = append(diffs, models.Diff{Op: models.DiffUpdate, Pos: j, Item: &it})
				working[j] = want
			}
			continue
		}
		from := -1
		for k := j + 1; k < len(working); k++ {
			if working[k].Key == want.Key {
				from = k
				break
			}
		}
		if from < 0 {
			it := want
			diffs = append(diffs, models.Diff{Op: models.DiffInsert, Pos: j, Item: &it})
			working = append(working, models.TimelineItem{})
			copy(working[j+1:], working[j:])
			working[j] = want
			continue
		}
		moved := working[from]
		diffs = append(diffs, models.Diff{Op: models.DiffMove, Pos: j, From: from})
		working = append(working[:from], working[from+1:]...)
		working = append(working, models.TimelineItem{})
		copy(working[j+1:], working[j:])
		working[j] = moved
		if !itemEqual(moved, want) {
			it := want
			diffs = append(diffs, models.Diff{Op: models.DiffUpdate, Pos: j, Item: &it})
			working[j] = want
		}
	}
	return diffs
}

func itemEqual(a, b models.TimelineItem) bool {
	return reflect.DeepEqual(a, b)
}
