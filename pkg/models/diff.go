package models

// DiffOp is one operation of the snapshot-to-snapshot diff stream.
type DiffOp string

const (
	DiffInsert DiffOp = "insert"
	DiffRemove DiffOp = "remove"
	DiffUpdate DiffOp = "update"
	DiffMove   DiffOp = "move"
)

// Diff describes a single list transformation. Insert places Item at Pos,
// Remove deletes the entry at Pos, Update replaces the entry at Pos, and
// Move relocates the entry at From to Pos.
type Diff struct {
	Op   DiffOp        `json:"op"`
	Pos  int           `json:"pos"`
	From int           `json:"from,omitempty"`
	Item *TimelineItem `json:"item,omitempty"`
}

// ApplyDiffs replays diff operations onto a copy of items and returns the
// result. A consumer that applies every published diff batch in order to an
// initially empty list reconstructs the current snapshot.
func ApplyDiffs(items []TimelineItem, diffs []Diff) []TimelineItem {
	out := append([]TimelineItem(nil), items...)
	for _, d := range diffs {
		switch d.Op {
		case DiffInsert:
			out = append(out, TimelineItem{})
			copy(out[d.Pos+1:], out[d.Pos:])
			out[d.Pos] = *d.Item
		case DiffRemove:
			out = append(out[:d.Pos], out[d.Pos+1:]...)
		case DiffUpdate:
			out[d.Pos] = *d.Item
		case DiffMove:
			it := out[d.From]
			out = append(out[:d.From], out[d.From+1:]...)
			out = append(out, TimelineItem{})
			copy(out[d.Pos+1:], out[d.Pos:])
			out[d.Pos] = it
		}
	}
	return out
}
