package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ti(key string) TimelineItem {
	return TimelineItem{Kind: ItemEvent, Key: key, Event: &EventItem{}}
}

func TestApplyDiffsDoesNotMutateInput(t *testing.T) {
	items := []TimelineItem{ti("a"), ti("b")}
	out := ApplyDiffs(items, []Diff{{Op: DiffRemove, Pos: 0}})

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Key)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
}

func TestApplyDiffsOps(t *testing.T) {
	var out []TimelineItem

	a, b, c := ti("a"), ti("b"), ti("c")
	out = ApplyDiffs(out, []Diff{
		{Op: DiffInsert, Pos: 0, Item: &b},
		{Op: DiffInsert, Pos: 0, Item: &a},
		{Op: DiffInsert, Pos: 2, Item: &c},
	})
	assert.Equal(t, []TimelineItem{a, b, c}, out)

	out = ApplyDiffs(out, []Diff{{Op: DiffMove, Pos: 0, From: 2}})
	assert.Equal(t, []TimelineItem{c, a, b}, out)

	b2 := ti("b")
	b2.Date = "x"
	out = ApplyDiffs(out, []Diff{{Op: DiffUpdate, Pos: 2, Item: &b2}})
	assert.Equal(t, "x", out[2].Date)
}

func TestEventIdentity(t *testing.T) {
	remote := RemoteIdentity("$ev")
	local := LocalIdentity("txn1")

	assert.False(t, remote.IsLocal())
	assert.True(t, local.IsLocal())
	assert.False(t, remote.IsZero())
	assert.True(t, EventIdentity{}.IsZero())
	assert.Equal(t, "$ev", remote.String())
	assert.Equal(t, "txn:txn1", local.String())
}
