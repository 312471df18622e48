package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomline/pkg/models"
)

func TestReactionFold(t *testing.T) {
	tl := New(Config{})
	tl.ApplyBatch(DirectionLive, []models.RawEvent{
		msgEvent("$a", "@a:x", "hello", 1000),
		reactionEvent("$r1", "@b:x", "$a", "👍", 2000),
		reactionEvent("$r2", "@c:x", "$a", "👍", 3000),
		reactionEvent("$r3", "@b:x", "$a", "🎉", 4000),
	}, testNow)

	ev := findEvent(t, tl.Render(), "$a")
	require.Len(t, ev.Reactions, 2)
	assert.Equal(t, "👍", ev.Reactions[0].Key)
	assert.Equal(t, []string{"@b:x", "@c:x"}, ev.Reactions[0].Senders)
	assert.Equal(t, "🎉", ev.Reactions[1].Key)
	assert.Equal(t, []string{"@b:x"}, ev.Reactions[1].Senders)
}

func TestReactionReplayDedupe(t *testing.T) {
	tl := New(Config{})
	batch := []models.RawEvent{
		msgEvent("$a", "@a:x", "hello", 1000),
		reactionEvent("$r1", "@b:x", "$a", "👍", 2000),
	}
	tl.ApplyBatch(DirectionLive, batch, testNow)
	// same annotation delivered again via pagination overlap
	tl.ApplyBatch(DirectionBack, []models.RawEvent{reactionEvent("$r1", "@b:x", "$a", "👍", 2000)}, testNow)

	ev := findEvent(t, tl.Render(), "$a")
	require.Len(t, ev.Reactions, 1)
	assert.Equal(t, []string{"@b:x"}, ev.Reactions[0].Senders)
}

func TestReactionRedactionRemoves(t *testing.T) {
	tl := New(Config{})
	tl.ApplyBatch(DirectionLive, []models.RawEvent{
		msgEvent("$a", "@a:x", "hello", 1000),
		reactionEvent("$r1", "@b:x", "$a", "👍", 2000),
		reactionEvent("$r2", "@c:x", "$a", "👍", 3000),
	}, testNow)
	tl.ApplyBatch(DirectionLive, []models.RawEvent{redactionEvent("$rd", "@b:x", "$r1", 4000)}, testNow)

	ev := findEvent(t, tl.Render(), "$a")
	require.Len(t, ev.Reactions, 1)
	assert.Equal(t, []string{"@c:x"}, ev.Reactions[0].Senders)

	// redacting it again is a no-op
	tl.ApplyBatch(DirectionLive, []models.RawEvent{redactionEvent("$rd2", "@b:x", "$r1", 5000)}, testNow)
	ev = findEvent(t, tl.Render(), "$a")
	require.Len(t, ev.Reactions, 1)
}

func TestReactionKeyDisappearsWithLastSender(t *testing.T) {
	tl := New(Config{})
	tl.ApplyBatch(DirectionLive, []models.RawEvent{
		msgEvent("$a", "@a:x", "hello", 1000),
		reactionEvent("$r1", "@b:x", "$a", "👍", 2000),
	}, testNow)
	tl.ApplyBatch(DirectionLive, []models.RawEvent{redactionEvent("$rd", "@b:x", "$r1", 3000)}, testNow)

	ev := findEvent(t, tl.Render(), "$a")
	assert.Empty(t, ev.Reactions)
}

func TestReactionRedactionBeforeAnnotation(t *testing.T) {
	tl := New(Config{})
	tl.ApplyBatch(DirectionLive, []models.RawEvent{msgEvent("$a", "@a:x", "hello", 1000)}, testNow)
	// the redaction of a reaction arrives before the reaction itself
	tl.ApplyBatch(DirectionLive, []models.RawEvent{redactionEvent("$rd", "@b:x", "$r1", 3000)}, testNow)
	tl.ApplyBatch(DirectionBack, []models.RawEvent{reactionEvent("$r1", "@b:x", "$a", "👍", 2000)}, testNow)

	// net effect is nothing
	ev := findEvent(t, tl.Render(), "$a")
	assert.Empty(t, ev.Reactions)
	assert.Zero(t, tl.PendingLen())
}

func TestReactionBeforeTargetIsBuffered(t *testing.T) {
	tl := New(Config{})
	tl.ApplyBatch(DirectionLive, []models.RawEvent{reactionEvent("$r1", "@b:x", "$a", "👍", 2000)}, testNow)
	require.Equal(t, 1, tl.PendingLen())

	tl.ApplyBatch(DirectionBack, []models.RawEvent{msgEvent("$a", "@a:x", "hello", 1000)}, testNow)
	ev := findEvent(t, tl.Render(), "$a")
	require.Len(t, ev.Reactions, 1)
	assert.Equal(t, "👍", ev.Reactions[0].Key)
	assert.Zero(t, tl.PendingLen())
}

func TestReactionSameSenderDistinctAnnotations(t *testing.T) {
	agg := newReactionAgg()
	agg.add("$r1", "👍", "@b:x")
	agg.add("$r2", "👍", "@b:x")

	// removing one annotation keeps the sender while the other remains
	agg.remove("$r1")
	got := agg.render()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"@b:x"}, got[0].Senders)

	agg.remove("$r2")
	assert.Empty(t, agg.render())
}
