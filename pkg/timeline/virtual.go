package timeline

import (
	"fmt"
	"time"

	"roomline/pkg/models"
)

// Render produces the current snapshot: every event item in order with
// virtual entries woven in. Virtual items are recomputed from scratch on
// every pass and never enter identity tracking. A day divider precedes the
// first event and every calendar-date change (in the configured zone); the
// read marker follows the caller's last-read identity, at most once.
func (t *Timeline) Render() []models.TimelineItem {
	out := make([]models.TimelineItem, 0, len(t.items)+8)
	marker := t.index.lookup(t.readMarker)

	prevDate := ""
	dates := make(map[string]int)
	for _, it := range t.items {
		date := time.UnixMilli(it.ts).In(t.cfg.Zone).Format("2006-01-02")
		if date != prevDate {
			// The same date can recur when arrival order disagrees with
			// timestamps; an occurrence counter keeps divider keys unique.
			n := dates[date]
			dates[date] = n + 1
			out = append(out, models.TimelineItem{
				Kind: models.ItemDayDivider,
				Key:  fmt.Sprintf("day:%s#%d", date, n),
				Date: date,
			})
			prevDate = date
		}
		out = append(out, t.renderItem(it))
		if marker != nil && it == marker {
			out = append(out, models.TimelineItem{
				Kind: models.ItemReadMarker,
				Key:  "read_marker",
			})
		}
	}
	return out
}

func (t *Timeline) renderItem(it *item) models.TimelineItem {
	ev := &models.EventItem{
		Identity:  it.identity,
		Sender:    it.sender,
		Timestamp: it.ts,
		Content:   it.content,
		SendState: it.sendState,
		SendError: it.sendErr,
		Edited:    it.edited,
		Redacted:  it.redacted,
		Reactions: it.reactions.render(),
	}
	return models.TimelineItem{
		Kind:  models.ItemEvent,
		Key:   fmt.Sprintf("e:%d", it.iid),
		Event: ev,
	}
}
