package timeline

import (
	"time"

	"golang.org/x/time/rate"

	"roomline/pkg/logger"
	"roomline/pkg/models"
	"roomline/pkg/telemetry"
)

// orphanWarn samples overflow warnings; a hostile or broken stream could
// otherwise flood the log with one line per dropped mutation.
var orphanWarn = rate.Sometimes{First: 3, Interval: time.Minute}

// mutationKind discriminates buffered control events.
type mutationKind int

const (
	mutEdit mutationKind = iota
	mutRedact
	mutReactAdd
)

// pendingMutation is a control event whose target has not been seen yet.
// Buffered mutations are drained in arrival order the moment the target
// identity is upserted; they are bounded in count per target and in age.
type pendingMutation struct {
	kind     mutationKind
	at       time.Time
	orderKey int64

	// edit
	newContent models.Content
	// reaction add
	annotationID string
	key          string
	sender       string
}

func (t *Timeline) buffer(target string, pm pendingMutation) {
	t.pending[target] = append(t.pending[target], pm)
	t.pendingLen++
}

// drainPending applies every mutation buffered against target, in arrival
// order. Called when the target's item is upserted and when an annotation
// with that event ID registers (a buffered redaction may target either).
func (t *Timeline) drainPending(target string, now time.Time) {
	pms, ok := t.pending[target]
	if !ok {
		return
	}
	delete(t.pending, target)
	t.pendingLen -= len(pms)
	for i := range pms {
		pm := &pms[i]
		switch pm.kind {
		case mutEdit:
			t.routeEdit(target, pm.newContent, pm.orderKey, now)
		case mutRedact:
			t.routeRedaction(target, now)
		case mutReactAdd:
			t.routeReactionAdd(pm.annotationID, target, pm.key, pm.sender, now)
		}
	}
}

// routeEdit applies an edit to its target or buffers it. When several edits
// target the same item the edit with the highest origin-order key wins,
// regardless of arrival order.
func (t *Timeline) routeEdit(target string, newContent models.Content, orderKey int64, now time.Time) {
	it := t.index.lookup(models.RemoteIdentity(target))
	if it == nil {
		t.buffer(target, pendingMutation{kind: mutEdit, at: now, orderKey: orderKey, newContent: newContent})
		return
	}
	if it.redacted {
		return
	}
	if it.edited && orderKey <= it.editOrder {
		return
	}
	it.content = newContent
	it.edited = true
	it.editOrder = orderKey
}

// routeRedaction tombstones its target item, or removes a reaction when the
// target is a known annotation event, or buffers otherwise.
func (t *Timeline) routeRedaction(target string, now time.Time) {
	if it := t.index.lookup(models.RemoteIdentity(target)); it != nil {
		t.applyRedaction(it)
		return
	}
	if ref, ok := t.annotations[target]; ok {
		t.removeAnnotation(target, ref)
		return
	}
	t.buffer(target, pendingMutation{kind: mutRedact, at: now})
}

// applyRedaction replaces content with a tombstone, clears reactions and
// freezes the item: later edits and reactions become no-ops.
func (t *Timeline) applyRedaction(it *item) {
	if it.redacted {
		return
	}
	it.redacted = true
	it.edited = false
	it.content = models.Content{Kind: models.KindTombstone}
	for id := range it.reactions.annotations {
		delete(t.annotations, id)
	}
	it.reactions = newReactionAgg()
}

// routeReactionAdd registers an annotation against its target or buffers it.
// Replayed annotations (same event ID) are no-ops.
func (t *Timeline) routeReactionAdd(annotationID, target, key, sender string, now time.Time) {
	if annotationID == "" || key == "" {
		return
	}
	if _, seen := t.annotations[annotationID]; seen {
		return
	}
	it := t.index.lookup(models.RemoteIdentity(target))
	if it == nil {
		t.buffer(target, pendingMutation{
			kind: mutReactAdd, at: now,
			annotationID: annotationID, key: key, sender: sender,
		})
		return
	}
	if it.redacted {
		return
	}
	it.reactions.add(annotationID, key, sender)
	t.annotations[annotationID] = annotationRef{target: it}

	// A redaction for this annotation may have arrived first.
	if pms, ok := t.pending[annotationID]; ok {
		delete(t.pending, annotationID)
		t.pendingLen -= len(pms)
		for i := range pms {
			if pms[i].kind == mutRedact {
				t.removeAnnotation(annotationID, t.annotations[annotationID])
				break
			}
		}
	}
}

// annotationRef locates where a reaction event landed so its redaction can
// be applied by identity lookup.
type annotationRef struct {
	target *item
}

func (t *Timeline) removeAnnotation(annotationID string, ref annotationRef) {
	ref.target.reactions.remove(annotationID)
	delete(t.annotations, annotationID)
}

// enforcePendingBounds trims per-target overflow after a batch completes
// and drops entries older than the configured age. Dropped mutations are
// logged and counted, never applied partially.
func (t *Timeline) enforcePendingBounds(now time.Time) {
	for target, pms := range t.pending {
		if over := len(pms) - t.cfg.PendingPerTarget; over > 0 {
			t.pending[target] = append([]pendingMutation(nil), pms[over:]...)
			t.pendingLen -= over
			telemetry.OrphanDropsTotal.Add(float64(over))
			orphanWarn.Do(func() {
				logger.Warn("orphan_mutations_dropped", "target", target, "dropped", over, "reason", "overflow")
			})
		}
	}
}

// ExpirePending drops buffered mutations older than the configured maximum
// age. Invoked by the janitor sweep.
func (t *Timeline) ExpirePending(now time.Time) int {
	cutoff := now.Add(-t.cfg.PendingMaxAge)
	dropped := 0
	for target, pms := range t.pending {
		kept := pms[:0]
		for _, pm := range pms {
			if pm.at.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, pm)
		}
		if len(kept) == 0 {
			delete(t.pending, target)
		} else {
			t.pending[target] = kept
		}
	}
	if dropped > 0 {
		t.pendingLen -= dropped
		telemetry.OrphanDropsTotal.Add(float64(dropped))
		logger.Info("orphan_mutations_expired", "dropped", dropped)
	}
	return dropped
}

// PendingLen returns the number of buffered orphan mutations.
func (t *Timeline) PendingLen() int { return t.pendingLen }
