package timeline

import "roomline/pkg/models"

// reactionAgg folds reaction annotations for one target item into a mapping
// from reaction key to senders in first-add order. The fold is replay
// stable: annotations are deduplicated by their own event ID, and removing
// an annotation that was never added is a no-op.
type reactionAgg struct {
	// annotations: annotation event ID -> (key, sender).
	annotations map[string]annotation
	// keyOrder preserves first-seen order of reaction keys.
	keyOrder []string
	// senders: key -> sender list in first-add order.
	senders map[string][]string
}

type annotation struct {
	key    string
	sender string
}

func newReactionAgg() *reactionAgg {
	return &reactionAgg{
		annotations: make(map[string]annotation),
		senders:     make(map[string][]string),
	}
}

// add records one annotation. Duplicate event IDs and repeated sender+key
// pairs collapse; senders form an ordered set per key.
func (a *reactionAgg) add(annotationID, key, sender string) {
	if _, ok := a.annotations[annotationID]; ok {
		return
	}
	a.annotations[annotationID] = annotation{key: key, sender: sender}
	if _, ok := a.senders[key]; !ok {
		a.keyOrder = append(a.keyOrder, key)
	}
	for _, s := range a.senders[key] {
		if s == sender {
			return
		}
	}
	a.senders[key] = append(a.senders[key], sender)
}

// remove undoes one annotation by event ID. The sender stays listed while
// another annotation with the same key and sender remains.
func (a *reactionAgg) remove(annotationID string) {
	an, ok := a.annotations[annotationID]
	if !ok {
		return
	}
	delete(a.annotations, annotationID)
	for _, other := range a.annotations {
		if other.key == an.key && other.sender == an.sender {
			return
		}
	}
	ss := a.senders[an.key]
	for i, s := range ss {
		if s == an.sender {
			ss = append(ss[:i], ss[i+1:]...)
			break
		}
	}
	if len(ss) == 0 {
		delete(a.senders, an.key)
		for i, k := range a.keyOrder {
			if k == an.key {
				a.keyOrder = append(a.keyOrder[:i], a.keyOrder[i+1:]...)
				break
			}
		}
		return
	}
	a.senders[an.key] = ss
}

// render returns the aggregate in stable order for snapshots.
func (a *reactionAgg) render() []models.Reaction {
	if len(a.keyOrder) == 0 {
		return nil
	}
	out := make([]models.Reaction, 0, len(a.keyOrder))
	for _, k := range a.keyOrder {
		out = append(out, models.Reaction{
			Key:     k,
			Senders: append([]string(nil), a.senders[k]...),
		})
	}
	return out
}
