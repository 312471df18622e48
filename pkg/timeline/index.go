package timeline

import (
	"roomline/pkg/logger"
	"roomline/pkg/models"
	"roomline/pkg/telemetry"
)

// identityIndex maps event identities to their live items. Each identity
// resolves to at most one item; remapping a local identity to its remote
// identity keeps the item and is atomic from the point of view of snapshot
// readers because the index is only touched by the reconciler.
type identityIndex struct {
	byID map[models.EventIdentity]*item
}

func newIdentityIndex() *identityIndex {
	return &identityIndex{byID: make(map[models.EventIdentity]*item)}
}

// upsert records the item owning id. Upserting an identity that already
// resolves to a different item is an ordering/uniqueness violation and
// panics: state is corrupt and must not propagate into snapshots.
func (x *identityIndex) upsert(id models.EventIdentity, it *item) {
	if prev, ok := x.byID[id]; ok && prev != it {
		panic("timeline: identity already owned by another item: " + id.String())
	}
	x.byID[id] = it
}

func (x *identityIndex) lookup(id models.EventIdentity) *item {
	if id.IsZero() {
		return nil
	}
	return x.byID[id]
}

func (x *identityIndex) remove(id models.EventIdentity) {
	delete(x.byID, id)
}

// remap moves an item from its local identity to the confirmed remote one.
// If the remote identity is already owned by a different item the later
// confirmation is terminal truth: remap reports a duplicate confirmation
// and the caller drops the echo.
func (x *identityIndex) remap(old, new models.EventIdentity, it *item) bool {
	if prev, ok := x.byID[new]; ok && prev != it {
		logger.Warn("duplicate_confirmation", "identity", new.String())
		telemetry.EchoTotal.WithLabelValues("duplicate_confirmation").Inc()
		return false
	}
	delete(x.byID, old)
	x.byID[new] = it
	return true
}
