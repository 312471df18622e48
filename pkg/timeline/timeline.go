// Package timeline holds the in-memory timeline state: the ordered item
// arena, the identity index, buffered mutations, reaction aggregates and
// local echoes. A Timeline is not safe for concurrent use; it is owned by
// the single reconciler goroutine in pkg/ingest and all reads flow through
// the immutable snapshots it renders.
package timeline

import (
	"time"

	"roomline/pkg/logger"
	"roomline/pkg/models"
	"roomline/pkg/telemetry"
)

// Direction says where a batch of events attaches to the timeline.
type Direction int

const (
	// DirectionLive appends at the end of confirmed history.
	DirectionLive Direction = iota
	// DirectionBack prepends before the oldest known event. Events inside
	// the batch are supplied oldest first.
	DirectionBack
	// DirectionForward appends at the end of confirmed history, like live.
	DirectionForward
)

func (d Direction) String() string {
	switch d {
	case DirectionBack:
		return "back"
	case DirectionForward:
		return "forward"
	default:
		return "live"
	}
}

// Config carries the engine knobs. Zero values fall back to defaults.
type Config struct {
	// LocalUserID enables heuristic echo matching for events sent by this
	// user from another session (no transaction ID echoed back).
	LocalUserID string
	// Zone is the display time zone for day dividers.
	Zone *time.Location
	// PendingPerTarget bounds the buffered-mutation queue per target.
	PendingPerTarget int
	// PendingMaxAge bounds how long an orphaned mutation may wait for its
	// target before the janitor sweep drops it.
	PendingMaxAge time.Duration
	// EchoMatchWindow is the timestamp tolerance of the heuristic echo
	// match. The heuristic may fail silently; a duplicate item is
	// preferred over a lost one.
	EchoMatchWindow time.Duration
	// FailedEchoMaxAge bounds how long a failed echo is kept before the
	// janitor sweep drops it. Zero keeps failed echoes forever.
	FailedEchoMaxAge time.Duration
}

const (
	defaultPendingPerTarget = 8
	defaultPendingMaxAge    = 10 * time.Minute
	defaultEchoMatchWindow  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Zone == nil {
		c.Zone = time.UTC
	}
	if c.PendingPerTarget <= 0 {
		c.PendingPerTarget = defaultPendingPerTarget
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = defaultPendingMaxAge
	}
	if c.EchoMatchWindow <= 0 {
		c.EchoMatchWindow = defaultEchoMatchWindow
	}
	return c
}

// item is one live timeline entry. Identity and iid are stable for the
// lifetime of the item; iid survives the local-to-remote identity remap so
// diff consumers see confirmation as an update, not a remove+insert.
type item struct {
	iid      uint64
	identity models.EventIdentity
	txn      string
	sender   string
	ts       int64
	orderKey int64

	content   models.Content
	sendState models.SendState
	sendErr   string
	edited    bool
	editOrder int64
	redacted  bool
	reactions *reactionAgg

	// candidateID is the remote event ID reported by the send callback
	// before the event shows up in sync.
	candidateID string
	failedAt    time.Time
}

// Timeline is the reconciled timeline state.
type Timeline struct {
	cfg Config

	// items holds event items in display order. items[:confirmedEnd] are
	// server-confirmed; the rest are local echoes in send-request order.
	items        []*item
	confirmedEnd int

	index       *identityIndex
	pending     map[string][]pendingMutation
	pendingLen  int
	annotations map[string]annotationRef
	candidates  map[string]string
	echoes      map[string]*item

	readMarker models.EventIdentity

	nextIID   uint64
	fwdOrder  int64
	backOrder int64
}

// New returns an empty timeline.
func New(cfg Config) *Timeline {
	return &Timeline{
		cfg:         cfg.withDefaults(),
		index:       newIdentityIndex(),
		pending:     make(map[string][]pendingMutation),
		annotations: make(map[string]annotationRef),
		candidates:  make(map[string]string),
		echoes:      make(map[string]*item),
	}
}

// Len returns the number of event items (virtual entries excluded).
func (t *Timeline) Len() int { return len(t.items) }

// ApplyBatch reconciles one batch of raw events into the timeline. The
// application order guarantees mutations never race ahead of the items
// they target: item upserts first, then buffered-mutation replay for newly
// resolved targets, then this batch's own control events, then buffer
// bounding.
func (t *Timeline) ApplyBatch(dir Direction, events []models.RawEvent, now time.Time) {
	if len(events) == 0 {
		return
	}
	keys := t.orderKeys(dir, len(events))
	cls := make([]classified, len(events))
	for i := range events {
		cls[i] = classify(events[i])
	}

	// Stage 1: upsert renderable items (and reconcile echoes by identity).
	prependAt := 0
	var arrived []string
	for i := range events {
		c := &cls[i]
		if c.kind != classItem {
			continue
		}
		ev := &events[i]
		if t.dedupe(ev) {
			telemetry.EventsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		if echo := t.matchEcho(ev, c); echo != nil {
			t.confirmEcho(echo, ev, c, keys[i])
			arrived = append(arrived, ev.EventID)
			continue
		}
		it := t.newItem(ev, c, keys[i])
		if dir == DirectionBack {
			t.insertAt(prependAt, it)
			prependAt++
		} else {
			t.insertAt(t.confirmedEnd, it)
		}
		t.confirmedEnd++
		if ev.EventID != "" {
			t.index.upsert(it.identity, it)
			arrived = append(arrived, ev.EventID)
		}
		if c.undecodable {
			telemetry.EventsTotal.WithLabelValues("undecodable").Inc()
		} else {
			telemetry.EventsTotal.WithLabelValues("item").Inc()
		}
	}

	// Stage 2: replay buffered mutations whose target just appeared.
	for _, id := range arrived {
		t.drainPending(id, now)
	}

	// Stage 3: apply this batch's control events.
	for i := range events {
		c := &cls[i]
		ev := &events[i]
		switch c.kind {
		case classEdit:
			telemetry.EventsTotal.WithLabelValues("control").Inc()
			t.routeEdit(c.target, c.newContent, keys[i], now)
		case classRedaction:
			telemetry.EventsTotal.WithLabelValues("control").Inc()
			t.routeRedaction(c.target, now)
		case classReaction:
			telemetry.EventsTotal.WithLabelValues("control").Inc()
			t.routeReactionAdd(ev.EventID, c.target, c.key, ev.Sender, now)
		}
	}

	// Stage 4: bound the orphan buffers now that the batch is complete.
	t.enforcePendingBounds(now)
}

// dedupe reports whether an event's identity already owns a live item.
func (t *Timeline) dedupe(ev *models.RawEvent) bool {
	if ev.EventID == "" {
		return false
	}
	return t.index.lookup(models.RemoteIdentity(ev.EventID)) != nil
}

// newItem builds the arena entry for a renderable event.
func (t *Timeline) newItem(ev *models.RawEvent, c *classified, orderKey int64) *item {
	t.nextIID++
	return &item{
		iid:       t.nextIID,
		identity:  models.RemoteIdentity(ev.EventID),
		sender:    ev.Sender,
		ts:        ev.OriginServerTS,
		orderKey:  orderKey,
		content:   c.content,
		sendState: models.SendConfirmed,
		reactions: newReactionAgg(),
	}
}

// insertAt places it at position pos, shifting the tail.
func (t *Timeline) insertAt(pos int, it *item) {
	t.items = append(t.items, nil)
	copy(t.items[pos+1:], t.items[pos:])
	t.items[pos] = it
}

// removeItem unlinks an item from the order, the index and echo tracking.
func (t *Timeline) removeItem(it *item) {
	pos := t.posOf(it)
	if pos < 0 {
		return
	}
	t.items = append(t.items[:pos], t.items[pos+1:]...)
	if pos < t.confirmedEnd {
		t.confirmedEnd--
	}
	t.index.remove(it.identity)
	if it.txn != "" {
		delete(t.echoes, it.txn)
	}
	if it.candidateID != "" {
		delete(t.candidates, it.candidateID)
	}
}

func (t *Timeline) posOf(it *item) int {
	for i, o := range t.items {
		if o == it {
			return i
		}
	}
	return -1
}

// orderKeys assigns origin-order keys for a batch. Forward and live batches
// take increasing keys after everything seen so far; backward batches take
// a decreasing block before everything seen so far, ascending inside the
// batch so the supplied oldest-first order is preserved.
func (t *Timeline) orderKeys(dir Direction, n int) []int64 {
	keys := make([]int64, n)
	if dir == DirectionBack {
		base := t.backOrder - int64(n)
		for i := 0; i < n; i++ {
			keys[i] = base + int64(i) + 1
		}
		t.backOrder = base
		return keys
	}
	for i := 0; i < n; i++ {
		t.fwdOrder++
		keys[i] = t.fwdOrder
	}
	return keys
}

// nextOrderKey hands out a single forward key (used when an echo confirms).
func (t *Timeline) nextOrderKey() int64 {
	t.fwdOrder++
	return t.fwdOrder
}

// SetReadMarker records the caller's last-read identity. The marker only
// ever moves forward; an update pointing at an older position (or at an
// unknown identity) is ignored.
func (t *Timeline) SetReadMarker(id models.EventIdentity) {
	it := t.index.lookup(id)
	if it == nil {
		logger.Debug("read_marker_unknown_identity", "identity", id.String())
		return
	}
	newPos := t.posOf(it)
	if cur := t.index.lookup(t.readMarker); cur != nil {
		if t.posOf(cur) >= newPos {
			return
		}
	}
	t.readMarker = it.identity
}

// ResolveDecryption replaces an undecryptable placeholder with the decrypted
// payload, in place. If the decrypted event turns out to be a control event
// (an encrypted edit, reaction or redaction) the placeholder is dropped and
// the control is routed instead.
func (t *Timeline) ResolveDecryption(eventID, evType string, content []byte, now time.Time) {
	it := t.index.lookup(models.RemoteIdentity(eventID))
	if it == nil || it.content.Kind != models.KindEncrypted {
		return
	}
	ev := models.RawEvent{
		EventID:        eventID,
		Sender:         it.sender,
		Type:           evType,
		OriginServerTS: it.ts,
		Content:        content,
	}
	c := classify(ev)
	switch c.kind {
	case classItem:
		it.content = c.content
		logger.Debug("decryption_resolved", "event_id", eventID)
	case classEdit:
		t.removeItem(it)
		t.routeEdit(c.target, c.newContent, it.orderKey, now)
	case classRedaction:
		t.removeItem(it)
		t.routeRedaction(c.target, now)
	case classReaction:
		t.removeItem(it)
		t.routeReactionAdd(eventID, c.target, c.key, ev.Sender, now)
	}
}
