package timeline

import (
	"time"

	"roomline/pkg/logger"
	"roomline/pkg/models"
	"roomline/pkg/telemetry"
)

// Local echo lifecycle. Echoes live at the tail of the timeline, after
// confirmed history, in send-request order. Confirmation remaps the item's
// identity and moves it into the confirmed region; the item itself
// persists so consumers see an update, never a remove+insert.

// CreateEcho inserts an optimistic local item for a just-requested send.
// Creating an echo for a transaction ID that is already live is a no-op.
func (t *Timeline) CreateEcho(txnID string, content models.MessageContent, now time.Time) {
	if txnID == "" {
		return
	}
	if _, ok := t.echoes[txnID]; ok {
		return
	}
	t.nextIID++
	it := &item{
		iid:       t.nextIID,
		identity:  models.LocalIdentity(txnID),
		txn:       txnID,
		sender:    t.cfg.LocalUserID,
		ts:        now.UnixMilli(),
		orderKey:  t.nextOrderKey(),
		content:   messageContent(content),
		sendState: models.SendNotSent,
		reactions: newReactionAgg(),
	}
	t.items = append(t.items, it)
	t.index.upsert(it.identity, it)
	t.echoes[txnID] = it
	telemetry.EchoTotal.WithLabelValues("created").Inc()
}

// MarkSending transitions an echo to Sending. No-op for unknown or already
// confirmed transactions.
func (t *Timeline) MarkSending(txnID string) {
	if it, ok := t.echoes[txnID]; ok && it.sendState != models.SendSent {
		it.sendState = models.SendSending
		it.sendErr = ""
	}
}

// MarkSent records a successful send callback carrying the server-assigned
// event ID. If sync already delivered that event the callback is a
// duplicate confirmation: the synced item is terminal truth and the echo is
// dropped. Safe to call after the echo expired or confirmed (no-op).
func (t *Timeline) MarkSent(txnID, eventID string) {
	it, ok := t.echoes[txnID]
	if !ok {
		return
	}
	if eventID != "" {
		if prev := t.index.lookup(models.RemoteIdentity(eventID)); prev != nil && prev != it {
			logger.Warn("duplicate_confirmation", "txn_id", txnID, "event_id", eventID)
			telemetry.EchoTotal.WithLabelValues("duplicate_confirmation").Inc()
			t.removeItem(it)
			return
		}
		it.candidateID = eventID
		t.candidates[eventID] = txnID
	}
	it.sendState = models.SendSent
	telemetry.EchoTotal.WithLabelValues("sent").Inc()
}

// MarkFailed transitions an echo to Failed. Failed is terminal unless the
// caller retries, which allocates a fresh transaction ID.
func (t *Timeline) MarkFailed(txnID, reason string, now time.Time) {
	it, ok := t.echoes[txnID]
	if !ok {
		return
	}
	it.sendState = models.SendFailed
	it.sendErr = reason
	it.failedAt = now
	telemetry.EchoTotal.WithLabelValues("failed").Inc()
	logger.Info("send_failed", "txn_id", txnID, "reason", reason)
}

// CancelEcho withdraws an unconfirmed echo. Confirmation wins over a late
// cancel: cancelling a confirmed event is a no-op.
func (t *Timeline) CancelEcho(txnID string) bool {
	it, ok := t.echoes[txnID]
	if !ok {
		return false
	}
	t.removeItem(it)
	telemetry.EchoTotal.WithLabelValues("cancelled").Inc()
	return true
}

// RetryEcho replaces a failed echo with a fresh one under a new transaction
// ID and returns the content to redispatch. Only failed echoes can retry.
func (t *Timeline) RetryEcho(txnID, newTxnID string, now time.Time) (models.MessageContent, bool) {
	it, ok := t.echoes[txnID]
	if !ok || it.sendState != models.SendFailed {
		return models.MessageContent{}, false
	}
	content := models.MessageContent{MsgType: it.content.MsgType, Body: it.content.Body}
	t.removeItem(it)
	t.CreateEcho(newTxnID, content, now)
	telemetry.EchoTotal.WithLabelValues("retried").Inc()
	return content, true
}

// matchEcho finds the live echo a confirmed event reconciles against:
// primarily by the transaction ID echoed in unsigned, then by the remote
// event ID the send callback reported, and finally by the content+sender+
// timestamp-window heuristic for cross-session echoes. The heuristic is
// best effort and may miss, leaving a duplicate item rather than losing one.
func (t *Timeline) matchEcho(ev *models.RawEvent, c *classified) *item {
	if ev.EventID == "" {
		return nil
	}
	if txn := ev.Unsigned.TransactionID; txn != "" {
		if it, ok := t.echoes[txn]; ok {
			return it
		}
	}
	if txn, ok := t.candidates[ev.EventID]; ok {
		if it, ok := t.echoes[txn]; ok {
			return it
		}
	}
	if t.cfg.LocalUserID == "" || ev.Sender != t.cfg.LocalUserID {
		return nil
	}
	if c.content.Kind != models.KindMessage {
		return nil
	}
	window := t.cfg.EchoMatchWindow.Milliseconds()
	for i := t.confirmedEnd; i < len(t.items); i++ {
		it := t.items[i]
		if it.content.Kind != models.KindMessage || it.content.Body != c.content.Body {
			continue
		}
		if delta := ev.OriginServerTS - it.ts; delta >= -window && delta <= window {
			logger.Debug("echo_matched_heuristically", "event_id", ev.EventID)
			return it
		}
	}
	return nil
}

// confirmEcho remaps the echo onto its confirmed identity and moves it to
// the end of the confirmed region. Idempotent: a duplicate confirmation
// drops the later echo and keeps the already-confirmed item.
func (t *Timeline) confirmEcho(it *item, ev *models.RawEvent, c *classified, orderKey int64) {
	remote := models.RemoteIdentity(ev.EventID)
	if !t.index.remap(it.identity, remote, it) {
		t.removeItem(it)
		return
	}
	pos := t.posOf(it)
	t.items = append(t.items[:pos], t.items[pos+1:]...)
	t.insertAt(t.confirmedEnd, it)
	t.confirmedEnd++

	it.identity = remote
	it.ts = ev.OriginServerTS
	it.orderKey = orderKey
	it.content = c.content
	it.sendState = models.SendConfirmed
	it.sendErr = ""
	delete(t.echoes, it.txn)
	if it.candidateID != "" {
		delete(t.candidates, it.candidateID)
		it.candidateID = ""
	}
	telemetry.EchoTotal.WithLabelValues("confirmed").Inc()
}

// ExpireFailedEchoes drops failed echoes older than the configured age.
// Invoked by the janitor sweep; disabled when no age is configured.
func (t *Timeline) ExpireFailedEchoes(now time.Time) int {
	if t.cfg.FailedEchoMaxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-t.cfg.FailedEchoMaxAge)
	dropped := 0
	for _, it := range t.echoList() {
		if it.sendState == models.SendFailed && it.failedAt.Before(cutoff) {
			t.removeItem(it)
			dropped++
		}
	}
	if dropped > 0 {
		telemetry.EchoTotal.WithLabelValues("expired").Add(float64(dropped))
		logger.Info("failed_echoes_expired", "dropped", dropped)
	}
	return dropped
}

func (t *Timeline) echoList() []*item {
	out := make([]*item, 0, len(t.echoes))
	for _, it := range t.echoes {
		out = append(out, it)
	}
	return out
}
