// Package ingest funnels every timeline mutation (sync batches, pagination
// results, local sends and cancels, decryption outcomes, read receipts)
// through one bounded queue drained by a single reconciler goroutine. That
// goroutine is the only writer of the timeline state; consumers read
// immutable snapshots and an ordered diff stream.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"roomline/pkg/client"
	"roomline/pkg/ingest/queue"
	"roomline/pkg/logger"
	"roomline/pkg/models"
	"roomline/pkg/telemetry"
	"roomline/pkg/timeline"
)

const (
	defaultQueueCapacity    = 4096
	defaultBatchSize        = 64
	defaultSubscriberBuffer = 16
)

// Config carries processor knobs; zero values fall back to defaults.
type Config struct {
	Timeline         timeline.Config
	QueueCapacity    int
	BatchSize        int
	SubscriberBuffer int
}

// Deps are the external collaborators. Both are optional: without a Sender
// local sends stay in not_sent state until the caller reports outcomes;
// without a Decryptor undecryptable events keep their placeholder until
// ResolveDecryption is called from outside.
type Deps struct {
	Sender    client.Sender
	Decryptor client.Decryptor
}

// Processor is the reconciler: the single serialization point of the
// engine and the surface consumed by UI code.
type Processor struct {
	cfg  Config
	deps Deps

	tl *timeline.Timeline
	q  *queue.Queue

	handlers map[queue.HandlerID]func(*queue.Op) error

	// worker-owned scratch state, only touched on the reconciler goroutine
	dispatches []dispatch
	decrypts   []models.RawEvent
	decrypting map[string]struct{}

	mu       sync.Mutex
	snapshot []models.TimelineItem
	subs     map[uint64]*subscriber
	nextSub  uint64

	ctx   context.Context
	done  chan struct{}
	start sync.Once
	close sync.Once
}

type dispatch struct {
	txnID   string
	content models.MessageContent
}

type subscriber struct {
	ch chan []models.Diff
}

// NewProcessor builds a processor around an empty timeline.
func NewProcessor(cfg Config, deps Deps) *Processor {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	p := &Processor{
		cfg:        cfg,
		deps:       deps,
		tl:         timeline.New(cfg.Timeline),
		q:          queue.NewQueue(cfg.QueueCapacity),
		decrypting: make(map[string]struct{}),
		subs:       make(map[uint64]*subscriber),
		done:       make(chan struct{}),
	}
	p.registerHandlers()
	return p
}

// Start launches the reconciler goroutine. The processor stops when ctx is
// cancelled or Close is called.
func (p *Processor) Start(ctx context.Context) {
	p.start.Do(func() {
		p.ctx = ctx
		go func() {
			<-ctx.Done()
			p.Close()
		}()
		go func() {
			defer close(p.done)
			p.q.RunBatchWorker(nil, p.cfg.BatchSize, p.applyOps)
		}()
		logger.Info("reconciler_started", "queue_capacity", p.cfg.QueueCapacity, "batch_size", p.cfg.BatchSize)
	})
}

// Close stops intake, drains queued work and waits for the reconciler to
// exit. Safe to call more than once.
func (p *Processor) Close() {
	p.close.Do(func() {
		p.q.Close()
		<-p.done
		p.mu.Lock()
		for id, s := range p.subs {
			close(s.ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
		logger.Info("reconciler_stopped")
	})
}

// applyOps reconciles one drained queue batch and publishes exactly one
// snapshot for it. Per-op errors are contained: a malformed op never
// aborts the rest of the batch.
func (p *Processor) applyOps(ops []*queue.Op) error {
	p.dispatches = p.dispatches[:0]
	p.decrypts = p.decrypts[:0]
	for _, op := range ops {
		h, ok := p.handlers[op.Handler]
		if !ok {
			logger.Warn("unknown_handler", "handler", string(op.Handler))
			continue
		}
		if err := h(op); err != nil {
			logger.Warn("op_failed", "handler", string(op.Handler), "id", op.ID, "error", err)
		}
	}
	p.publish()
	p.runDispatches()
	p.runDecrypts()
	return nil
}

// publish renders the new snapshot, diffs it against the previous one and
// fans the diff batch out to subscribers. Subscribers that cannot keep up
// are dropped; they restart with a fresh snapshot.
func (p *Processor) publish() {
	items := p.tl.Render()
	telemetry.Items.Set(float64(len(items)))
	telemetry.QueueDepth.Set(float64(p.q.Len()))

	p.mu.Lock()
	defer p.mu.Unlock()
	diffs := timeline.DiffSnapshots(p.snapshot, items)
	p.snapshot = items
	if len(diffs) == 0 {
		return
	}
	for _, d := range diffs {
		telemetry.DiffOpsTotal.WithLabelValues(string(d.Op)).Inc()
	}
	for id, s := range p.subs {
		select {
		case s.ch <- diffs:
		default:
			close(s.ch)
			delete(p.subs, id)
			telemetry.SubscribersDropped.Inc()
			logger.Warn("subscriber_dropped", "id", id)
		}
	}
}

// runDispatches hands newly created echoes to the sender. Outcomes re-enter
// the queue as ops so they are serialized like any other mutation.
func (p *Processor) runDispatches() {
	if p.deps.Sender == nil {
		return
	}
	for _, d := range p.dispatches {
		d := d
		go func() {
			eventID, err := p.deps.Sender.Send(p.ctx, d.content)
			if err != nil {
				_ = p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendFailed, ID: d.txnID, Payload: []byte(err.Error())})
				return
			}
			_ = p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendSent, ID: d.txnID, Ref: eventID})
		}()
	}
}

// runDecrypts asks the decryptor for plaintext of newly seen encrypted
// events. Results re-enter the queue; failures leave the placeholder in
// place for a later retry via ResolveDecryption.
func (p *Processor) runDecrypts() {
	if p.deps.Decryptor == nil {
		return
	}
	for _, ev := range p.decrypts {
		if _, busy := p.decrypting[ev.EventID]; busy {
			continue
		}
		p.decrypting[ev.EventID] = struct{}{}
		ev := ev
		go func() {
			evType, content, err := p.deps.Decryptor.Decrypt(p.ctx, ev)
			if err != nil {
				logger.Debug("decrypt_failed", "event_id", ev.EventID, "error", err)
				return
			}
			_ = p.ResolveDecryption(ev.EventID, evType, content)
		}()
	}
}

// Snapshot returns the current rendered item sequence. The returned slice
// is immutable; callers may hold it indefinitely.
func (p *Processor) Snapshot() []models.TimelineItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Subscribe returns the snapshot current at subscription time together
// with an ordered stream of diff batches transforming it forward, and a
// cancel func. The stream is not resumable: a dropped or cancelled
// subscriber re-fetches a fresh snapshot and subscribes again.
func (p *Processor) Subscribe() ([]models.TimelineItem, <-chan []models.Diff, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	s := &subscriber{ch: make(chan []models.Diff, p.cfg.SubscriberBuffer)}
	p.subs[id] = s
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.subs[id]; ok && cur == s {
			close(s.ch)
			delete(p.subs, id)
		}
	}
	return p.snapshot, s.ch, cancel
}

// PushLive enqueues a live sync batch (appended after confirmed history).
func (p *Processor) PushLive(events []models.RawEvent) error {
	return p.pushBatch(queue.HandlerBatchLive, "live", events)
}

// PushBack enqueues a backward-pagination batch, events oldest first
// (prepended before the oldest known event).
func (p *Processor) PushBack(events []models.RawEvent) error {
	return p.pushBatch(queue.HandlerBatchBack, "back", events)
}

// PushForward enqueues a forward-pagination batch (appended, like live).
func (p *Processor) PushForward(events []models.RawEvent) error {
	return p.pushBatch(queue.HandlerBatchForward, "forward", events)
}

func (p *Processor) pushBatch(h queue.HandlerID, source string, events []models.RawEvent) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}
	if err := p.q.TryEnqueue(&queue.Op{Handler: h, Payload: payload, TS: time.Now().UnixNano()}); err != nil {
		return err
	}
	telemetry.BatchesTotal.WithLabelValues(source).Inc()
	return nil
}

// Send creates a local echo for content and returns its transaction ID.
// The echo appears at the timeline tail immediately; the send itself is
// dispatched asynchronously when a Sender is wired.
func (p *Processor) Send(content models.MessageContent) (string, error) {
	txnID := genTxnID()
	payload, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	if err := p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendCreate, ID: txnID, Payload: payload, TS: time.Now().UnixNano()}); err != nil {
		return "", err
	}
	telemetry.BatchesTotal.WithLabelValues("send").Inc()
	return txnID, nil
}

// Cancel withdraws an unconfirmed local echo. A no-op if the echo already
// confirmed.
func (p *Processor) Cancel(txnID string) error {
	return p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendCancel, ID: txnID})
}

// Retry re-sends a failed echo under a fresh transaction ID, which it
// returns. The failed identity is never reused.
func (p *Processor) Retry(txnID string) (string, error) {
	newTxn := genTxnID()
	if err := p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendRetry, ID: txnID, Ref: newTxn}); err != nil {
		return "", err
	}
	return newTxn, nil
}

// MarkSent reports a successful send outcome for callers driving their own
// transport: eventID is the server-assigned ID.
func (p *Processor) MarkSent(txnID, eventID string) error {
	return p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendSent, ID: txnID, Ref: eventID})
}

// MarkFailed reports a failed send outcome for callers driving their own
// transport.
func (p *Processor) MarkFailed(txnID, reason string) error {
	return p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSendFailed, ID: txnID, Payload: []byte(reason)})
}

// ResolveDecryption feeds a late decryption result back through the queue;
// the placeholder item is replaced in place.
func (p *Processor) ResolveDecryption(eventID, evType string, content json.RawMessage) error {
	if err := p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerDecryptResolve, ID: eventID, Ref: evType, Payload: content}); err != nil {
		return err
	}
	telemetry.BatchesTotal.WithLabelValues("decrypt").Inc()
	return nil
}

// SetReadMarker moves the read marker to the given identity on the next
// reconciliation.
func (p *Processor) SetReadMarker(id models.EventIdentity) error {
	payload, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerReceiptSet, Payload: payload}); err != nil {
		return err
	}
	telemetry.BatchesTotal.WithLabelValues("receipt").Inc()
	return nil
}

// EnqueueSweep schedules an expiry pass for orphaned buffered mutations
// and stale failed echoes. Called by the janitor.
func (p *Processor) EnqueueSweep() error {
	if err := p.q.TryEnqueue(&queue.Op{Handler: queue.HandlerSweep}); err != nil {
		return err
	}
	telemetry.BatchesTotal.WithLabelValues("sweep").Inc()
	return nil
}

func genTxnID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "rl" + hex.EncodeToString(b[:])
}
