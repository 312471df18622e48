package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"roomline/pkg/ingest/queue"
	"roomline/pkg/models"
	"roomline/pkg/timeline"
)

// registerHandlers wires the dispatch table. Handlers run on the
// reconciler goroutine only; they are the sole writers of timeline state.
func (p *Processor) registerHandlers() {
	p.handlers = map[queue.HandlerID]func(*queue.Op) error{
		queue.HandlerBatchLive:      p.batchHandler(timeline.DirectionLive),
		queue.HandlerBatchBack:      p.batchHandler(timeline.DirectionBack),
		queue.HandlerBatchForward:   p.batchHandler(timeline.DirectionForward),
		queue.HandlerSendCreate:     p.handleSendCreate,
		queue.HandlerSendSent:       p.handleSendSent,
		queue.HandlerSendFailed:     p.handleSendFailed,
		queue.HandlerSendCancel:     p.handleSendCancel,
		queue.HandlerSendRetry:      p.handleSendRetry,
		queue.HandlerDecryptResolve: p.handleDecryptResolve,
		queue.HandlerReceiptSet:     p.handleReceiptSet,
		queue.HandlerSweep:          p.handleSweep,
	}
}

func (p *Processor) batchHandler(dir timeline.Direction) func(*queue.Op) error {
	return func(op *queue.Op) error {
		if len(op.Payload) == 0 {
			return nil
		}
		var events []models.RawEvent
		if err := json.Unmarshal(op.Payload, &events); err != nil {
			return fmt.Errorf("invalid batch json: %w", err)
		}
		p.tl.ApplyBatch(dir, events, time.Now())
		if p.deps.Decryptor != nil {
			for _, ev := range events {
				if ev.Type == models.TypeEncrypted && ev.EventID != "" {
					p.decrypts = append(p.decrypts, ev)
				}
			}
		}
		return nil
	}
}

func (p *Processor) handleSendCreate(op *queue.Op) error {
	if op.ID == "" {
		return fmt.Errorf("missing transaction id")
	}
	var content models.MessageContent
	if err := json.Unmarshal(op.Payload, &content); err != nil {
		return fmt.Errorf("invalid send content: %w", err)
	}
	p.tl.CreateEcho(op.ID, content, time.Now())
	if p.deps.Sender != nil {
		p.tl.MarkSending(op.ID)
		p.dispatches = append(p.dispatches, dispatch{txnID: op.ID, content: content})
	}
	return nil
}

func (p *Processor) handleSendSent(op *queue.Op) error {
	p.tl.MarkSent(op.ID, op.Ref)
	return nil
}

func (p *Processor) handleSendFailed(op *queue.Op) error {
	p.tl.MarkFailed(op.ID, string(op.Payload), time.Now())
	return nil
}

func (p *Processor) handleSendCancel(op *queue.Op) error {
	p.tl.CancelEcho(op.ID)
	return nil
}

func (p *Processor) handleSendRetry(op *queue.Op) error {
	content, ok := p.tl.RetryEcho(op.ID, op.Ref, time.Now())
	if !ok {
		return nil
	}
	if p.deps.Sender != nil {
		p.tl.MarkSending(op.Ref)
		p.dispatches = append(p.dispatches, dispatch{txnID: op.Ref, content: content})
	}
	return nil
}

func (p *Processor) handleDecryptResolve(op *queue.Op) error {
	delete(p.decrypting, op.ID)
	if op.ID == "" || op.Ref == "" {
		return fmt.Errorf("missing event id or type")
	}
	content := append([]byte(nil), op.Payload...)
	p.tl.ResolveDecryption(op.ID, op.Ref, content, time.Now())
	return nil
}

func (p *Processor) handleReceiptSet(op *queue.Op) error {
	var id models.EventIdentity
	if err := json.Unmarshal(op.Payload, &id); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	p.tl.SetReadMarker(id)
	return nil
}

func (p *Processor) handleSweep(*queue.Op) error {
	now := time.Now()
	p.tl.ExpirePending(now)
	p.tl.ExpireFailedEchoes(now)
	return nil
}
