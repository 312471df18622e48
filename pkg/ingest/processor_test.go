package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomline/pkg/models"
	"roomline/pkg/timeline"
)

func timelineConfig(localUserID string) timeline.Config {
	return timeline.Config{LocalUserID: localUserID}
}

func msgEvent(id, sender, body string, ts int64) models.RawEvent {
	content, _ := json.Marshal(models.MessageContent{MsgType: "m.text", Body: body})
	return models.RawEvent{
		EventID:        id,
		Sender:         sender,
		Type:           models.TypeMessage,
		OriginServerTS: ts,
		Content:        content,
	}
}

func eventItems(items []models.TimelineItem) []*models.EventItem {
	var out []*models.EventItem
	for _, it := range items {
		if it.Kind == models.ItemEvent {
			out = append(out, it.Event)
		}
	}
	return out
}

// fakeSender records sends and fails the first failFirst calls.
type fakeSender struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	nextID    int
}

func (f *fakeSender) Send(_ context.Context, _ models.MessageContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return "", errors.New("transport down")
	}
	f.nextID++
	return fmt.Sprintf("$srv%d", f.nextID), nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDecryptor struct{}

func (fakeDecryptor) Decrypt(_ context.Context, ev models.RawEvent) (string, json.RawMessage, error) {
	content, _ := json.Marshal(models.MessageContent{MsgType: "m.text", Body: "decrypted:" + ev.EventID})
	return models.TypeMessage, content, nil
}

func startProcessor(t *testing.T, cfg Config, deps Deps) *Processor {
	t.Helper()
	p := NewProcessor(cfg, deps)
	p.Start(context.Background())
	t.Cleanup(p.Close)
	return p
}

func TestProcessorAppliesLiveBatch(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	require.NoError(t, p.PushLive([]models.RawEvent{
		msgEvent("$a", "@a:x", "one", 1000),
		msgEvent("$b", "@b:x", "two", 2000),
	}))

	require.Eventually(t, func() bool {
		return len(eventItems(p.Snapshot())) == 2
	}, time.Second, 5*time.Millisecond)

	evs := eventItems(p.Snapshot())
	assert.Equal(t, "$a", evs[0].Identity.EventID)
	assert.Equal(t, "$b", evs[1].Identity.EventID)
}

func TestProcessorDedupesAcrossBatches(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	batch := []models.RawEvent{msgEvent("$a", "@a:x", "one", 1000)}
	require.NoError(t, p.PushLive(batch))
	require.NoError(t, p.PushBack(batch))
	require.NoError(t, p.PushForward(batch))

	require.Eventually(t, func() bool {
		return len(eventItems(p.Snapshot())) == 1
	}, time.Second, 5*time.Millisecond)

	// give the duplicates a chance to land wrongly
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, eventItems(p.Snapshot()), 1)
}

func TestSubscribeReplayEquivalence(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	snap, ch, cancel := p.Subscribe()
	defer cancel()
	mirror := append([]models.TimelineItem(nil), snap...)

	require.NoError(t, p.PushLive([]models.RawEvent{msgEvent("$b", "@a:x", "two", 2000)}))
	require.NoError(t, p.PushBack([]models.RawEvent{msgEvent("$a", "@a:x", "one", 1000)}))
	require.NoError(t, p.PushLive([]models.RawEvent{msgEvent("$c", "@a:x", "three", 3000)}))

	require.Eventually(t, func() bool {
		for {
			select {
			case diffs, ok := <-ch:
				if !ok {
					return false
				}
				mirror = models.ApplyDiffs(mirror, diffs)
			default:
				current := p.Snapshot()
				return len(eventItems(current)) == 3 && reflect.DeepEqual(mirror, current)
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})
	_, ch, cancel := p.Subscribe()
	cancel()
	// cancel twice is safe
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestSendDispatchAndConfirm(t *testing.T) {
	sender := &fakeSender{}
	p := startProcessor(t, Config{Timeline: timelineConfig("@me:x")}, Deps{Sender: sender})

	txn, err := p.Send(models.MessageContent{MsgType: "m.text", Body: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, txn)

	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].SendState == models.SendSent
	}, time.Second, 5*time.Millisecond)

	// sync delivers the confirmed event echoing the transaction
	confirm := msgEvent("$srv1", "@me:x", "hi", 5000)
	confirm.Unsigned.TransactionID = txn
	require.NoError(t, p.PushLive([]models.RawEvent{confirm}))

	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].SendState == models.SendConfirmed &&
			evs[0].Identity.EventID == "$srv1"
	}, time.Second, 5*time.Millisecond)
}

func TestSendFailureAndRetry(t *testing.T) {
	sender := &fakeSender{failFirst: 1}
	p := startProcessor(t, Config{Timeline: timelineConfig("@me:x")}, Deps{Sender: sender})

	txn, err := p.Send(models.MessageContent{MsgType: "m.text", Body: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].SendState == models.SendFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "transport down", eventItems(p.Snapshot())[0].SendError)

	newTxn, err := p.Retry(txn)
	require.NoError(t, err)
	assert.NotEqual(t, txn, newTxn)

	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].SendState == models.SendSent &&
			evs[0].Identity.TxnID == newTxn
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sender.callCount())
}

func TestCancelRemovesEcho(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	txn, err := p.Send(models.MessageContent{MsgType: "m.text", Body: "hi"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(eventItems(p.Snapshot())) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Cancel(txn))
	require.Eventually(t, func() bool {
		return len(eventItems(p.Snapshot())) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDecryptorResolvesPlaceholder(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{Decryptor: fakeDecryptor{}})

	require.NoError(t, p.PushLive([]models.RawEvent{{
		EventID: "$enc", Sender: "@a:x", Type: models.TypeEncrypted,
		OriginServerTS: 1000, Content: json.RawMessage(`{"algorithm":"m.megolm.v1.aes-sha2"}`),
	}}))

	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].Content.Kind == models.KindMessage &&
			evs[0].Content.Body == "decrypted:$enc"
	}, time.Second, 5*time.Millisecond)
}

func TestExternalDecryptResolution(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	require.NoError(t, p.PushLive([]models.RawEvent{{
		EventID: "$enc", Sender: "@a:x", Type: models.TypeEncrypted,
		OriginServerTS: 1000, Content: json.RawMessage(`{}`),
	}}))
	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].Content.Kind == models.KindEncrypted
	}, time.Second, 5*time.Millisecond)

	content, _ := json.Marshal(models.MessageContent{MsgType: "m.text", Body: "late"})
	require.NoError(t, p.ResolveDecryption("$enc", models.TypeMessage, content))
	require.Eventually(t, func() bool {
		evs := eventItems(p.Snapshot())
		return len(evs) == 1 && evs[0].Content.Body == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestReadMarkerThroughQueue(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})

	require.NoError(t, p.PushLive([]models.RawEvent{
		msgEvent("$a", "@a:x", "one", 1000),
		msgEvent("$b", "@a:x", "two", 2000),
	}))
	require.Eventually(t, func() bool {
		return len(eventItems(p.Snapshot())) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetReadMarker(models.RemoteIdentity("$a")))
	require.Eventually(t, func() bool {
		for _, it := range p.Snapshot() {
			if it.Kind == models.ItemReadMarker {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSweepThroughQueue(t *testing.T) {
	p := startProcessor(t, Config{}, Deps{})
	require.NoError(t, p.EnqueueSweep())
	// drains without disturbing state; the empty render still publishes
	require.Eventually(t, func() bool {
		return p.Snapshot() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotentAndStopsIntake(t *testing.T) {
	p := NewProcessor(Config{}, Deps{})
	p.Start(context.Background())
	p.Close()
	p.Close()

	err := p.PushLive([]models.RawEvent{msgEvent("$a", "@a:x", "one", 1000)})
	assert.Error(t, err)
}

func TestContextCancelStopsProcessor(t *testing.T) {
	p := NewProcessor(Config{}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return p.PushLive([]models.RawEvent{msgEvent("$a", "@a:x", "one", 1000)}) != nil
	}, time.Second, 5*time.Millisecond)
	p.Close()
}
