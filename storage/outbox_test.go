package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func TestOutboxDeliversDeltas(t *testing.T) {
	got := make(chan string, 8)
	o := newOutbox(func(ctx context.Context, payload string) error {
		got <- payload
		return nil
	}, quietLogger())
	defer o.Close()

	o.Enqueue(&domain.Delta{BoardID: "b1", Revision: 1, Kind: domain.MutationAddCard, Actor: "alice"})

	select {
	case payload := <-got:
		var delta domain.Delta
		if err := sonic.Unmarshal([]byte(payload), &delta); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if delta.BoardID != "b1" || delta.Revision != 1 || delta.Kind != domain.MutationAddCard {
			t.Fatalf("unexpected payload %+v", delta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestOutboxCloseDrainsQueue(t *testing.T) {
	var delivered atomic.Int64
	o := newOutbox(func(ctx context.Context, payload string) error {
		delivered.Add(1)
		return nil
	}, quietLogger())

	const n = 20
	for i := 0; i < n; i++ {
		o.Enqueue(&domain.Delta{BoardID: "b1", Revision: uint64(i + 1), Kind: domain.MutationAddCard})
	}
	o.Close()

	if got := delivered.Load(); got != n {
		t.Fatalf("expected %d deliveries after close, got %d", n, got)
	}
}

func TestOutboxShedsWhenSaturated(t *testing.T) {
	t.Setenv("OUTBOX_BUFFER", "1")
	t.Setenv("OUTBOX_WORKERS", "1")
	t.Setenv("OUTBOX_HANDOFF_TIMEOUT", "1ms")

	block := make(chan struct{})
	o := newOutbox(func(ctx context.Context, payload string) error {
		<-block
		return nil
	}, quietLogger())

	// With the single worker wedged the buffer fills and later deltas are
	// shed; Enqueue must return promptly either way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			o.Enqueue(&domain.Delta{BoardID: "b1", Revision: uint64(i + 1), Kind: domain.MutationAddCard})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a saturated outbox")
	}

	close(block)
	o.Close()
}

func TestOutboxEnqueueAfterCloseIsSafe(t *testing.T) {
	o := newOutbox(func(ctx context.Context, payload string) error { return nil }, quietLogger())
	o.Close()

	// A send after close must not panic the caller.
	o.Enqueue(&domain.Delta{BoardID: "b1", Revision: 1, Kind: domain.MutationAddCard})
}

func TestOutboxLogsDeliveryFailure(t *testing.T) {
	var calls atomic.Int64
	o := newOutbox(func(ctx context.Context, payload string) error {
		calls.Add(1)
		return errors.New("queue unavailable")
	}, quietLogger())

	o.Enqueue(&domain.Delta{BoardID: "b1", Revision: 1, Kind: domain.MutationAddCard})
	o.Close()

	if calls.Load() != 1 {
		t.Fatalf("expected one delivery attempt, got %d", calls.Load())
	}
}
