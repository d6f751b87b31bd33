package storage

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

// Outbox forwards accepted deltas to an Azure queue for downstream read-model
// consumers. Delivery is asynchronous through a bounded worker pool so the
// board mutation stream is never blocked; a saturated outbox sheds deltas,
// which consumers recover from via board snapshots.
type Outbox struct {
	enqueue func(ctx context.Context, payload string) error
	logger  *log.Logger

	jobs    chan []byte
	timeout time.Duration
	handoff time.Duration
	wg      sync.WaitGroup
}

// NewOutbox creates an Outbox publishing to the named queue.
func NewOutbox(connStr, queueName string, logger *log.Logger) (*Outbox, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	o := newOutbox(func(ctx context.Context, payload string) error {
		_, err := client.EnqueueMessage(ctx, payload, nil)
		return err
	}, logger)
	return o, nil
}

func newOutbox(enqueue func(ctx context.Context, payload string) error, logger *log.Logger) *Outbox {
	o := &Outbox{
		enqueue: enqueue,
		logger:  logger,
		jobs:    make(chan []byte, envInt("OUTBOX_BUFFER", 1024)),
		timeout: envDur("OUTBOX_ENQUEUE_TIMEOUT", 60*time.Second),
		handoff: envDur("OUTBOX_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	workers := envInt("OUTBOX_WORKERS", 4)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	logger.Infof("delta outbox started, workers: %d, buffer: %d", workers, cap(o.jobs))
	return o
}

// Enqueue hands the delta to the worker pool without blocking the caller
// beyond a short handoff window.
func (o *Outbox) Enqueue(delta *domain.Delta) {
	payload, err := sonic.Marshal(delta)
	if err != nil {
		o.logger.Errorf("marshal delta: %v", err)
		return
	}
	if ok, closed := trySendNonBlocking(o.jobs, payload); closed {
		return
	} else if ok {
		return
	}
	if o.handoff <= 0 {
		o.drop(delta)
		return
	}
	timer := time.NewTimer(o.handoff)
	defer timer.Stop()
	if ok, _ := sendWithTimer(o.jobs, payload, timer.C); !ok {
		o.drop(delta)
	}
}

func (o *Outbox) drop(delta *domain.Delta) {
	o.logger.WithFields(log.Fields{
		"board":    delta.BoardID,
		"revision": delta.Revision,
	}).Warn("delta outbox saturated, shedding delta")
}

func (o *Outbox) worker(id int) {
	defer o.wg.Done()
	for payload := range o.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.enqueue(ctx, string(payload))
		cancel()
		if err != nil {
			o.logger.Errorf("outbox enqueue failed, err: %v, worker: %d", err, id)
		}
	}
}

// Close stops accepting deltas and waits for in-flight deliveries.
func (o *Outbox) Close() {
	close(o.jobs)
	o.wg.Wait()
}

func trySendNonBlocking(ch chan []byte, payload []byte) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- payload:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan []byte, payload []byte, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- payload:
		return true, false
	case <-timer:
		return false, false
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
