package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

var (
	// ErrClosed is returned when a request reaches a session that has been
	// evicted or shut down.
	ErrClosed = errors.New("session closed")

	// ErrFailed is returned after a board invariant violation. The session is
	// fenced: state is frozen and every subsequent mutation is refused.
	ErrFailed = errors.New("session failed")
)

// SnapshotStore persists and restores board snapshots. The session engine
// holds no file or database logic itself.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error
	LoadSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error)
}

// SnapshotNotFoundError is implemented by SnapshotStore errors that mean the
// board has never been persisted, as opposed to the store being unavailable.
type SnapshotNotFoundError interface {
	error
	SnapshotNotFound()
}

// DeltaSink receives every accepted delta for downstream consumers. Enqueue
// must not block the caller.
type DeltaSink interface {
	Enqueue(delta *domain.Delta)
}

// Authorizer decides whether a participant may drive the stage machine.
type Authorizer interface {
	CanSetStage(boardID, voterID string) bool
}

type allowAll struct{}

func (allowAll) CanSetStage(string, string) bool { return true }

type reqOp int

const (
	opApply reqOp = iota
	opSubscribe
	opSnapshot
)

type request struct {
	op    reqOp
	voter string
	mut   domain.Mutation
	reply chan response
}

type response struct {
	revision uint64
	delta    *domain.Delta
	snap     *domain.Snapshot
	sub      *Subscriber
	err      error
}

// Session owns one board. All mutations and snapshot reads are serialized
// through a single goroutine, which guarantees revision and reveal-rank
// monotonicity without locks around board state.
type Session struct {
	id     string
	board  *domain.Board
	broker *broker
	cfg    Config
	logger *log.Logger

	requests chan request
	stop     chan struct{}
	stopped  chan struct{}

	failed     atomic.Bool
	lastActive atomic.Int64
}

func newSession(id string, board *domain.Board, cfg Config) *Session {
	s := &Session{
		id:       id,
		board:    board,
		broker:   newBroker(),
		cfg:      cfg,
		logger:   cfg.Logger,
		requests: make(chan request, cfg.QueueSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s.touch()
	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Observers is the number of currently subscribed clients.
func (s *Session) Observers() int {
	return s.broker.count()
}

func (s *Session) send(ctx context.Context, req request) (response, error) {
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-s.stop:
		return response{}, ErrClosed
	}
	// Once queued the request will be applied even if the caller goes away;
	// only the wait for the reply is cancellable.
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-s.stopped:
		return response{}, ErrClosed
	}
}

// Apply submits one mutation and waits for the outcome. The returned revision
// is the board revision after the request was handled, whether or not it
// changed state.
func (s *Session) Apply(ctx context.Context, voter string, m domain.Mutation) (uint64, *domain.Delta, error) {
	resp, err := s.send(ctx, request{op: opApply, voter: voter, mut: m, reply: make(chan response, 1)})
	return resp.revision, resp.delta, err
}

// Subscribe registers an observer and returns the snapshot the delta stream
// continues from. The two are taken atomically with respect to mutations.
func (s *Session) Subscribe(ctx context.Context) (*domain.Snapshot, *Subscriber, error) {
	resp, err := s.send(ctx, request{op: opSubscribe, reply: make(chan response, 1)})
	if err != nil {
		return nil, nil, err
	}
	return resp.snap, resp.sub, nil
}

// Unsubscribe removes an observer. In-flight mutations it submitted still
// complete and are broadcast to the remaining observers.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.broker.remove(sub)
	s.touch()
}

// Snapshot returns a consistent copy of the current board state.
func (s *Session) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	resp, err := s.send(ctx, request{op: opSnapshot, reply: make(chan response, 1)})
	if err != nil {
		return nil, err
	}
	return resp.snap, nil
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case req := <-s.requests:
			s.handle(req)
		}
	}
}

func (s *Session) handle(req request) {
	defer func() {
		if r := recover(); r != nil {
			// An invariant violation is a bug, not a user error. Freeze the
			// board rather than risk broadcasting corrupt state.
			s.failed.Store(true)
			s.logger.WithFields(log.Fields{"board": s.id, "panic": r}).
				Error("board invariant violation, session fenced")
			req.reply <- response{err: ErrFailed}
		}
	}()
	s.touch()

	if s.failed.Load() {
		req.reply <- response{err: ErrFailed}
		return
	}

	switch req.op {
	case opApply:
		req.reply <- s.apply(req.voter, req.mut)
	case opSubscribe:
		sub := s.broker.add(s.cfg.SubscriberBuffer)
		req.reply <- response{snap: s.board.Snapshot(), sub: sub}
	case opSnapshot:
		req.reply <- response{snap: s.board.Snapshot()}
	}
}

func (s *Session) apply(voter string, m domain.Mutation) response {
	if m.Kind == domain.MutationSetStage && !s.cfg.Authorizer.CanSetStage(s.id, voter) {
		return response{
			revision: s.board.Revision(),
			err:      &domain.Rejection{Reason: domain.ReasonStageViolation, Detail: "not permitted to change stage"},
		}
	}

	delta, err := s.board.Apply(voter, m, s.cfg.VoteLimit)
	if err != nil {
		return response{revision: s.board.Revision(), err: err}
	}
	if delta != nil {
		s.broker.publish(delta)
		if s.cfg.Deltas != nil {
			s.cfg.Deltas.Enqueue(delta)
		}
		s.logger.WithFields(log.Fields{
			"board":    s.id,
			"revision": delta.Revision,
			"kind":     delta.Kind,
		}).Debug("mutation applied")
	}
	return response{revision: s.board.Revision(), delta: delta}
}

// close stops the session loop. Pending requests are answered with ErrClosed
// through the stopped channel select in send.
func (s *Session) close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.stopped
	s.broker.closeAll()
}
