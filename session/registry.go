package session

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"retro-api/domain"
)

// DefaultColumns is the fixed column layout every new board starts with.
var DefaultColumns = []string{"Start", "More", "Keep", "Less", "Stop"}

// Config carries the tunables shared by all sessions a registry creates.
type Config struct {
	// ColumnNames is the fixed column layout for new boards.
	ColumnNames []string
	// QueueSize bounds each board's mutation queue and provides backpressure.
	QueueSize int
	// SubscriberBuffer is the per-observer delta buffer; overflowing it marks
	// the observer lagged.
	SubscriberBuffer int
	// VoteLimit caps a voter's total votes across a board. Zero disables it.
	VoteLimit int
	// IdleTTL is how long a board with no observers stays resident.
	IdleTTL time.Duration
	// SweepInterval is how often idle boards are looked for.
	SweepInterval time.Duration

	Authorizer Authorizer
	Snapshots  SnapshotStore
	Deltas     DeltaSink
	Logger     *log.Logger
}

func (c Config) withDefaults() Config {
	if len(c.ColumnNames) == 0 {
		c.ColumnNames = DefaultColumns
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Authorizer == nil {
		c.Authorizer = allowAll{}
	}
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
	return c
}

// Registry maps board ids to live sessions. It creates a session on first
// reference, restoring persisted state when available, and evicts sessions
// that have had no observers for the configured idle interval.
type Registry struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	done chan struct{}
}

// NewRegistry creates a registry and starts its eviction janitor.
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: map[string]*Session{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Get returns the live session for the board, creating it on first reference.
func (r *Registry) Get(ctx context.Context, boardID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[boardID]; ok {
		return s, nil
	}

	board, err := r.restore(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s := newSession(boardID, board, r.cfg)
	r.sessions[boardID] = s
	r.logger.WithFields(log.Fields{"board": boardID, "revision": board.Revision()}).Info("session created")
	return s, nil
}

func (r *Registry) restore(ctx context.Context, boardID string) (*domain.Board, error) {
	if r.cfg.Snapshots == nil {
		return domain.NewBoard(boardID, r.cfg.ColumnNames), nil
	}
	snap, err := r.cfg.Snapshots.LoadSnapshot(ctx, boardID)
	if err != nil {
		var notFound SnapshotNotFoundError
		if errors.As(err, &notFound) {
			return domain.NewBoard(boardID, r.cfg.ColumnNames), nil
		}
		return nil, err
	}
	return domain.FromSnapshot(snap), nil
}

func (r *Registry) janitor() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*Session
	for _, s := range r.sessions {
		if s.Observers() == 0 && s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, s.id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.evict(s)
	}
}

func (r *Registry) evict(s *Session) {
	r.persist(s)
	s.close()
	r.logger.WithFields(log.Fields{"board": s.id}).Info("session evicted")
}

func (r *Registry) persist(s *Session) {
	if r.cfg.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		r.logger.WithFields(log.Fields{"board": s.id, "error": err}).Error("snapshot before eviction failed")
		return
	}
	if err := r.cfg.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		r.logger.WithFields(log.Fields{"board": s.id, "error": err}).Error("persist snapshot failed")
	}
}

// Close stops the janitor and shuts every session down, persisting final
// snapshots where a store is configured.
func (r *Registry) Close() {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.evict(s)
	}
}
