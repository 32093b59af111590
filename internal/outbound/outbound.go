// Package outbound implements the single-writer Outbound Scheduler: every
// task that wants to send to the client enqueues onto one ordered queue,
// and one consumer goroutine drains it to the wire.
//
// Each enqueued item is tagged with the enqueueing turn's epoch. Before
// writing an item, the scheduler drops it if the session's epoch counter
// has advanced past the item's tag — this is how cancellation reaches the
// wire without races (spec §4.8, §5).
package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the minimal write-side transport the scheduler drains onto. The
// server package supplies an implementation backed by *websocket.Conn.
type Conn interface {
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error
}

// ErrClosed is returned by Enqueue after the scheduler has been closed.
var ErrClosed = errors.New("outbound: scheduler closed")

// ErrClientSlow is delivered to the OnTeardown callback when the outbound
// PCM queue stays full past the configured block bound.
var ErrClientSlow = errors.New("outbound: client too slow, tearing down")

// item is one queued frame.
type item struct {
	epoch  uint64
	binary bool
	pcm    bool
	data   []byte
}

// Config tunes the scheduler's queue depth and backpressure behavior.
type Config struct {
	// QueueDepth bounds the single shared outbound queue that both text and
	// PCM frames are enqueued onto. Producers block when full.
	QueueDepth int

	// PCMBlockBound is how long a producer blocks on a full queue
	// before the scheduler treats the client as slow and invokes
	// OnTeardown. Default: [config.DefaultOutboundPCMBlockBound].
	PCMBlockBound time.Duration

	// OnTeardown is invoked at most once, when the client is judged too
	// slow to keep up with outbound PCM or when a write to conn fails. May
	// be nil.
	OnTeardown func(error)
}

// Scheduler serializes all server→client frames onto conn through a single
// consumer goroutine, preserving per-turn ordering and dropping frames
// belonging to superseded turns.
type Scheduler struct {
	conn Conn
	cfg  Config

	epoch atomic.Uint64

	queue chan item

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	teardownOnce sync.Once
}

// New constructs a Scheduler writing to conn and starts its consumer
// goroutine. Call Close when the session ends.
func New(conn Conn, cfg Config) *Scheduler {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.PCMBlockBound <= 0 {
		cfg.PCMBlockBound = 200 * time.Millisecond
	}

	s := &Scheduler{
		conn:  conn,
		cfg:   cfg,
		queue: make(chan item, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// CurrentEpoch returns the scheduler's current epoch.
func (s *Scheduler) CurrentEpoch() uint64 { return s.epoch.Load() }

// BumpEpoch advances the epoch counter, causing already-enqueued and future
// items tagged with an older epoch to be dropped instead of written. Called
// by the turn state machine when cancelling a turn.
func (s *Scheduler) BumpEpoch() uint64 {
	return s.epoch.Add(1)
}

// EnqueueText enqueues a JSON control frame tagged with epoch. Blocks if
// the text queue is full. Returns ErrClosed if the scheduler has been
// closed.
func (s *Scheduler) EnqueueText(ctx context.Context, epoch uint64, data []byte) error {
	select {
	case s.queue <- item{epoch: epoch, data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueuePCM enqueues a binary PCM chunk tagged with epoch onto the same
// ordered queue as EnqueueText, preserving strict FIFO delivery across text
// and binary frames (§4.8). If the queue is full, EnqueuePCM blocks for up
// to cfg.PCMBlockBound; if it is still full after that, the client is
// judged too slow, OnTeardown fires once, and ErrClientSlow is returned.
func (s *Scheduler) EnqueuePCM(ctx context.Context, epoch uint64, data []byte) error {
	select {
	case s.queue <- item{epoch: epoch, binary: true, pcm: true, data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(s.cfg.PCMBlockBound)
	defer timer.Stop()

	select {
	case s.queue <- item{epoch: epoch, binary: true, pcm: true, data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.teardown(ErrClientSlow)
		return ErrClientSlow
	}
}

// run is the single consumer goroutine draining the shared queue onto conn.
func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case it := <-s.queue:
			s.write(it)
		}
	}
}

// write drops it if its epoch has been superseded, otherwise writes it to
// conn. Write errors are logged; per spec, a channel write error is a
// session-level ChannelError handled by the caller observing conn's health,
// not by the scheduler itself.
func (s *Scheduler) write(it item) {
	if it.epoch < s.epoch.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if it.binary {
		err = s.conn.WriteBinary(ctx, it.data)
	} else {
		err = s.conn.WriteText(ctx, it.data)
	}
	if err != nil {
		slog.Warn("outbound: write failed", "err", err, "binary", it.binary)
		s.teardown(err)
	}
}

// teardown invokes cfg.OnTeardown at most once. It does not close the
// scheduler; that is left to Close.
func (s *Scheduler) teardown(cause error) {
	s.teardownOnce.Do(func() {
		if s.cfg.OnTeardown != nil {
			s.cfg.OnTeardown(cause)
		}
	})
}

// DrainPending discards every item currently sitting in the queue without
// writing it to conn, then returns. It does not touch the epoch counter and
// does not stop the consumer goroutine — new items enqueued after DrainPending
// returns are written normally. Used by the client's clear_queues command,
// which clears buffered output without otherwise changing TurnPhase.
func (s *Scheduler) DrainPending() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// Close stops the consumer goroutine and waits for it to exit. Safe to call
// multiple times.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
