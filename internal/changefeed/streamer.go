package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/metrics"
)

// Sink delivers events to one connected client. Send is only called from
// the stream's goroutine.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

type Options struct {
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
	NewTicker         func(time.Duration) Ticker
}

type Streamer struct {
	refresh   time.Duration
	heartbeat time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newTicker func(time.Duration) Ticker
}

func NewStreamer(opts Options) *Streamer {
	st := &Streamer{
		refresh:   opts.RefreshInterval,
		heartbeat: opts.HeartbeatInterval,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		newTicker: opts.NewTicker,
	}
	if st.refresh <= 0 {
		st.refresh = 10 * time.Second
	}
	if st.heartbeat <= 0 {
		st.heartbeat = 25 * time.Second
	}
	if st.now == nil {
		st.now = time.Now
	}
	if st.newTicker == nil {
		st.newTicker = newTimeTicker
	}
	return st
}

// Stream is one running feed. Close stops both timers and waits for the
// stream goroutine to exit; it is safe to call more than once.
type Stream struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *Stream) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Stream) Done() <-chan struct{} { return s.done }

// Err is the reason the stream stopped. It is nil after a client-side close
// or cancellation and only valid once Done is closed.
func (s *Stream) Err() error { return s.err }

// Open starts a feed: an immediate refresh, then refreshes and heartbeats on
// their own intervals until ctx ends, Close is called or the sink fails.
func (st *Streamer) Open(ctx context.Context, feed string, src Source, sink Sink) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer s.once.Do(cancel)
		s.err = st.run(ctx, feed, Open(src, st.now), sink)
	}()
	return s
}

// Serve runs a feed until ctx ends or the sink fails.
func (st *Streamer) Serve(ctx context.Context, feed string, src Source, sink Sink) error {
	s := st.Open(ctx, feed, src, sink)
	<-s.Done()
	return s.Err()
}

func (st *Streamer) run(ctx context.Context, feed string, session *Session, sink Sink) error {
	st.metrics.StreamOpened(feed)
	defer st.metrics.StreamClosed(feed)
	defer session.Close()

	refresh := st.newTicker(st.refresh)
	defer refresh.Stop()
	heartbeat := st.newTicker(st.heartbeat)
	defer heartbeat.Stop()

	send := func(ev Event) error {
		if err := sink.Send(ctx, ev); err != nil {
			return err
		}
		st.metrics.ObserveStreamEvent(feed, string(ev.Type))
		return nil
	}

	tick := func() error {
		evs, err := session.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.logger.Warn().Err(err).Str("feed", feed).Msg("stream refresh failed")
			return send(Event{Type: EventError, Message: "refresh failed, retrying", At: st.now().UTC()})
		}
		for _, ev := range evs {
			if err := send(ev); err != nil {
				return err
			}
		}
		return nil
	}

	err := tick()
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-refresh.C():
			err = tick()
		case <-heartbeat.C():
			err = send(Event{Type: EventHeartbeat, At: st.now().UTC()})
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	st.logger.Debug().Err(err).Str("feed", feed).Msg("stream closed")
	return err
}
