package publish

import (
	"context"
	"log/slog"
	"time"

	"secdash/internal/logging"
	"secdash/internal/metrics"
	"secdash/internal/model"
)

type Options struct {
	Buffer       int
	Retries      int
	Backoff      time.Duration
	DedupeWindow time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Collectors
	Now          func() time.Time
}

// Dispatcher moves updates off the refresh path. Enqueue never blocks; a
// full queue drops the update.
type Dispatcher struct {
	sink    Sink
	queue   chan model.Update
	dedupe  *DedupeCache
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collectors
}

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan model.Update, opts.Buffer),
		dedupe:  NewDedupeCache(),
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
	}
}

func (d *Dispatcher) Name() string {
	return d.sink.Name()
}

func (d *Dispatcher) Enqueue(u model.Update) bool {
	select {
	case d.queue <- u:
		return true
	default:
		d.metrics.Drop(d.sink.Name())
		d.logger.Warn("sink queue full, dropping update", "sink", d.sink.Name(), "view", u.ViewID, "sequence", u.Sequence)
		return false
	}
}

// Run delivers queued updates until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case u := <-d.queue:
			d.deliver(ctx, u)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, u model.Update) {
	if d.opts.DedupeWindow > 0 && d.dedupe.Seen(Fingerprint(u), d.opts.Now(), d.opts.DedupeWindow) {
		d.logger.Debug("unchanged update skipped", "sink", d.sink.Name(), "view", u.ViewID)
		return
	}
	var err error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 && !backoffSleep(ctx, d.opts.Backoff*time.Duration(attempt)) {
			return
		}
		if err = d.sink.Write(ctx, u); err == nil {
			d.metrics.SinkWrite(d.sink.Name())
			return
		}
		d.logger.Warn("sink write failed", "sink", d.sink.Name(), "view", u.ViewID, "attempt", attempt+1, "err", err)
	}
	d.metrics.SinkFailure(d.sink.Name())
	d.logger.Error("sink gave up on update", "sink", d.sink.Name(), "view", u.ViewID, "sequence", u.Sequence, "err", err)
}

func backoffSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
