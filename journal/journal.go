// Package journal ships every broadcast event to durable sinks off the
// publish path. Appends never block; records that cannot be buffered are
// dropped and counted.
package journal

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"event-api/domain"
	"event-api/internal/env"
)

// Sink delivers a single record. Deliver may be called concurrently.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec *Record) error
	Close() error
}

type Config struct {
	BufferSize     int
	Workers        int
	BatchSize      int
	FlushInterval  time.Duration
	DeliverTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	// MaxAttempts bounds deliveries per record; zero retries forever.
	MaxAttempts int
}

func ConfigFromEnv() Config {
	return Config{
		BufferSize:     env.Int("JOURNAL_BUFFER", 4096),
		Workers:        env.Int("JOURNAL_WORKERS", 4),
		BatchSize:      env.Int("JOURNAL_BATCH", 32),
		FlushInterval:  env.Duration("JOURNAL_FLUSH_INTERVAL", 5*time.Millisecond),
		DeliverTimeout: env.Duration("JOURNAL_DELIVER_TIMEOUT", 30*time.Second),
		RetryInitial:   env.Duration("JOURNAL_RETRY_INITIAL", 250*time.Millisecond),
		RetryMax:       env.Duration("JOURNAL_RETRY_MAX", 30*time.Second),
		MaxAttempts:    env.Int("JOURNAL_MAX_ATTEMPTS", 10),
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.Workers * c.BatchSize * 2
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Millisecond
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 30 * time.Second
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

var ErrClosed = errors.New("journal: closed")

// Journal buffers records and delivers them to one sink with a pool of
// batching workers. Failed deliveries are retried with exponential backoff.
type Journal struct {
	cfg    Config
	sink   Sink
	logger *log.Entry

	workCh   chan *Record
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	mu      sync.RWMutex
	closing bool

	appended  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	retrying  atomic.Int64
	started   time.Time
}

// New starts a journal delivering to sink.
func New(cfg Config, sink Sink, logger *log.Logger) *Journal {
	if sink == nil {
		panic("journal.New: sink is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.normalized()
	j := &Journal{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.WithField("sink", sink.Name()),
		workCh:  make(chan *Record, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		started: time.Now().UTC(),
	}
	for i := 0; i < cfg.Workers; i++ {
		j.workerWG.Add(1)
		go j.worker(i)
	}
	return j
}

// Append buffers ev for delivery without blocking.
func (j *Journal) Append(ctx context.Context, topic string, ev domain.Event, frame []byte) {
	if err := j.append(newRecord(ctx, topic, ev, frame)); err != nil {
		j.dropped.Add(1)
		j.logger.WithError(err).WithField("event", ev.Type()).Warn("journal record dropped")
	}
}

var errSaturated = errors.New("journal: buffer is saturated")

func (j *Journal) append(rec *Record) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closing {
		return ErrClosed
	}
	select {
	case j.workCh <- rec:
		j.appended.Add(1)
		return nil
	default:
		return errSaturated
	}
}

func (j *Journal) worker(id int) {
	defer j.workerWG.Done()

	batch := make([]*Record, 0, j.cfg.BatchSize)
	timer := time.NewTimer(j.cfg.FlushInterval)
	defer timer.Stop()
	for {
		if len(batch) == 0 {
			select {
			case rec := <-j.workCh:
				batch = append(batch, rec)
				timer.Reset(j.cfg.FlushInterval)
			case <-j.stopCh:
				j.drain(id)
				return
			}
		}

	gather:
		for len(batch) < j.cfg.BatchSize {
			select {
			case rec := <-j.workCh:
				batch = append(batch, rec)
			case <-timer.C:
				break gather
			case <-j.stopCh:
				j.flushBatch(batch, id)
				j.drain(id)
				return
			}
		}

		j.flushBatch(batch, id)
		batch = batch[:0]
	}
}

// drain flushes whatever is still buffered once the journal is stopping.
func (j *Journal) drain(workerID int) {
	batch := make([]*Record, 0, j.cfg.BatchSize)
	for {
		select {
		case rec := <-j.workCh:
			batch = append(batch, rec)
			if len(batch) == j.cfg.BatchSize {
				j.flushBatch(batch, workerID)
				batch = batch[:0]
			}
		default:
			j.flushBatch(batch, workerID)
			return
		}
	}
}

func (j *Journal) flushBatch(batch []*Record, workerID int) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.DeliverTimeout)
	defer cancel()

	for _, rec := range batch {
		if err := j.sink.Deliver(rec.TraceContext(ctx), rec); err != nil {
			rec.Attempt++
			rec.LastErr = err.Error()
			j.logger.WithError(err).WithFields(log.Fields{
				"worker":  workerID,
				"record":  rec.ID.String(),
				"event":   rec.Type,
				"attempt": rec.Attempt,
			}).Error("journal delivery failed")
			j.scheduleRetry(rec)
			continue
		}
		j.delivered.Add(1)
	}
}

func (j *Journal) scheduleRetry(rec *Record) {
	if j.cfg.MaxAttempts > 0 && rec.Attempt >= j.cfg.MaxAttempts {
		j.giveUp(rec)
		return
	}
	select {
	case <-j.stopCh:
		j.giveUp(rec)
		return
	default:
	}

	delay := exponentialBackoff(rec.Attempt, j.cfg.RetryInitial, j.cfg.RetryMax)
	j.retryWG.Add(1)
	j.retrying.Add(1)
	timer := time.NewTimer(delay)
	go func(r *Record) {
		defer j.retryWG.Done()
		defer j.retrying.Add(-1)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case j.workCh <- r:
			case <-j.stopCh:
				j.giveUp(r)
			}
		case <-j.stopCh:
			j.giveUp(r)
		}
	}(rec)
}

func (j *Journal) giveUp(rec *Record) {
	j.logger.WithFields(log.Fields{
		"record":  rec.ID.String(),
		"event":   rec.Type,
		"attempt": rec.Attempt,
		"error":   rec.LastErr,
	}).Error("journal record abandoned")
	j.failed.Add(1)
}

// Close stops accepting records, flushes the buffer once and releases the
// sink. Pending retries are abandoned. It is safe to call more than once.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closing {
		j.mu.Unlock()
		return
	}
	j.closing = true
	close(j.stopCh)
	j.mu.Unlock()

	j.workerWG.Wait()
	j.retryWG.Wait()
	// a retry can land in the buffer after the workers have exited
	for len(j.workCh) > 0 {
		j.giveUp(<-j.workCh)
	}
	if err := j.sink.Close(); err != nil {
		j.logger.WithError(err).Warn("close journal sink")
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

type Stats struct {
	Sink      string    `json:"sink"`
	Buffered  int       `json:"buffered"`
	Appended  uint64    `json:"appended"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
	Failed    uint64    `json:"failed"`
	Retrying  int64     `json:"retrying"`
	StartedAt time.Time `json:"startedAt"`
	DrainRate float64   `json:"drainRatePerSecond"`
}

func (j *Journal) Stats() Stats {
	delivered := j.delivered.Load()
	elapsed := time.Since(j.started)
	rps := 0.0
	if elapsed > 0 {
		rps = float64(delivered) / elapsed.Seconds()
	}
	return Stats{
		Sink:      j.sink.Name(),
		Buffered:  len(j.workCh),
		Appended:  j.appended.Load(),
		Delivered: delivered,
		Dropped:   j.dropped.Load(),
		Failed:    j.failed.Load(),
		Retrying:  j.retrying.Load(),
		StartedAt: j.started,
		DrainRate: rps,
	}
}

// Fanout appends every record to each journal in turn.
type Fanout []*Journal

func (f Fanout) Append(ctx context.Context, topic string, ev domain.Event, frame []byte) {
	for _, j := range f {
		j.Append(ctx, topic, ev, frame)
	}
}

func (f Fanout) Stats() []Stats {
	out := make([]Stats, 0, len(f))
	for _, j := range f {
		out = append(out, j.Stats())
	}
	return out
}

func (f Fanout) Close() {
	for _, j := range f {
		j.Close()
	}
}
