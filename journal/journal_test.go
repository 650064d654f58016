package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"event-api/domain"
)

type fakeSink struct {
	mu        sync.Mutex
	records   []*Record
	failFirst int
	failAll   bool
	block     chan struct{}
	closed    bool
	delivered chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{delivered: make(chan struct{}, 1024)}
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Deliver(ctx context.Context, rec *Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("sink unavailable")
	}
	if s.failFirst > 0 {
		s.failFirst--
		return errors.New("transient failure")
	}
	s.records = append(s.records, rec)
	s.delivered <- struct{}{}
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) snapshot() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

func (s *fakeSink) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.delivered:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func testConfig() Config {
	return Config{
		BufferSize:    16,
		Workers:       2,
		BatchSize:     4,
		FlushInterval: time.Millisecond,
		RetryInitial:  time.Millisecond,
		RetryMax:      5 * time.Millisecond,
		MaxAttempts:   3,
	}
}

func quietLogger() (*log.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return logger, hook
}

func appendEvent(j *Journal, ev domain.Event) {
	frame, _ := domain.EncodeEvent(ev)
	j.Append(context.Background(), "/topic/users", ev, frame)
}

func TestJournalDeliversAppendedEvents(t *testing.T) {
	logger, _ := quietLogger()
	sink := newFakeSink()
	j := New(testConfig(), sink, logger)
	t.Cleanup(j.Close)

	for i := int64(1); i <= 5; i++ {
		appendEvent(j, domain.UserDeleted{UserID: i})
	}
	sink.waitFor(t, 5)

	stats := j.Stats()
	if stats.Appended != 5 || stats.Delivered != 5 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for _, rec := range sink.snapshot() {
		if rec.Type != domain.UserDeletedType || rec.Topic != "/topic/users" {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
}

func TestJournalRetriesTransientFailures(t *testing.T) {
	logger, hook := quietLogger()
	sink := newFakeSink()
	sink.failFirst = 2
	j := New(testConfig(), sink, logger)
	t.Cleanup(j.Close)

	appendEvent(j, domain.UserDeleted{UserID: 1})
	sink.waitFor(t, 1)

	rec := sink.snapshot()[0]
	if rec.Attempt != 2 {
		t.Fatalf("expected two failed attempts before success, got %d", rec.Attempt)
	}
	var failures int
	for _, e := range hook.AllEntries() {
		if e.Message == "journal delivery failed" {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 failure logs, got %d", failures)
	}
}

func TestJournalAbandonsAfterMaxAttempts(t *testing.T) {
	logger, hook := quietLogger()
	sink := newFakeSink()
	sink.failAll = true
	j := New(testConfig(), sink, logger)
	t.Cleanup(j.Close)

	appendEvent(j, domain.UserDeleted{UserID: 1})

	deadline := time.Now().Add(2 * time.Second)
	for j.Stats().Failed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("record was not abandoned, stats %+v", j.Stats())
		}
		time.Sleep(time.Millisecond)
	}
	last := hook.LastEntry()
	if last == nil || last.Message != "journal record abandoned" || last.Level != log.ErrorLevel {
		t.Fatalf("unexpected last log entry %+v", last)
	}
	if last.Data["attempt"] != 3 {
		t.Fatalf("expected attempt=3, got %v", last.Data["attempt"])
	}
}

func TestJournalAppendNeverBlocks(t *testing.T) {
	logger, _ := quietLogger()
	sink := newFakeSink()
	sink.block = make(chan struct{})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BatchSize = 1
	cfg.BufferSize = 2
	j := New(cfg, sink, logger)
	t.Cleanup(func() {
		close(sink.block)
		j.Close()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 20; i++ {
			appendEvent(j, domain.UserDeleted{UserID: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append blocked on a stalled sink")
	}
	if j.Stats().Dropped == 0 {
		t.Fatalf("expected drops once the buffer filled, stats %+v", j.Stats())
	}
}

func TestJournalCloseFlushesAndRejects(t *testing.T) {
	logger, _ := quietLogger()
	sink := newFakeSink()
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	cfg.BatchSize = 100
	j := New(cfg, sink, logger)

	appendEvent(j, domain.UserDeleted{UserID: 1})
	appendEvent(j, domain.UserDeleted{UserID: 2})
	j.Close()
	j.Close()

	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("expected buffered records flushed on close, got %d", got)
	}
	if !sink.closed {
		t.Fatal("expected sink closed")
	}

	appendEvent(j, domain.UserDeleted{UserID: 3})
	if j.Stats().Dropped != 1 {
		t.Fatalf("expected append after close to be dropped, stats %+v", j.Stats())
	}
}

func TestRecordEnvelopeEmbedsFrame(t *testing.T) {
	ev := domain.UserCreated{User: domain.NewUser(7, "A", "a@x.com")}
	frame, err := domain.EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rec := newRecord(context.Background(), "/topic/users", ev, frame)

	data, err := rec.Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	var got struct {
		ID    string                 `json:"id"`
		Topic string                 `json:"topic"`
		Type  string                 `json:"type"`
		Event sonic.NoCopyRawMessage `json:"event"`
	}
	if err := sonic.ConfigStd.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if got.ID != rec.ID.String() || got.Topic != "/topic/users" || got.Type != "USER_CREATED" {
		t.Fatalf("unexpected envelope %s", data)
	}
	decoded, err := domain.DecodeEvent(got.Event)
	if err != nil {
		t.Fatalf("decode embedded event: %v", err)
	}
	if created, ok := decoded.(domain.UserCreated); !ok || created.User.IDValue() != 7 {
		t.Fatalf("unexpected embedded event %#v", decoded)
	}
}

func TestFanoutAppendsToEveryJournal(t *testing.T) {
	logger, _ := quietLogger()
	a, b := newFakeSink(), newFakeSink()
	f := Fanout{New(testConfig(), a, logger), New(testConfig(), b, logger)}
	t.Cleanup(f.Close)

	frame, _ := domain.EncodeEvent(domain.UserDeleted{UserID: 1})
	f.Append(context.Background(), "/topic/users", domain.UserDeleted{UserID: 1}, frame)
	a.waitFor(t, 1)
	b.waitFor(t, 1)
	if stats := f.Stats(); len(stats) != 2 || stats[0].Delivered != 1 || stats[1].Delivered != 1 {
		t.Fatalf("unexpected fanout stats %+v", stats)
	}
}

func TestExponentialBackoffBounds(t *testing.T) {
	if d := exponentialBackoff(0, 100*time.Millisecond, time.Second); d != 100*time.Millisecond {
		t.Fatalf("expected initial delay, got %v", d)
	}
	for attempt := 1; attempt < 10; attempt++ {
		d := exponentialBackoff(attempt, 100*time.Millisecond, time.Second)
		if d < 0 || d > 1200*time.Millisecond {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
