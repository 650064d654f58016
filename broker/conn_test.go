package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"event-api/domain"
)

type fakeConn struct {
	frames   chan []byte
	block    chan struct{}
	writeErr error
	closed   atomic.Bool
	closes   atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 128)}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	if c.block != nil {
		<-c.block
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames <- frame
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case frame := <-c.frames:
		ev, err := domain.DecodeEvent(frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func (c *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case frame := <-c.frames:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingJournal struct {
	mu     sync.Mutex
	events []domain.Event
}

func (j *recordingJournal) Append(ctx context.Context, topic string, ev domain.Event, frame []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *recordingJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

var errWrite = errors.New("broken pipe")
