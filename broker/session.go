package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Conn is the framed, ordered, reliable transport behind one session.
// WriteFrame is only ever called from the session's own writer goroutine.
type Conn interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Session is the server-side record of one live connection.
type Session struct {
	ID         uuid.UUID
	AdmittedAt time.Time

	seq    uint64
	conn   Conn
	out    chan []byte
	done   chan struct{}
	logger *log.Entry

	// topics is guarded by the owning Registry's lock.
	topics map[Topic]struct{}

	closeOnce sync.Once
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

func newSession(seq uint64, conn Conn, queueSize int, logger *log.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:         id,
		AdmittedAt: time.Now().UTC(),
		seq:        seq,
		conn:       conn,
		out:        make(chan []byte, queueSize),
		done:       make(chan struct{}),
		logger:     logger.WithField("session", id.String()),
		topics:     make(map[Topic]struct{}),
	}
}

// Done is closed once the session has been removed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Sent is the number of frames written to the connection.
func (s *Session) Sent() uint64 { return s.sent.Load() }

// Dropped is the number of frames discarded because the queue was full or the session closed.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// closed reports whether the session has been removed.
func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue hands frame to the writer without blocking. It reports false when
// the frame was dropped.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		s.dropped.Add(1)
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// writeLoop drains the queue in FIFO order until the session closes or a
// write fails, in which case onFailure is invoked with the session.
func (s *Session) writeLoop(onFailure func(*Session)) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.conn.WriteFrame(frame); err != nil {
				s.logger.WithError(err).Debug("session write failed")
				onFailure(s)
				return
			}
			s.sent.Add(1)
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Debug("close connection")
		}
	})
}
