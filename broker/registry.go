package broker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"event-api/internal/consts"
)

// Topic names a broadcast channel.
type Topic string

// UsersTopic carries every user event.
const UsersTopic Topic = consts.UsersTopic

const defaultQueueSize = 64

// ErrSessionClosed is returned when operating on a session that has been removed.
var ErrSessionClosed = errors.New("session closed")

// Registry owns the set of live sessions and their topic memberships.
type Registry struct {
	logger    *log.Logger
	queueSize int

	mu       sync.RWMutex
	seq      uint64
	sessions map[uuid.UUID]*Session
	topics   map[Topic]map[uuid.UUID]*Session
	closed   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithQueueSize bounds the number of frames buffered per session.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func NewRegistry(logger *log.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Registry{
		logger:    logger,
		queueSize: defaultQueueSize,
		sessions:  make(map[uuid.UUID]*Session),
		topics:    make(map[Topic]map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit registers conn as a new session subscribed to UsersTopic and starts
// its writer. After Close, the returned session is already closed.
func (r *Registry) Admit(conn Conn) *Session {
	r.mu.Lock()
	r.seq++
	s := newSession(r.seq, conn, r.queueSize, r.logger)
	if r.closed {
		r.mu.Unlock()
		s.close()
		return s
	}
	r.sessions[s.ID] = s
	r.subscribeLocked(s, UsersTopic)
	r.mu.Unlock()

	go s.writeLoop(func(failed *Session) { r.Remove(failed) })
	s.logger.Debug("session admitted")
	return s
}

// Remove evicts s from every topic and closes it. Removing a session that is
// no longer registered is a no-op; the result reports whether s was removed.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.ID)
	for topic := range s.topics {
		r.unsubscribeLocked(s, topic)
	}
	r.mu.Unlock()

	s.close()
	s.logger.WithFields(log.Fields{"sent": s.Sent(), "dropped": s.Dropped()}).Debug("session removed")
	return true
}

// Subscribe adds s to topic.
func (r *Registry) Subscribe(s *Session, topic Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrSessionClosed
	}
	r.subscribeLocked(s, topic)
	return nil
}

// Unsubscribe removes s from topic. It is a no-op when s is not a member.
func (r *Registry) Unsubscribe(s *Session, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(s, topic)
}

func (r *Registry) subscribeLocked(s *Session, topic Topic) {
	members, ok := r.topics[topic]
	if !ok {
		members = make(map[uuid.UUID]*Session)
		r.topics[topic] = members
	}
	members[s.ID] = s
	s.topics[topic] = struct{}{}
}

func (r *Registry) unsubscribeLocked(s *Session, topic Topic) {
	delete(s.topics, topic)
	members, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(r.topics, topic)
	}
}

// SubscribersOf returns a snapshot of topic's members in admission order.
// Later admits and removals do not affect the returned slice.
func (r *Registry) SubscribersOf(topic Topic) []*Session {
	r.mu.RLock()
	members := r.topics[topic]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close removes every session and rejects later admits.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.Remove(s)
	}
}

// Stats summarises the registry for the stats endpoint.
type Stats struct {
	Sessions int            `json:"sessions"`
	Topics   map[Topic]int  `json:"topics"`
	Sent     uint64         `json:"framesSent"`
	Dropped  uint64         `json:"framesDropped"`
	Members  []SessionStats `json:"members"`
}

// SessionStats describes one live session, oldest first in Stats.Members.
type SessionStats struct {
	ID         uuid.UUID `json:"id"`
	AdmittedAt time.Time `json:"admittedAt"`
	Sent       uint64    `json:"framesSent"`
	Dropped    uint64    `json:"framesDropped"`
	Queued     int       `json:"queued"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	st := Stats{
		Sessions: len(r.sessions),
		Topics:   make(map[Topic]int, len(r.topics)),
		Members:  make([]SessionStats, 0, len(r.sessions)),
	}
	for topic, members := range r.topics {
		st.Topics[topic] = len(members)
	}
	seqs := make(map[uuid.UUID]uint64, len(r.sessions))
	for _, s := range r.sessions {
		st.Sent += s.Sent()
		st.Dropped += s.Dropped()
		seqs[s.ID] = s.seq
		st.Members = append(st.Members, SessionStats{
			ID:         s.ID,
			AdmittedAt: s.AdmittedAt,
			Sent:       s.Sent(),
			Dropped:    s.Dropped(),
			Queued:     len(s.out),
		})
	}
	r.mu.RUnlock()

	sort.Slice(st.Members, func(i, j int) bool { return seqs[st.Members[i].ID] < seqs[st.Members[j].ID] })
	return st
}
