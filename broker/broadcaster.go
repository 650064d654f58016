package broker

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"event-api/domain"
)

// Journal receives every published event after fan-out. Implementations must not block.
type Journal interface {
	Append(ctx context.Context, topic string, ev domain.Event, frame []byte)
}

// Broadcaster fans events out to every subscriber of a topic.
type Broadcaster struct {
	registry *Registry
	journal  Journal
	logger   *log.Logger

	// mu serialises publishes so all subscribers observe one order per topic.
	mu         sync.Mutex
	published  atomic.Uint64
	overflowed atomic.Uint64
}

func NewBroadcaster(registry *Registry, journal Journal, logger *log.Logger) *Broadcaster {
	if registry == nil {
		panic("broker.NewBroadcaster: registry is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcaster{registry: registry, journal: journal, logger: logger}
}

// Publish encodes ev once and queues it on every current subscriber of topic.
// A subscriber whose connection has gone away misses the event. A subscriber
// whose queue is full is disconnected, so its client sees a transport failure
// instead of a silent gap. The others are unaffected. It returns the number
// of sessions the event was queued for.
func (b *Broadcaster) Publish(ctx context.Context, topic Topic, ev domain.Event) (int, error) {
	frame, err := domain.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.registry.SubscribersOf(topic)
	queued := 0
	for _, s := range subscribers {
		if s.enqueue(frame) {
			queued++
			continue
		}
		if s.closed() {
			s.logger.WithField("event", ev.Type()).Debug("dropped event for closed session")
			continue
		}
		s.logger.WithField("event", ev.Type()).Warn("session queue overflowed, disconnecting")
		b.overflowed.Add(1)
		// Remove closes the connection, which may wait on the socket.
		go b.registry.Remove(s)
	}
	b.published.Add(1)

	if b.journal != nil {
		b.journal.Append(ctx, string(topic), ev, frame)
	}

	b.logger.WithFields(log.Fields{
		"topic":       topic,
		"event":       ev.Type(),
		"subscribers": len(subscribers),
		"queued":      queued,
	}).Debug("event published")
	return queued, nil
}

// Published is the number of events published since start.
func (b *Broadcaster) Published() uint64 { return b.published.Load() }

// Overflowed is the number of sessions disconnected because their queue was full.
func (b *Broadcaster) Overflowed() uint64 { return b.overflowed.Load() }
