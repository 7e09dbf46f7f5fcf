package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("bus: closed")

const memoryQueueDepth = 64

// Memory dispatches events over one buffered channel per topic, each drained
// by a single goroutine so delivery stays FIFO per topic. Subscribers run
// decoupled from the publisher; a failing subscriber does not affect the
// others. Used by tests and database-free local runs.
type Memory struct {
	stateMu sync.Mutex
	subs    map[string][]Handler
	queues  map[string]chan []byte
	closed  bool

	// sendMu lets Close wait out in-flight sends before closing the queues.
	sendMu sync.RWMutex
	wg     sync.WaitGroup
}

func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[string][]Handler),
		queues: make(map[string]chan []byte),
	}
}

// Subscribe registers a handler for a topic. Every handler receives each
// event independently.
func (m *Memory) Subscribe(topic string, h Handler) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.subs[topic] = append(m.subs[topic], h)
	m.ensureQueueLocked(topic)
}

func (m *Memory) ensureQueueLocked(topic string) chan []byte {
	q, ok := m.queues[topic]
	if !ok {
		q = make(chan []byte, memoryQueueDepth)
		m.queues[topic] = q
		m.wg.Add(1)
		go m.dispatch(topic, q)
	}
	return q
}

// Publish hands the event to the topic queue and returns; subscriber
// completion is never awaited.
func (m *Memory) Publish(ctx context.Context, topic string, payload any) error {
	_, body, err := newEnvelope(topic, payload)
	if err != nil {
		return err
	}

	m.sendMu.RLock()
	defer m.sendMu.RUnlock()

	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return ErrBusClosed
	}
	q := m.ensureQueueLocked(topic)
	m.stateMu.Unlock()

	select {
	case q <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) dispatch(topic string, q chan []byte) {
	defer m.wg.Done()
	for body := range q {
		env, err := DecodeEnvelope(body)
		if err != nil {
			slog.Error("drop malformed event", "topic", topic, "error", err)
			continue
		}
		m.stateMu.Lock()
		handlers := append([]Handler(nil), m.subs[topic]...)
		m.stateMu.Unlock()
		for _, h := range handlers {
			m.invoke(topic, h, env)
		}
	}
}

// invoke isolates one subscriber: an error or panic is logged and does not
// stop delivery to the remaining subscribers. The in-memory bus does not
// retry; that is its delivery policy.
func (m *Memory) invoke(topic string, h Handler, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "topic", topic, "event_id", env.EventID, "panic", r)
		}
	}()
	if err := h(context.Background(), env); err != nil {
		slog.Error("subscriber failed", "topic", topic, "event_id", env.EventID, "error", err)
	}
}

// Close stops accepting publishes and waits for queued events to drain.
func (m *Memory) Close() {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return
	}
	m.closed = true
	m.stateMu.Unlock()

	// No new sends can start; wait for in-flight ones, then close the queues
	// so the dispatchers drain and exit.
	m.sendMu.Lock()
	m.stateMu.Lock()
	for _, q := range m.queues {
		close(q)
	}
	m.stateMu.Unlock()
	m.sendMu.Unlock()

	m.wg.Wait()
}
