// Package realtime fans out lightweight change signals to live subscribers.
// Subscribers receive a topic and a time, then refetch whatever they display.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agrisense-cloud/internal/observability/metrics"
)

// AlertsTopic carries a signal whenever an alert is created or cleared.
const AlertsTopic = "alerts"

const readingsPrefix = "readings:"

const (
	defaultQueueSize       = 16
	defaultDeliveryTimeout = 2 * time.Second
)

// ReadingsTopic is the topic signalled after a device reading is stored.
func ReadingsTopic(deviceID string) string {
	return readingsPrefix + deviceID
}

// ValidTopic reports whether topic is alerts or readings:<deviceId>.
func ValidTopic(topic string) bool {
	if topic == AlertsTopic {
		return true
	}
	return strings.HasPrefix(topic, readingsPrefix) && len(topic) > len(readingsPrefix)
}

// ErrInvalidTopic is returned for unknown topics.
var ErrInvalidTopic = errors.New("realtime: invalid topic")

// Signal tells a subscriber that data behind Topic changed.
type Signal struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// Handler receives signals. ctx expires after the hub's delivery timeout.
type Handler func(ctx context.Context, signal Signal)

// Hub is an in-process topic fan-out.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]*Subscription
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
	queue   int
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// HubOption configures a hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-subscriber buffer.
func WithQueueSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.queue = size
		}
	}
}

// WithDeliveryTimeout bounds each handler call.
func WithDeliveryTimeout(timeout time.Duration) HubOption {
	return func(h *Hub) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub constructs a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:    make(map[string]map[uint64]*Subscription),
		queue:   defaultQueueSize,
		timeout: defaultDeliveryTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id      uint64
	topic   string
	hub     *Hub
	handler Handler
	queue   chan Signal
	done    chan struct{}
	once    sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.hub != nil {
			s.hub.remove(s)
		}
		close(s.done)
	})
}

// Subscribe registers handler for topic. Subscribing to a closed hub
// returns an already closed subscription.
func (h *Hub) Subscribe(topic string, handler Handler) (*Subscription, error) {
	if !ValidTopic(topic) {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, errors.New("realtime: nil handler")
	}
	sub := &Subscription{
		topic:   topic,
		hub:     h,
		handler: handler,
		queue:   make(chan Signal, h.queue),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.hub = nil
		sub.Close()
		return sub, nil
	}
	h.nextID++
	sub.id = h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*Subscription)
	}
	h.subs[topic][sub.id] = sub
	h.wg.Add(1)
	h.mu.Unlock()

	go h.run(sub)
	return sub, nil
}

// Unsubscribe removes sub. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.Close()
}

// Publish queues a signal for every subscriber of topic. It never blocks:
// a subscriber whose queue is full misses the signal.
func (h *Hub) Publish(_ context.Context, topic string) {
	h.deliver(Signal{Topic: topic, At: h.now()})
}

func (h *Hub) deliver(signal Signal) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[signal.Topic]))
	for _, sub := range h.subs[signal.Topic] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
		case sub.queue <- signal:
			metrics.IncRealtimeSignal("queued")
		default:
			metrics.IncRealtimeSignal("dropped")
			h.logger.Debug("realtime: subscriber queue full", zap.String("topic", signal.Topic))
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Close removes every subscription and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Subscription, 0)
	for _, byID := range h.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	h.wg.Wait()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID := h.subs[sub.topic]
	if byID == nil {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(h.subs, sub.topic)
	}
}

func (h *Hub) run(sub *Subscription) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case signal := <-sub.queue:
			h.invoke(sub, signal)
		}
	}
}

func (h *Hub) invoke(sub *Subscription, signal Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// The handler goroutine is abandoned on timeout so a stuck handler
	// cannot hold the subscriber loop or Close.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				metrics.IncRealtimeSignal("panic")
				h.logger.Error("realtime: handler panic", zap.String("topic", signal.Topic), zap.Any("panic", r))
			}
		}()
		sub.handler(ctx, signal)
	}()

	select {
	case <-finished:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.IncRealtimeSignal("timeout")
			return
		}
		metrics.IncRealtimeSignal("delivered")
	case <-ctx.Done():
		metrics.IncRealtimeSignal("timeout")
		h.logger.Warn("realtime: handler exceeded delivery timeout", zap.String("topic", signal.Topic))
	case <-sub.done:
	}
}
