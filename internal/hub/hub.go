// Package hub is the pub/sub fan-out of spec §4.F: a "global" topic every
// subscriber gets by default, plus one "execution:<id>" topic per live
// run. Delivery is at-most-once and bounded — a subscriber that falls
// behind has its oldest buffered event dropped to make room for the
// newest one, and a subscriber that overflows past its high-water mark
// entirely is disconnected rather than allowed to apply backpressure to
// the engine.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stepflow-monitor/internal/sym"
)

// GlobalTopic is the topic every subscriber implicitly receives:
// execution_started/execution_completed summaries across all runs.
const GlobalTopic = "global"

// ExecutionTopic is the per-run topic carrying step_update/log_entry/
// artifact_created detail for one execution.
func ExecutionTopic(executionID string) string {
	return "execution:" + executionID
}

// Event is the envelope carried on every topic and serialized verbatim
// as the outbound WebSocket message (spec §6).
type Event struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Subscriber is one connected WebSocket client's mailbox.
type Subscriber struct {
	ID string

	ch      chan Event
	limiter *rate.Limiter

	mu       sync.Mutex
	topics   map[string]bool
	overload int
}

// Events returns the channel to range over for delivery to the socket.
// It is closed by the hub when the subscriber is disconnected, whether
// by Unsubscribe or by exceeding its overload budget.
func (sub *Subscriber) Events() <-chan Event { return sub.ch }

func (sub *Subscriber) hasTopic(topic string) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.topics[topic]
}

func (sub *Subscriber) addTopic(topic string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.topics[topic] = true
}

func (sub *Subscriber) removeTopic(topic string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	delete(sub.topics, topic)
}

// Hub owns every live Subscriber and the topic membership index.
type Hub struct {
	mu            sync.RWMutex
	subs          map[string]*Subscriber
	topicMembers  map[string]map[string]bool // topic -> set of subscriber IDs
	highWaterMark int
	overloadLimit int
	log           *zap.SugaredLogger
}

// New builds a Hub whose subscriber channels are buffered to
// highWaterMark events; a subscriber that accumulates more than
// overloadLimit total drops is disconnected (spec §4.F "overload
// disconnect").
func New(highWaterMark int, log *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:          map[string]*Subscriber{},
		topicMembers:  map[string]map[string]bool{},
		highWaterMark: highWaterMark,
		overloadLimit: highWaterMark * 4,
		log:           log,
	}
}

// Subscribe registers a new subscriber on the global topic plus any
// extra topics given, and returns its mailbox. ratePerSec/burst size the
// subscriber's token bucket (golang.org/x/time/rate): an event published
// while the bucket is empty is dropped for this subscriber, not delayed,
// and counts against its overload limit like a mailbox eviction.
func (h *Hub) Subscribe(id string, ratePerSec float64, burst int, topics ...string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		ch:      make(chan Event, h.highWaterMark),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		topics:  map[string]bool{GlobalTopic: true},
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = sub
	for t := range sub.topics {
		h.addMemberLocked(t, id)
	}
	if h.log != nil {
		h.log.Debugw("subscriber connected", sym.Hub, true, "subscriber_id", id, "topics", topics)
	}
	return sub
}

// AddTopic subscribes an existing subscriber to an additional topic
// (used when a client sends a "subscribe" message for an execution it
// wasn't already watching).
func (h *Hub) AddTopic(id, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	sub.addTopic(topic)
	h.addMemberLocked(topic, id)
}

// RemoveTopic unsubscribes a subscriber from one topic without
// disconnecting it entirely.
func (h *Hub) RemoveTopic(id, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		sub.removeTopic(topic)
	}
	if members := h.topicMembers[topic]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(h.topicMembers, topic)
		}
	}
}

func (h *Hub) addMemberLocked(topic, id string) {
	members, ok := h.topicMembers[topic]
	if !ok {
		members = map[string]bool{}
		h.topicMembers[topic] = members
	}
	members[id] = true
}

// Unsubscribe disconnects a subscriber: its channel is closed and it is
// removed from every topic it belonged to.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(id)
}

func (h *Hub) unsubscribeLocked(id string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	for topic := range h.topicMembers {
		delete(h.topicMembers[topic], id)
	}
	close(sub.ch)
	if h.log != nil {
		h.log.Debugw("subscriber disconnected", sym.Hub, true, "subscriber_id", id)
	}
}

// Publish delivers ev to every subscriber of topic. A subscriber whose
// mailbox is full has its oldest buffered event evicted to make room —
// fan-out delivery is at-most-once and never blocks the publisher — and
// each drop counts against that subscriber's overload budget; crossing
// overloadLimit disconnects it outright rather than let it accumulate an
// unbounded backlog of eviction debt.
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.RLock()
	members := make([]string, 0, len(h.topicMembers[topic]))
	for id := range h.topicMembers[topic] {
		members = append(members, id)
	}
	subs := make([]*Subscriber, 0, len(members))
	for _, id := range members {
		if sub, ok := h.subs[id]; ok {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	var overloaded []string
	for _, sub := range subs {
		if !sub.limiter.Allow() {
			if h.recordDrop(sub) {
				overloaded = append(overloaded, sub.ID)
			}
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			if h.recordDrop(sub) {
				overloaded = append(overloaded, sub.ID)
			}
		}
	}

	for _, id := range overloaded {
		h.Unsubscribe(id)
	}
}

func (h *Hub) recordDrop(sub *Subscriber) (overloaded bool) {
	sub.mu.Lock()
	sub.overload++
	overloaded = sub.overload > h.overloadLimit
	sub.mu.Unlock()
	return overloaded
}

// SubscriberCount reports how many clients are currently connected, used
// by the health/metrics endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
