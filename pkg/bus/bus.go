// Package bus is a small in-process pub/sub broker for attestation
// events. Publish never blocks: subscribers that fall behind lose
// events rather than stalling the verification path.
package bus

import (
	"sync"
	"time"
)

// Event type strings carried to subscribers and over the websocket.
const (
	EventChallengeCreated    = "challenge_created"
	EventAttestationComplete = "attestation_complete"
	EventDeviceRecovered     = "device_recovered"
	EventAttackDetected      = "attack_detected"
)

// Event is one broadcast message.
type Event struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// defaultBuffer is the per-subscriber channel depth.
const defaultBuffer = 16

// Broker fans events out to subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, defaultBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A
// full subscriber channel drops the event for that subscriber only.
func (b *Broker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
