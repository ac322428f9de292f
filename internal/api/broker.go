package api

import (
    "sync"
)

// SSEEvent is one message on the live feed. Topic is the dispatch event
// type ("optimization.completed", "capacity.overflow", ...).
type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// TopicAll subscribes to every event type.
const TopicAll = "*"

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[topic] == nil { b.subs[topic] = map[chan SSEEvent]struct{}{} }
    b.subs[topic][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    if m := b.subs[topic]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, topic) }
    }
    b.mu.Unlock()
    close(ch)
}

// Publish fans out to the topic's subscribers and to wildcard subscribers.
// Slow consumers drop events rather than block the publisher.
func (b *Broker) Publish(topic string, evt SSEEvent) {
    b.mu.Lock()
    for _, m := range []map[chan SSEEvent]struct{}{b.subs[topic], b.subs[TopicAll]} {
        for ch := range m {
            select { case ch <- evt: default: }
        }
    }
    b.mu.Unlock()
}
