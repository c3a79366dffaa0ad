package api

import (
	"sync"
)

// DeviceEvent is one state event for a device's live subscribers.
type DeviceEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// EventBroker fans device state events out to stream subscribers.
type EventBroker interface {
	Subscribe(deviceID string) chan DeviceEvent
	Unsubscribe(deviceID string, ch chan DeviceEvent)
	Publish(deviceID string, evt DeviceEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan DeviceEvent]struct{} // deviceId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan DeviceEvent]struct{}{}}
}

func (b *Broker) Subscribe(deviceID string) chan DeviceEvent {
	ch := make(chan DeviceEvent, 8)
	b.mu.Lock()
	if b.subs[deviceID] == nil {
		b.subs[deviceID] = map[chan DeviceEvent]struct{}{}
	}
	b.subs[deviceID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(deviceID string, ch chan DeviceEvent) {
	b.mu.Lock()
	if m := b.subs[deviceID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, deviceID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Publish never blocks; a slow subscriber just misses the event.
func (b *Broker) Publish(deviceID string, evt DeviceEvent) {
	b.mu.Lock()
	m := b.subs[deviceID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
