package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sweepwatch/internal/metrics"
	"sweepwatch/internal/model"
)

// Scheduler owns the per-device pending sweep warning registry. At most one
// warning is pending per device; scheduling a new one supersedes the old.
//
// Every armed timer captures the device's epoch at arm time and a fire only
// acts if the registry still holds that epoch, so a fire racing a concurrent
// cancel or reschedule degrades to a silent no-op. Registry mutations for a
// device are serialized by the scheduler mutex; the mutex is never held
// across a send.
//
// Pending warnings are process-local: a restart loses in-flight timers. They
// can be re-derived from parked vehicle state on boot, but this scheduler
// does not do so.
type Scheduler struct {
	Sender Sender
	// OnFired, when set, is invoked after a warning send attempt with the
	// device and payload (used to publish device stream events).
	OnFired func(deviceID string, p model.WarningPayload)

	// Now is the scheduler's clock; overridable in tests.
	Now func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingWarning
	epochs  map[string]uint64
}

type pendingWarning struct {
	epoch   uint64
	fireAt  time.Time
	sendAt  time.Time
	payload model.WarningPayload
	timer   *time.Timer
}

// Warning is a read-only view of a pending entry.
type Warning struct {
	DeviceID string
	FireAt   time.Time
	SendAt   time.Time
	Payload  model.WarningPayload
}

func NewScheduler(sender Sender) *Scheduler {
	return &Scheduler{
		Sender:  sender,
		Now:     time.Now,
		pending: map[string]*pendingWarning{},
		epochs:  map[string]uint64{},
	}
}

// Schedule arms a warning to be sent lead before fireAt, replacing any
// pending warning for the device. If the send time is already past the
// warning goes out immediately and nothing is registered.
func (s *Scheduler) Schedule(deviceID string, fireAt time.Time, payload model.WarningPayload, lead time.Duration) {
	s.mu.Lock()
	epoch := s.epochs[deviceID] + 1
	s.epochs[deviceID] = epoch
	if w := s.pending[deviceID]; w != nil {
		w.timer.Stop()
		delete(s.pending, deviceID)
	}

	sendAt := fireAt.Add(-lead)
	delay := sendAt.Sub(s.Now())
	if delay <= 0 {
		s.mu.Unlock()
		log.Printf("notify: sweep for device %s is imminent, warning now", deviceID)
		s.send(deviceID, payload)
		return
	}

	w := &pendingWarning{epoch: epoch, fireAt: fireAt, sendAt: sendAt, payload: payload}
	w.timer = time.AfterFunc(delay, func() { s.fire(deviceID, epoch) })
	s.pending[deviceID] = w
	s.mu.Unlock()

	metrics.WarningsScheduled.Inc()
	log.Printf("notify: warning for device %s in %s (sweep at %s)",
		deviceID, delay.Round(time.Minute), fireAt.Format(time.RFC3339))
}

// Cancel removes any pending warning for the device and invalidates its
// epoch. Idempotent; a no-op when nothing is pending.
func (s *Scheduler) Cancel(deviceID string) {
	s.mu.Lock()
	s.epochs[deviceID]++
	w := s.pending[deviceID]
	if w != nil {
		w.timer.Stop()
		delete(s.pending, deviceID)
	}
	s.mu.Unlock()
	if w != nil {
		metrics.WarningsCanceled.Inc()
		log.Printf("notify: canceled sweep warning for device %s", deviceID)
	}
}

// Pending returns the pending warning for a device, if any.
func (s *Scheduler) Pending(deviceID string) (Warning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.pending[deviceID]
	if w == nil {
		return Warning{}, false
	}
	return Warning{DeviceID: deviceID, FireAt: w.fireAt, SendAt: w.sendAt, Payload: w.payload}, true
}

// Stop cancels all pending timers. Used on shutdown and in tests.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, w := range s.pending {
		w.timer.Stop()
		s.epochs[id]++
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

// fire runs on the timer goroutine. The epoch check makes a fire that lost a
// race against Cancel or a reschedule a stale no-op.
func (s *Scheduler) fire(deviceID string, epoch uint64) {
	s.mu.Lock()
	w := s.pending[deviceID]
	if w == nil || w.epoch != epoch {
		s.mu.Unlock()
		metrics.WarningsStale.Inc()
		return
	}
	payload := w.payload
	delete(s.pending, deviceID)
	s.mu.Unlock()

	s.send(deviceID, payload)
}

func (s *Scheduler) send(deviceID string, p model.WarningPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	push := Push{
		Title: "Move your car!",
		Body: fmt.Sprintf("Street cleaning on %s (%s) starts at %d:00",
			p.Street, p.BlockSide, p.FromHour),
		Data: map[string]any{"type": "sweepWarning", "street": p.Street, "blockside": p.BlockSide, "fromHour": p.FromHour},
	}
	if err := s.Sender.Send(ctx, deviceID, push); err != nil {
		log.Printf("notify: warning send failed for device %s: %v", deviceID, err)
	}
	metrics.WarningsSent.Inc()
	if s.OnFired != nil {
		s.OnFired(deviceID, p)
	}
}
