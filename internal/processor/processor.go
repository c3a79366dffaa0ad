// Package processor orchestrates vehicle state-change events: spatial match,
// recurrence resolution, warning scheduling and silent state-sync pushes.
package processor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"sweepwatch/internal/metrics"
	"sweepwatch/internal/model"
	"sweepwatch/internal/notify"
	"sweepwatch/internal/schedule"
	"sweepwatch/internal/spatial"
	"sweepwatch/internal/store"
)

// StatePublisher receives per-device state events for live subscribers
// (the websocket stream). Optional.
type StatePublisher interface {
	Publish(deviceID, eventType string, data map[string]any)
}

// Processor handles normalized vehicle events. One Handle call per inbound
// event; calls for different devices run concurrently and must not block each
// other. A failure affecting one device never aborts another's processing.
type Processor struct {
	Store     store.Store
	Matcher   *spatial.Matcher
	Scheduler *notify.Scheduler
	Sender    notify.Sender
	Publisher StatePublisher

	LeadTime        time.Duration
	AccuracyRadiusM float64

	now func() time.Time
}

func New(st store.Store, m *spatial.Matcher, sched *notify.Scheduler, sender notify.Sender) *Processor {
	return &Processor{
		Store:           st,
		Matcher:         m,
		Scheduler:       sched,
		Sender:          sender,
		LeadTime:        2 * time.Hour,
		AccuracyRadiusM: 11,
		now:             time.Now,
	}
}

// Handle dispatches one event by kind. Unknown kinds are logged and ignored
// so newer upstream producers do not break ingestion.
func (p *Processor) Handle(ctx context.Context, ev model.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	switch ev.Kind {
	case model.EventParked:
		p.handleParked(ctx, ev)
	case model.EventMoving:
		p.handleMoving(ctx, ev)
	default:
		metrics.EventsProcessed.WithLabelValues(string(ev.Kind), "ignored").Inc()
		log.Printf("processor: event kind %q not handled, ignoring (event %s)", ev.Kind, ev.ID)
	}
}

func (p *Processor) handleParked(ctx context.Context, ev model.Event) {
	outcome := "ok"
	if err := p.Store.UpsertParked(ctx, ev.DeviceID, ev.Lat, ev.Lng, ev.At); err != nil {
		outcome = "error"
		log.Printf("processor: upsert parked state for device %s: %v", ev.DeviceID, err)
	}
	log.Printf("processor: device %s parked at %.5f, %.5f", ev.DeviceID, ev.Lat, ev.Lng)

	pt := model.GeoPoint{Lat: ev.Lat, Lng: ev.Lng}
	results, err := p.Matcher.FindNear(ctx, pt, p.AccuracyRadiusM)
	if err != nil {
		var le *spatial.LookupError
		if !errors.As(err, &le) {
			le = &spatial.LookupError{Err: err}
		}
		// Lookup failure degrades to "no restrictions"; the device still gets
		// its state push and the event is not lost.
		log.Printf("processor: restriction lookup for device %s: %v", ev.DeviceID, le)
		results = nil
		if outcome == "ok" {
			outcome = "degraded"
		}
	}

	next := SoonestSweep(results, p.now())
	if next != nil {
		log.Printf("processor: next sweep for device %s: %s (%s) at %s",
			ev.DeviceID, next.Street, next.BlockSide, next.Date.Format(time.RFC3339))
	}

	// State-sync push goes out regardless of whether a warning gets armed.
	// The event id ties the push and stream events back to the webhook ack.
	data := map[string]any{
		"type":         "parked",
		"eventId":      ev.ID,
		"lat":          ev.Lat,
		"lng":          ev.Lng,
		"restrictions": results,
	}
	if next != nil {
		data["nextSweep"] = next
	}
	if err := p.Sender.Send(ctx, ev.DeviceID, notify.Push{Data: data}); err != nil {
		log.Printf("processor: state push for device %s: %v", ev.DeviceID, err)
	}

	if next != nil {
		p.Scheduler.Schedule(ev.DeviceID, next.Date, model.WarningPayload{
			Street:    next.Street,
			BlockSide: next.BlockSide,
			FromHour:  next.FromHour,
		}, p.LeadTime)
	}

	if p.Publisher != nil {
		p.Publisher.Publish(ev.DeviceID, "parked", data)
		if next != nil {
			p.Publisher.Publish(ev.DeviceID, "warning.scheduled", map[string]any{
				"eventId":   ev.ID,
				"street":    next.Street,
				"blockside": next.BlockSide,
				"fromHour":  next.FromHour,
				"fireAt":    next.Date,
			})
		}
	}
	metrics.EventsProcessed.WithLabelValues(string(model.EventParked), outcome).Inc()
}

func (p *Processor) handleMoving(ctx context.Context, ev model.Event) {
	outcome := "ok"
	if err := p.Store.MarkUnparked(ctx, ev.DeviceID, ev.At); err != nil {
		outcome = "error"
		log.Printf("processor: mark unparked for device %s: %v", ev.DeviceID, err)
	}
	log.Printf("processor: device %s unparked", ev.DeviceID)

	p.Scheduler.Cancel(ev.DeviceID)

	data := map[string]any{"type": "unparked", "eventId": ev.ID}
	if err := p.Sender.Send(ctx, ev.DeviceID, notify.Push{Data: data}); err != nil {
		log.Printf("processor: state push for device %s: %v", ev.DeviceID, err)
	}

	if p.Publisher != nil {
		p.Publisher.Publish(ev.DeviceID, "unparked", data)
	}
	metrics.EventsProcessed.WithLabelValues(string(model.EventMoving), outcome).Inc()
}

// SoonestSweep resolves every restriction's next occurrence and returns the
// minimum, or nil when none resolves. Restrictions whose schedule yields no
// occurrence are excluded, not an error.
func SoonestSweep(results []model.MatchResult, now time.Time) *model.SweepSummary {
	var soonest *model.SweepSummary
	for _, r := range results {
		next, ok := schedule.NextOccurrence(r.Schedule, now)
		if !ok {
			continue
		}
		if soonest == nil || next.Before(soonest.Date) {
			soonest = &model.SweepSummary{
				Date:      next,
				Street:    r.Corridor,
				BlockSide: r.BlockSide,
				FromHour:  r.Schedule.FromHour,
			}
		}
	}
	return soonest
}
