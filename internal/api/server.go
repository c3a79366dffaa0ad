package api

import (
	"log"
	"strings"

	"sweepwatch/internal/auth"
	"sweepwatch/internal/config"
	"sweepwatch/internal/dataset"
	"sweepwatch/internal/model"
	"sweepwatch/internal/notify"
	"sweepwatch/internal/processor"
	"sweepwatch/internal/spatial"
	"sweepwatch/internal/store"
)

type Server struct {
	Cfg       *config.Config
	Store     store.Store
	Auth      *auth.Verifier
	Broker    EventBroker
	Scheduler *notify.Scheduler
	Processor *processor.Processor
	Loader    *dataset.Loader
}

// NewServer wires the full service from config. If DATABASE_URL is unset the
// in-memory store is used (dev mode); REDIS_URL selects the Redis broker.
func NewServer(cfg *config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = pg
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("api: redis broker unavailable, falling back to in-memory: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	sender := notify.NewExpoSender(st, cfg.ExpoEndpoint, cfg.ExpoAccessToken, cfg.PushPerSecond)
	sched := notify.NewScheduler(sender)
	sched.OnFired = func(deviceID string, p model.WarningPayload) {
		broker.Publish(deviceID, DeviceEvent{Type: "warning.sent", Data: map[string]any{
			"street":    p.Street,
			"blockside": p.BlockSide,
			"fromHour":  p.FromHour,
		}})
	}

	matcher := spatial.NewMatcher(st, cfg.MatchLimit)
	proc := processor.New(st, matcher, sched, sender)
	proc.LeadTime = cfg.WarnLeadTime
	proc.AccuracyRadiusM = cfg.AccuracyRadiusM()
	proc.Publisher = brokerPublisher{broker}

	loader := dataset.NewLoader(st, cfg.DatasetURL, cfg.DatasetAppToken, cfg.DatasetLimit, cfg.HalfStreetWidthM())

	return &Server{
		Cfg:       cfg,
		Store:     st,
		Auth:      auth.NewVerifier(cfg.AuthMode, cfg.AuthSecret),
		Broker:    broker,
		Scheduler: sched,
		Processor: proc,
		Loader:    loader,
	}, nil
}

// brokerPublisher adapts the broker to the processor's publisher interface.
type brokerPublisher struct {
	broker EventBroker
}

func (b brokerPublisher) Publish(deviceID, eventType string, data map[string]any) {
	b.broker.Publish(deviceID, DeviceEvent{Type: eventType, Data: data})
}
