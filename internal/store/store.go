package store

import (
	"context"
	"errors"
	"time"

	"sweepwatch/internal/model"
	"sweepwatch/internal/spatial"
)

// Store is the persistence interface used by the processor and the API server.
type Store interface {
	// Geospatial restriction lookup (spatial.GeoStore)
	QueryNear(ctx context.Context, lng, lat, radiusM float64, limit int) ([]spatial.Row, error)

	// Vehicle parked state
	UpsertParked(ctx context.Context, deviceID string, lat, lng float64, at time.Time) error
	MarkUnparked(ctx context.Context, deviceID string, at time.Time) error
	GetVehicle(ctx context.Context, deviceID string) (model.VehicleState, error)

	// Push tokens (notify.TokenSource)
	UpsertPushToken(ctx context.Context, token, deviceID string) error
	TokensForDevice(ctx context.Context, deviceID string) ([]string, error)

	// Restriction dataset
	ReplaceRestrictions(ctx context.Context, recs []SweepRecord, offsetM float64) (int, error)
	RestrictionCount(ctx context.Context) (int, error)
	DatasetStats(ctx context.Context) (map[string]any, error)

	// Health
	Ping(ctx context.Context) error
}

// SweepRecord is one restriction row as delivered by the open-data feed,
// prior to curb offsetting. Centerline is the raw street centerline; the
// store derives the curb from it on insert (the curb-offset direction comes
// from CNNRightLeft — 'L' or 'R' relative to the digitized line).
type SweepRecord struct {
	Corridor     string
	FullName     string
	Weekday      string
	CNN          string
	CNNRightLeft string
	BlockSweepID string
	BlockSide    string
	Limits       string
	FromHour     string
	ToHour       string
	Holidays     string
	Weeks        [5]string
	Centerline   []model.GeoPoint
}

var ErrNotFound = errors.New("not found")
