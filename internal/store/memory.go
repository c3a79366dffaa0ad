package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sweepwatch/internal/geo"
	"sweepwatch/internal/model"
	"sweepwatch/internal/spatial"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// It computes curb offsets and distances itself instead of PostGIS, so the
// whole matching path works in dev mode and in tests.
type Memory struct {
	mu           sync.Mutex
	restrictions []memRestriction
	vehicles     map[string]model.VehicleState // deviceId -> state
	tokens       map[string]string             // pushToken -> deviceId
	lastUpdated  time.Time
}

type memRestriction struct {
	rec  SweepRecord
	curb []model.GeoPoint
}

func NewMemory() *Memory {
	return &Memory{
		vehicles: map[string]model.VehicleState{},
		tokens:   map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// QueryNear scans all restrictions and ranks them by distance to their curb
// line. Fine for the dataset sizes dev mode sees; production uses PostGIS.
func (m *Memory) QueryNear(ctx context.Context, lng, lat, radiusM float64, limit int) ([]spatial.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt := model.GeoPoint{Lat: lat, Lng: lng}
	var out []spatial.Row
	for _, r := range m.restrictions {
		d := geo.PointToPolylineMeters(pt, r.curb)
		if d > radiusM {
			continue
		}
		out = append(out, spatial.Row{
			Corridor:  r.rec.Corridor,
			Limits:    r.rec.Limits,
			BlockSide: r.rec.BlockSide,
			Weekday:   r.rec.Weekday,
			Weeks:     r.rec.Weeks,
			FromHour:  r.rec.FromHour,
			ToHour:    r.rec.ToHour,
			Holidays:  r.rec.Holidays,
			Curb:      r.curb,
			DistanceM: d,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReplaceRestrictions swaps the dataset, offsetting each centerline toward
// its named block side. Records whose side label does not parse keep the
// centerline as the curb.
func (m *Memory) ReplaceRestrictions(ctx context.Context, recs []SweepRecord, offsetM float64) (int, error) {
	next := make([]memRestriction, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Centerline) < 2 {
			continue
		}
		curb := rec.Centerline
		if side, err := model.ParseBlockSide(rec.BlockSide); err == nil {
			curb = geo.OffsetToward(rec.Centerline, side, offsetM)
		}
		next = append(next, memRestriction{rec: rec, curb: curb})
	}
	m.mu.Lock()
	m.restrictions = next
	m.lastUpdated = time.Now()
	m.mu.Unlock()
	return len(next), nil
}

func (m *Memory) RestrictionCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.restrictions), nil
}

func (m *Memory) DatasetStats(ctx context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	streets := map[string]struct{}{}
	byWeekday := map[string]int{}
	for _, r := range m.restrictions {
		streets[r.rec.Corridor] = struct{}{}
		byWeekday[r.rec.Weekday]++
	}
	stats := map[string]any{
		"segments":  len(m.restrictions),
		"streets":   len(streets),
		"byWeekday": byWeekday,
	}
	if !m.lastUpdated.IsZero() {
		stats["lastUpdated"] = m.lastUpdated.UTC().Format(time.RFC3339)
	}
	return stats, nil
}

func (m *Memory) UpsertParked(ctx context.Context, deviceID string, lat, lng float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vehicles[deviceID]
	v.DeviceID = deviceID
	v.IsParked = true
	v.Lat = lat
	v.Lng = lng
	parkedAt := at
	v.ParkedAt = &parkedAt
	v.UpdatedAt = time.Now()
	m.vehicles[deviceID] = v
	return nil
}

func (m *Memory) MarkUnparked(ctx context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vehicles[deviceID]
	v.DeviceID = deviceID
	v.IsParked = false
	unparkedAt := at
	v.UnparkedAt = &unparkedAt
	v.UpdatedAt = time.Now()
	m.vehicles[deviceID] = v
	return nil
}

func (m *Memory) GetVehicle(ctx context.Context, deviceID string) (model.VehicleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[deviceID]
	if !ok {
		return model.VehicleState{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) UpsertPushToken(ctx context.Context, token, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = deviceID
	return nil
}

func (m *Memory) TokensForDevice(ctx context.Context, deviceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for tok, dev := range m.tokens {
		if dev == deviceID {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out, nil
}
