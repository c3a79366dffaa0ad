package store

import (
	"context"
	"testing"
	"time"

	"sweepwatch/internal/geo"
	"sweepwatch/internal/model"
)

// segmentNear builds a short east-west centerline whose nearest point is
// distM meters north of the query point.
func segmentNear(qp model.GeoPoint, distM float64) []model.GeoPoint {
	c := geo.Destination(qp, 0, distM)
	return []model.GeoPoint{
		geo.Destination(c, 270, 40),
		geo.Destination(c, 90, 40),
	}
}

func sweepRecord(corridor string, line []model.GeoPoint) SweepRecord {
	return SweepRecord{
		Corridor:   corridor,
		Weekday:    "Tues",
		BlockSide:  "North",
		FromHour:   "8",
		ToHour:     "10",
		Weeks:      [5]string{"1", "0", "0", "0", "0"},
		Centerline: line,
	}
}

func TestMemoryQueryNearOrdering(t *testing.T) {
	qp := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	m := NewMemory()
	// Insert out of distance order; offset 0 keeps curb == centerline so the
	// distances below are exact.
	recs := []SweepRecord{
		sweepRecord("Forty St", segmentNear(qp, 40)),
		sweepRecord("Five St", segmentNear(qp, 5)),
		sweepRecord("Twelve St", segmentNear(qp, 12)),
	}
	if _, err := m.ReplaceRestrictions(context.Background(), recs, 0); err != nil {
		t.Fatalf("ReplaceRestrictions: %v", err)
	}

	rows, err := m.QueryNear(context.Background(), qp.Lng, qp.Lat, 50, 8)
	if err != nil {
		t.Fatalf("QueryNear: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantOrder := []string{"Five St", "Twelve St", "Forty St"}
	for i, w := range wantOrder {
		if rows[i].Corridor != w {
			t.Fatalf("row %d: got %s, want %s", i, rows[i].Corridor, w)
		}
	}
	if rows[0].DistanceM > 6 || rows[2].DistanceM < 39 {
		t.Fatalf("distances off: %v, %v", rows[0].DistanceM, rows[2].DistanceM)
	}

	// Radius excludes the 40m row.
	rows, _ = m.QueryNear(context.Background(), qp.Lng, qp.Lat, 20, 8)
	if len(rows) != 2 {
		t.Fatalf("radius 20m should return 2 rows, got %d", len(rows))
	}
}

func TestMemoryQueryNearLimit(t *testing.T) {
	qp := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	m := NewMemory()
	var recs []SweepRecord
	for i := 0; i < 12; i++ {
		recs = append(recs, sweepRecord("St", segmentNear(qp, float64(i+1))))
	}
	_, _ = m.ReplaceRestrictions(context.Background(), recs, 0)
	rows, _ := m.QueryNear(context.Background(), qp.Lng, qp.Lat, 100, 8)
	if len(rows) != 8 {
		t.Fatalf("limit 8: got %d rows", len(rows))
	}
}

func TestMemoryCurbOffsetApplied(t *testing.T) {
	qp := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	m := NewMemory()
	// Centerline 10m north of the query point; north-side curb offset by 5m
	// moves it further away, to ~15m.
	_, _ = m.ReplaceRestrictions(context.Background(), []SweepRecord{sweepRecord("Valencia St", segmentNear(qp, 10))}, 5)
	rows, _ := m.QueryNear(context.Background(), qp.Lng, qp.Lat, 50, 8)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].DistanceM < 14 || rows[0].DistanceM > 16 {
		t.Fatalf("curb offset not applied: distance %.2fm, want ~15m", rows[0].DistanceM)
	}
}

func TestMemoryVehicleLifecycle(t *testing.T) {
	m := NewMemory()
	if _, err := m.GetVehicle(context.Background(), "dev1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	parkedAt := time.Date(2024, 7, 2, 6, 0, 0, 0, time.UTC)
	if err := m.UpsertParked(context.Background(), "dev1", 37.76, -122.42, parkedAt); err != nil {
		t.Fatalf("UpsertParked: %v", err)
	}
	v, err := m.GetVehicle(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if !v.IsParked || v.ParkedAt == nil || !v.ParkedAt.Equal(parkedAt) {
		t.Fatalf("parked state wrong: %+v", v)
	}

	movedAt := parkedAt.Add(time.Hour)
	if err := m.MarkUnparked(context.Background(), "dev1", movedAt); err != nil {
		t.Fatalf("MarkUnparked: %v", err)
	}
	v, _ = m.GetVehicle(context.Background(), "dev1")
	if v.IsParked || v.UnparkedAt == nil || !v.UnparkedAt.Equal(movedAt) {
		t.Fatalf("unparked state wrong: %+v", v)
	}
}

func TestMemoryPushTokens(t *testing.T) {
	m := NewMemory()
	_ = m.UpsertPushToken(context.Background(), "ExponentPushToken[a]", "dev1")
	_ = m.UpsertPushToken(context.Background(), "ExponentPushToken[b]", "dev1")
	_ = m.UpsertPushToken(context.Background(), "ExponentPushToken[c]", "dev2")
	// Re-registering a token moves it to the new device.
	_ = m.UpsertPushToken(context.Background(), "ExponentPushToken[c]", "dev1")

	toks, err := m.TokensForDevice(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("TokensForDevice: %v", err)
	}
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens for dev1, got %v", toks)
	}
	toks, _ = m.TokensForDevice(context.Background(), "dev2")
	if len(toks) != 0 {
		t.Fatalf("dev2 should have no tokens after re-register, got %v", toks)
	}
}
