package store

import (
	"testing"

	"sweepwatch/internal/model"
)

func TestWKTLineString(t *testing.T) {
	pts := []model.GeoPoint{{Lat: 37.76, Lng: -122.42}, {Lat: 37.761, Lng: -122.419}}
	got := wktLineString(pts)
	want := "LINESTRING(-122.42 37.76, -122.419 37.761)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeLineString(t *testing.T) {
	pts := decodeLineString(`{"type":"LineString","coordinates":[[-122.42,37.76],[-122.419,37.761]]}`)
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if pts[0].Lng != -122.42 || pts[0].Lat != 37.76 {
		t.Fatalf("coordinate order wrong: %+v", pts[0])
	}
	if decodeLineString(`{"type":"Point","coordinates":[1,2]}`) != nil {
		t.Fatalf("non-LineString should decode to nil")
	}
	if decodeLineString(`not json`) != nil {
		t.Fatalf("garbage should decode to nil")
	}
}
