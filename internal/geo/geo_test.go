package geo

import (
	"math"
	"testing"

	"sweepwatch/internal/model"
)

func TestDistanceMeters(t *testing.T) {
	// One degree of latitude is ~111.2km everywhere.
	a := model.GeoPoint{Lat: 37.0, Lng: -122.0}
	b := model.GeoPoint{Lat: 38.0, Lng: -122.0}
	d := DistanceMeters(a, b)
	if d < 110000 || d > 112500 {
		t.Fatalf("degree of latitude: got %.0fm", d)
	}
	if DistanceMeters(a, a) != 0 {
		t.Fatalf("identical points should be 0m apart")
	}
}

func TestBearingCardinal(t *testing.T) {
	origin := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	cases := []struct {
		to   model.GeoPoint
		want float64
	}{
		{model.GeoPoint{Lat: 37.77, Lng: -122.42}, 0},   // due north
		{model.GeoPoint{Lat: 37.76, Lng: -122.41}, 90},  // due east
		{model.GeoPoint{Lat: 37.75, Lng: -122.42}, 180}, // due south
		{model.GeoPoint{Lat: 37.76, Lng: -122.43}, 270}, // due west
	}
	for _, c := range cases {
		got := Bearing(origin, c.to)
		if math.Abs(got-c.want) > 1.0 {
			t.Fatalf("bearing to %+v: got %.2f, want %.0f", c.to, got, c.want)
		}
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	p := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	q := Destination(p, 45, 500)
	if d := DistanceMeters(p, q); math.Abs(d-500) > 1 {
		t.Fatalf("destination distance: got %.2fm, want 500m", d)
	}
	back := Destination(q, 45+180, 500)
	if d := DistanceMeters(p, back); d > 1 {
		t.Fatalf("round trip should land within 1m, got %.2fm", d)
	}
}

func TestPointToSegmentMeters(t *testing.T) {
	// East-west segment along lat 37.76.
	a := model.GeoPoint{Lat: 37.76, Lng: -122.425}
	b := model.GeoPoint{Lat: 37.76, Lng: -122.415}

	// Point 20m north of the segment midpoint.
	mid := model.GeoPoint{Lat: 37.76, Lng: -122.42}
	p := Destination(mid, 0, 20)
	if d := PointToSegmentMeters(p, a, b); math.Abs(d-20) > 0.5 {
		t.Fatalf("perpendicular distance: got %.2fm, want 20m", d)
	}

	// Point beyond the west end clamps to endpoint distance.
	w := Destination(a, 270, 30)
	if d := PointToSegmentMeters(w, a, b); math.Abs(d-30) > 0.5 {
		t.Fatalf("endpoint clamp: got %.2fm, want 30m", d)
	}
}

func TestPerpendicularToward(t *testing.T) {
	// East-west street (bearing 90): north side offsets to bearing 0.
	if got := PerpendicularToward(90, model.SideNorth); math.Abs(got-0) > 0.01 && math.Abs(got-360) > 0.01 {
		t.Fatalf("north of E-W street: got %.1f", got)
	}
	if got := PerpendicularToward(90, model.SideSouth); math.Abs(got-180) > 0.01 {
		t.Fatalf("south of E-W street: got %.1f", got)
	}
	// North-south street (bearing 0): east/west sides.
	if got := PerpendicularToward(0, model.SideEast); math.Abs(got-90) > 0.01 {
		t.Fatalf("east of N-S street: got %.1f", got)
	}
	// Diagonal street (bearing 45): composite SouthEast resolves to 135.
	if got := PerpendicularToward(45, model.SideSouthEast); math.Abs(got-135) > 0.01 {
		t.Fatalf("southeast of NE-SW street: got %.1f", got)
	}
}

func TestOffsetToward(t *testing.T) {
	line := []model.GeoPoint{
		{Lat: 37.76, Lng: -122.425},
		{Lat: 37.76, Lng: -122.415},
	}
	north := OffsetToward(line, model.SideNorth, 5)
	if len(north) != 2 {
		t.Fatalf("offset should keep vertex count, got %d", len(north))
	}
	for i := range line {
		if north[i].Lat <= line[i].Lat {
			t.Fatalf("north offset should increase latitude at vertex %d", i)
		}
		if d := DistanceMeters(line[i], north[i]); math.Abs(d-5) > 0.5 {
			t.Fatalf("offset magnitude at vertex %d: got %.2fm", i, d)
		}
	}
	south := OffsetToward(line, model.SideSouth, 5)
	if south[0].Lat >= line[0].Lat {
		t.Fatalf("south offset should decrease latitude")
	}
}
