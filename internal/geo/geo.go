// Package geo provides the geodesic primitives the matcher and the in-memory
// store need: great-circle distance, bearings, point-to-segment distance and
// curb offsetting of street centerlines.
package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"sweepwatch/internal/model"
)

const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b model.GeoPoint) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bearing returns the initial bearing from a to b in degrees, 0 = North,
// 90 = East, normalized to [0, 360).
func Bearing(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Destination returns the point reached by travelling distance meters from p
// along the given bearing in degrees.
func Destination(p model.GeoPoint, bearing, distance float64) model.GeoPoint {
	ll := s2.LatLngFromDegrees(p.Lat, p.Lng)
	brg := bearing * math.Pi / 180
	ang := distance / EarthRadiusMeters

	lat1 := ll.Lat.Radians()
	lng1 := ll.Lng.Radians()

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	return model.GeoPoint{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}

// PointToSegmentMeters returns the distance from p to the segment ab.
// Uses a local equirectangular projection around p; accurate to well under a
// meter at street-block scale, which is all the matcher needs.
func PointToSegmentMeters(p, a, b model.GeoPoint) float64 {
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	ax := (a.Lng - p.Lng) * cosLat
	ay := a.Lat - p.Lat
	bx := (b.Lng - p.Lng) * cosLat
	by := b.Lat - p.Lat

	dx := bx - ax
	dy := by - ay
	segLen2 := dx*dx + dy*dy
	t := 0.0
	if segLen2 > 0 {
		// projection of origin (p) onto the segment, clamped to its ends
		t = -(ax*dx + ay*dy) / segLen2
		t = math.Max(0, math.Min(1, t))
	}
	nearest := model.GeoPoint{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
	return DistanceMeters(p, nearest)
}

// PointToPolylineMeters returns the minimum distance from p to any segment of
// the polyline. A single-point line degenerates to point distance.
func PointToPolylineMeters(p model.GeoPoint, line []model.GeoPoint) float64 {
	if len(line) == 0 {
		return math.Inf(1)
	}
	if len(line) == 1 {
		return DistanceMeters(p, line[0])
	}
	min := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		if d := PointToSegmentMeters(p, line[i], line[i+1]); d < min {
			min = d
		}
	}
	return min
}

// OffsetToward shifts a street centerline perpendicular to its bearing,
// toward the named block side, by the given distance. Each vertex moves along
// the perpendicular of its adjoining segment; interior joins are not mitred,
// which is fine at half-street-width offsets.
func OffsetToward(line []model.GeoPoint, side model.BlockSide, distance float64) []model.GeoPoint {
	if len(line) < 2 {
		return line
	}
	out := make([]model.GeoPoint, len(line))
	for i := range line {
		seg := i
		if seg == len(line)-1 {
			seg = len(line) - 2
		}
		brg := Bearing(line[seg], line[seg+1])
		out[i] = Destination(line[i], PerpendicularToward(brg, side), distance)
	}
	return out
}

// PerpendicularToward picks the perpendicular of a segment bearing that points
// toward the named block side: of the two candidates (bearing ± 90°), the one
// closest on the compass to the side's azimuth. For composite sides like
// SouthEast this reduces to comparing the bearing against a 0-180° split.
func PerpendicularToward(bearing float64, side model.BlockSide) float64 {
	right := math.Mod(bearing+90, 360)
	left := math.Mod(bearing+270, 360)
	target := side.Azimuth()
	if angularDiff(right, target) <= angularDiff(left, target) {
		return right
	}
	return left
}

func angularDiff(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b+360, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}
