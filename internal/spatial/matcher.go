// Package spatial matches vehicle positions against curb-offset restriction
// geometry. The store hands back raw rows; a row either parses into a
// model.Restriction or is skipped as an anomaly, never passed through loose.
package spatial

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"sweepwatch/internal/metrics"
	"sweepwatch/internal/model"
)

// Row is a raw geospatial store row for one restriction, field types as the
// dataset delivers them.
type Row struct {
	Corridor  string
	Limits    string
	BlockSide string
	Weekday   string
	Weeks     [5]string
	FromHour  string
	ToHour    string
	Holidays  string
	Curb      []model.GeoPoint
	DistanceM float64
}

// GeoStore is the geospatial query collaborator. Rows come back ordered by
// ascending distance; the store owns its own connection lifecycle.
type GeoStore interface {
	QueryNear(ctx context.Context, lng, lat, radiusM float64, limit int) ([]Row, error)
}

// LookupError wraps a geospatial store failure so callers can tell
// "no restriction nearby" (empty result, nil error) from a failed lookup.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return "spatial lookup failed: " + e.Err.Error() }
func (e *LookupError) Unwrap() error { return e.Err }

// Matcher finds restrictions near a point, ranked by distance to their curb
// geometry.
type Matcher struct {
	Geo   GeoStore
	Limit int // max results per query
}

func NewMatcher(geo GeoStore, limit int) *Matcher {
	if limit <= 0 {
		limit = 8
	}
	return &Matcher{Geo: geo, Limit: limit}
}

// FindNear returns restrictions whose curb geometry lies within radiusM of pt,
// ascending by distance, capped at the matcher limit. Exact-tie ordering
// follows store row order and is not guaranteed. An empty slice with a nil
// error means no restriction is nearby; a *LookupError means the store could
// not answer. Rows that fail validation are logged and dropped, never fatal.
func (m *Matcher) FindNear(ctx context.Context, pt model.GeoPoint, radiusM float64) ([]model.MatchResult, error) {
	start := time.Now()
	rows, err := m.Geo.QueryNear(ctx, pt.Lng, pt.Lat, radiusM, m.Limit)
	metrics.SpatialQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &LookupError{Err: err}
	}

	out := make([]model.MatchResult, 0, len(rows))
	for _, row := range rows {
		r, perr := ParseRow(row)
		if perr != nil {
			metrics.SpatialRowsSkipped.Inc()
			log.Printf("spatial: skipping row (%s %s): %v", row.Corridor, row.BlockSide, perr)
			continue
		}
		out = append(out, model.MatchResult{Restriction: r, DistanceM: row.DistanceM})
	}
	// Stores return rows sorted already; the stable re-sort keeps input order
	// on exact ties and protects against an unsorted store.
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if len(out) > m.Limit {
		out = out[:m.Limit]
	}
	return out, nil
}

// ParseRow validates a raw store row into a Restriction. It enforces the
// schedule invariants: a real weekday, fromHour < toHour, and at least one
// active week bit.
func ParseRow(row Row) (model.Restriction, error) {
	wd, err := model.ParseWeekday(row.Weekday)
	if err != nil {
		return model.Restriction{}, err
	}
	side, err := model.ParseBlockSide(row.BlockSide)
	if err != nil {
		return model.Restriction{}, err
	}
	from, err := strconv.Atoi(strings.TrimSpace(row.FromHour))
	if err != nil {
		return model.Restriction{}, fmt.Errorf("bad fromhour %q", row.FromHour)
	}
	to, err := strconv.Atoi(strings.TrimSpace(row.ToHour))
	if err != nil {
		return model.Restriction{}, fmt.Errorf("bad tohour %q", row.ToHour)
	}
	if from < 0 || from > 23 || to < 0 || to > 23 {
		return model.Restriction{}, fmt.Errorf("hours out of range: %d-%d", from, to)
	}
	if from >= to {
		return model.Restriction{}, fmt.Errorf("fromhour %d not before tohour %d", from, to)
	}
	sched := model.Schedule{Weekday: wd, FromHour: from, ToHour: to}
	for i, w := range row.Weeks {
		sched.Weeks[i] = parseFlag(w)
	}
	if !sched.HasActiveWeek() {
		return model.Restriction{}, fmt.Errorf("no active week bits")
	}
	if row.DistanceM < 0 {
		return model.Restriction{}, fmt.Errorf("negative distance %f", row.DistanceM)
	}
	return model.Restriction{
		Corridor:       row.Corridor,
		Limits:         row.Limits,
		BlockSide:      side,
		Schedule:       sched,
		HolidaysExempt: parseFlag(row.Holidays),
		Curb:           row.Curb,
	}, nil
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "t":
		return true
	}
	return false
}
