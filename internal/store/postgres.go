package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sweepwatch/internal/model"
	"sweepwatch/internal/spatial"
)

// Postgres is the production store: PostGIS for restriction geometry plus
// plain tables for vehicle state and push tokens.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir executes every .sql file in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlText, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlText)); err != nil {
			return fmt.Errorf("migration %s: %w", f, err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const queryNearSQL = `
WITH point AS (
    SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326) AS car
)
SELECT
    corridor,
    limits,
    blockside,
    weekday,
    week1, week2, week3, week4, week5,
    fromhour,
    tohour,
    holidays,
    ST_AsGeoJSON(curbline) AS curbline,
    ST_Distance(curbline::geography, p.car::geography) AS distance_meters
FROM street_sweeping, point p
WHERE curbline && ST_Expand(p.car, 0.005)
  AND ST_DWithin(curbline::geography, p.car::geography, $3)
ORDER BY distance_meters
LIMIT $4`

// QueryNear returns raw restriction rows whose curb line lies within radiusM
// meters of the point, nearest first. The bbox pre-filter keeps the GIST
// index in play before the geography distance check.
func (p *Postgres) QueryNear(ctx context.Context, lng, lat, radiusM float64, limit int) ([]spatial.Row, error) {
	rows, err := p.db.QueryContext(ctx, queryNearSQL, lng, lat, radiusM, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []spatial.Row
	for rows.Next() {
		var r spatial.Row
		var corridor, limits, blockside, weekday, fromhour, tohour, holidays sql.NullString
		var weeks [5]sql.NullString
		var curbJSON sql.NullString
		if err := rows.Scan(&corridor, &limits, &blockside, &weekday,
			&weeks[0], &weeks[1], &weeks[2], &weeks[3], &weeks[4],
			&fromhour, &tohour, &holidays, &curbJSON, &r.DistanceM); err != nil {
			return nil, err
		}
		r.Corridor = corridor.String
		r.Limits = limits.String
		r.BlockSide = blockside.String
		r.Weekday = weekday.String
		for i := range weeks {
			r.Weeks[i] = weeks[i].String
		}
		r.FromHour = fromhour.String
		r.ToHour = tohour.String
		r.Holidays = holidays.String
		if curbJSON.Valid {
			r.Curb = decodeLineString(curbJSON.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// decodeLineString parses a GeoJSON LineString into points. A malformed
// geometry yields nil; the row parser downstream decides what to skip.
func decodeLineString(geojson string) []model.GeoPoint {
	var g struct {
		Type        string      `json:"type"`
		Coordinates [][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(geojson), &g); err != nil || g.Type != "LineString" {
		return nil
	}
	pts := make([]model.GeoPoint, 0, len(g.Coordinates))
	for _, c := range g.Coordinates {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, model.GeoPoint{Lng: c[0], Lat: c[1]})
	}
	return pts
}

func (p *Postgres) UpsertParked(ctx context.Context, deviceID string, lat, lng float64, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO parked_vehicles (device_id, is_parked, latitude, longitude, parked_at, updated_at)
VALUES ($1, true, $2, $3, $4, NOW())
ON CONFLICT (device_id) DO UPDATE SET
    is_parked = true,
    latitude = $2,
    longitude = $3,
    parked_at = $4,
    updated_at = NOW()`, deviceID, lat, lng, at)
	return err
}

func (p *Postgres) MarkUnparked(ctx context.Context, deviceID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE parked_vehicles
SET is_parked = false, unparked_at = $2, updated_at = NOW()
WHERE device_id = $1`, deviceID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// First event for this device is a move: record the row anyway so
		// state reads do not 404 afterwards.
		_, err = p.db.ExecContext(ctx, `
INSERT INTO parked_vehicles (device_id, is_parked, unparked_at, updated_at)
VALUES ($1, false, $2, NOW())
ON CONFLICT (device_id) DO NOTHING`, deviceID, at)
	}
	return err
}

func (p *Postgres) GetVehicle(ctx context.Context, deviceID string) (model.VehicleState, error) {
	var v model.VehicleState
	var lat, lng sql.NullFloat64
	var parkedAt, unparkedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
SELECT device_id, is_parked, latitude, longitude, parked_at, unparked_at, updated_at
FROM parked_vehicles WHERE device_id = $1`, deviceID).
		Scan(&v.DeviceID, &v.IsParked, &lat, &lng, &parkedAt, &unparkedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VehicleState{}, ErrNotFound
	}
	if err != nil {
		return model.VehicleState{}, err
	}
	v.Lat = lat.Float64
	v.Lng = lng.Float64
	if parkedAt.Valid {
		t := parkedAt.Time
		v.ParkedAt = &t
	}
	if unparkedAt.Valid {
		t := unparkedAt.Time
		v.UnparkedAt = &t
	}
	return v, nil
}

func (p *Postgres) UpsertPushToken(ctx context.Context, token, deviceID string) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO push_tokens (push_token, device_id)
VALUES ($1, $2)
ON CONFLICT (push_token) DO UPDATE SET device_id = $2`, token, deviceID)
	return err
}

func (p *Postgres) TokensForDevice(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT push_token FROM push_tokens WHERE device_id = $1`, deviceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

const insertSweepSQL = `
INSERT INTO street_sweeping
    (corridor, fullname, weekday, cnn, cnnrightleft, blocksweepid,
     blockside, limits, fromhour, tohour, holidays,
     week1, week2, week3, week4, week5, curbline)
VALUES
    ($1, $2, $3, $4, $5::char, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
    ST_Transform(
        ST_OffsetCurve(
            ST_Transform(ST_GeomFromText($17, 4326), 32610),
            CASE
                WHEN $5 = 'L' THEN $18::double precision
                WHEN $5 = 'R' THEN -($18::double precision)
            END
        ),
    4326))`

// ReplaceRestrictions swaps the street_sweeping table for the new dataset in
// one transaction. The curb line is the centerline offset by offsetM toward
// the restriction's side of the street, computed in a projected CRS
// (UTM 10N) so the offset is in meters.
func (p *Postgres) ReplaceRestrictions(ctx context.Context, recs []SweepRecord, offsetM float64) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM street_sweeping`); err != nil {
		return 0, err
	}
	inserted := 0
	for _, rec := range recs {
		if len(rec.Centerline) < 2 {
			continue
		}
		side := strings.ToUpper(strings.TrimSpace(rec.CNNRightLeft))
		if side != "L" && side != "R" {
			continue
		}
		_, err := tx.ExecContext(ctx, insertSweepSQL,
			rec.Corridor, rec.FullName, rec.Weekday, rec.CNN, side, rec.BlockSweepID,
			rec.BlockSide, rec.Limits, rec.FromHour, rec.ToHour, rec.Holidays,
			rec.Weeks[0], rec.Weeks[1], rec.Weeks[2], rec.Weeks[3], rec.Weeks[4],
			wktLineString(rec.Centerline), offsetM)
		if err != nil {
			return 0, err
		}
		inserted++
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO data_metadata (dataset_name, last_updated, record_count)
VALUES ($1, NOW(), $2)
ON CONFLICT (dataset_name) DO UPDATE SET last_updated = NOW(), record_count = $2`,
		"street_sweeping", inserted); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func wktLineString(pts []model.GeoPoint) string {
	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, p := range pts {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g %g", p.Lng, p.Lat)
	}
	b.WriteString(")")
	return b.String()
}

func (p *Postgres) RestrictionCount(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM street_sweeping`).Scan(&n)
	return n, err
}

func (p *Postgres) DatasetStats(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{}
	var segments, streets int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT corridor) FROM street_sweeping`).Scan(&segments, &streets); err != nil {
		return nil, err
	}
	stats["segments"] = segments
	stats["streets"] = streets

	rows, err := p.db.QueryContext(ctx,
		`SELECT weekday, COUNT(*) FROM street_sweeping GROUP BY weekday ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	byWeekday := map[string]int{}
	for rows.Next() {
		var wd string
		var n int
		if err := rows.Scan(&wd, &n); err != nil {
			return nil, err
		}
		byWeekday[wd] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["byWeekday"] = byWeekday

	var lastUpdated sql.NullTime
	var recordCount sql.NullInt64
	err = p.db.QueryRowContext(ctx,
		`SELECT last_updated, record_count FROM data_metadata WHERE dataset_name = $1`,
		"street_sweeping").Scan(&lastUpdated, &recordCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if lastUpdated.Valid {
		stats["lastUpdated"] = lastUpdated.Time.UTC().Format(time.RFC3339)
	}
	return stats, nil
}
