// Package dataset ingests the street-sweeping restriction feed from the
// SF Open Data portal into the store.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sweepwatch/internal/model"
	"sweepwatch/internal/store"
)

// Loader fetches the restriction GeoJSON feed and replaces the stored
// dataset in one transaction.
type Loader struct {
	Store    store.Store
	HTTP     *http.Client
	URL      string
	AppToken string
	Limit    int
	OffsetM  float64 // curb offset distance (half street width)
}

func NewLoader(st store.Store, feedURL, appToken string, limit int, offsetM float64) *Loader {
	return &Loader{
		Store:    st,
		HTTP:     &http.Client{Timeout: 2 * time.Minute},
		URL:      feedURL,
		AppToken: appToken,
		Limit:    limit,
		OffsetM:  offsetM,
	}
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string      `json:"type"`
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Corridor     string `json:"corridor"`
		FullName     string `json:"fullname"`
		Weekday      string `json:"weekday"`
		CNN          string `json:"cnn"`
		CNNRightLeft string `json:"cnnrightleft"`
		BlockSweepID string `json:"blocksweepid"`
		BlockSide    string `json:"blockside"`
		Limits       string `json:"limits"`
		FromHour     string `json:"fromhour"`
		ToHour       string `json:"tohour"`
		Holidays     string `json:"holidays"`
		Week1        string `json:"week1"`
		Week2        string `json:"week2"`
		Week3        string `json:"week3"`
		Week4        string `json:"week4"`
		Week5        string `json:"week5"`
	} `json:"properties"`
}

// LoadResult describes one dataset load. Batch identifies the load in logs,
// the admin reload response and downstream event data.
type LoadResult struct {
	Batch   string `json:"batch"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
}

// Load fetches the feed and swaps the stored dataset. Features without a
// LineString geometry are dropped; row validity beyond geometry is the
// matcher's concern at query time.
func (l *Loader) Load(ctx context.Context) (LoadResult, error) {
	batch := uuid.NewString()
	log.Printf("dataset: load %s fetching %s", batch, l.URL)

	fc, err := l.fetch(ctx)
	if err != nil {
		return LoadResult{Batch: batch}, fmt.Errorf("fetch dataset: %w", err)
	}

	recs := make([]store.SweepRecord, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		if f.Geometry.Type != "LineString" || len(f.Geometry.Coordinates) < 2 {
			skipped++
			continue
		}
		line := make([]model.GeoPoint, 0, len(f.Geometry.Coordinates))
		for _, c := range f.Geometry.Coordinates {
			if len(c) < 2 {
				continue
			}
			line = append(line, model.GeoPoint{Lng: c[0], Lat: c[1]})
		}
		p := f.Properties
		recs = append(recs, store.SweepRecord{
			Corridor:     p.Corridor,
			FullName:     p.FullName,
			Weekday:      p.Weekday,
			CNN:          p.CNN,
			CNNRightLeft: p.CNNRightLeft,
			BlockSweepID: p.BlockSweepID,
			BlockSide:    p.BlockSide,
			Limits:       p.Limits,
			FromHour:     p.FromHour,
			ToHour:       p.ToHour,
			Holidays:     p.Holidays,
			Weeks:        [5]string{p.Week1, p.Week2, p.Week3, p.Week4, p.Week5},
			Centerline:   line,
		})
	}

	n, err := l.Store.ReplaceRestrictions(ctx, recs, l.OffsetM)
	if err != nil {
		return LoadResult{Batch: batch}, fmt.Errorf("replace restrictions: %w", err)
	}
	log.Printf("dataset: load %s done, %d records loaded, %d features skipped", batch, n, skipped)
	return LoadResult{Batch: batch, Loaded: n, Skipped: skipped}, nil
}

func (l *Loader) fetch(ctx context.Context) (*featureCollection, error) {
	u, err := url.Parse(l.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if l.Limit > 0 {
		q.Set("$limit", strconv.Itoa(l.Limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if l.AppToken != "" {
		req.Header.Set("X-App-Token", l.AppToken)
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}
	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}
