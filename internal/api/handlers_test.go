package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sweepwatch/internal/auth"
	"sweepwatch/internal/config"
	"sweepwatch/internal/model"
	"sweepwatch/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:      "0",
		AuthMode:      "dev",
		PushPerSecond: 10,
		MatchLimit:    8,
		WarnLeadTime:  2 * time.Hour,
		StreetWidthM:  10,
		GPSAccuracyM:  6,
		DatasetLimit:  100,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	// Hold the scheduler clock behind real time so a warning armed during
	// the test never lands inside the lead window and sends immediately.
	s.Scheduler.Now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	t.Cleanup(s.Scheduler.Stop)
	return s
}

// seedRestriction loads one Tuesday 8-10 restriction whose curb sits a few
// meters north of 37.76, -122.42.
func seedRestriction(t *testing.T, s *Server) {
	t.Helper()
	rec := store.SweepRecord{
		Corridor:  "Valencia St",
		Limits:    "20th St - 21st St",
		BlockSide: "North",
		Weekday:   "Tues",
		Weeks:     [5]string{"1", "1", "1", "1", "1"},
		FromHour:  "8",
		ToHour:    "10",
		Centerline: []model.GeoPoint{
			{Lat: 37.76, Lng: -122.4205},
			{Lat: 37.76, Lng: -122.4195},
		},
	}
	if _, err := s.Store.ReplaceRestrictions(context.Background(), []store.SweepRecord{rec}, 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func postWebhook(t *testing.T, s *Server, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/traccar/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("X-Signature", sig)
	}
	s.TraccarWebhookHandler(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestWebhookParkedThenMoving(t *testing.T) {
	s := newTestServer(t)
	seedRestriction(t, s)

	parked := []byte(`{"event":{"type":"ignitionOff"},"device":{"uniqueId":"veh-1"},"position":{"latitude":37.76,"longitude":-122.42,"fixTime":"2024-09-18T12:00:00Z"}}`)
	rr := postWebhook(t, s, parked, "")
	if rr.Code != 200 {
		t.Fatalf("parked webhook: got %d, body %s", rr.Code, rr.Body.String())
	}
	var ack struct {
		EventID string `json:"eventId"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &ack)
	if ack.EventID == "" {
		t.Fatalf("webhook ack should carry the event id: %s", rr.Body.String())
	}

	v, err := s.Store.GetVehicle(context.Background(), "veh-1")
	if err != nil || !v.IsParked {
		t.Fatalf("vehicle state after park: %+v, err %v", v, err)
	}
	if _, ok := s.Scheduler.Pending("veh-1"); !ok {
		t.Fatal("expected a pending warning after parking near a restriction")
	}

	// Parking view recomputes restrictions for the stored fix.
	rr = httptest.NewRecorder()
	s.DeviceByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/devices/veh-1/parking", nil))
	if rr.Code != 200 {
		t.Fatalf("parking view: got %d", rr.Code)
	}
	var view struct {
		Parked       bool              `json:"parked"`
		Restrictions []json.RawMessage `json:"restrictions"`
		NextSweep    *json.RawMessage  `json:"nextSweep"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode parking view: %v", err)
	}
	if !view.Parked || len(view.Restrictions) != 1 || view.NextSweep == nil {
		t.Fatalf("parking view: %s", rr.Body.String())
	}

	moving := []byte(`{"event":{"type":"deviceMoving"},"device":{"uniqueId":"veh-1"}}`)
	if rr := postWebhook(t, s, moving, ""); rr.Code != 200 {
		t.Fatalf("moving webhook: got %d", rr.Code)
	}
	if _, ok := s.Scheduler.Pending("veh-1"); ok {
		t.Fatal("warning should be canceled after the vehicle moves")
	}
	v, _ = s.Store.GetVehicle(context.Background(), "veh-1")
	if v.IsParked {
		t.Fatal("vehicle should be unparked")
	}
}

func TestWebhookSignature(t *testing.T) {
	s := newTestServer(t)
	s.Cfg.WebhookSecret = "topsecret"
	body := []byte(`{"event":{"type":"deviceMoving"},"device":{"uniqueId":"veh-sig"}}`)

	if rr := postWebhook(t, s, body, "deadbeef"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: got %d", rr.Code)
	}
	if rr := postWebhook(t, s, body, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: got %d", rr.Code)
	}
	if rr := postWebhook(t, s, body, auth.SignHMAC("topsecret", body)); rr.Code != 200 {
		t.Fatalf("good signature: got %d", rr.Code)
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"event":{"type":"deviceOnline"},"device":{"uniqueId":"veh-2"}}`)
	rr := postWebhook(t, s, body, "")
	if rr.Code != 200 {
		t.Fatalf("got %d", rr.Code)
	}
	var resp struct {
		Handled bool `json:"handled"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Handled {
		t.Fatal("deviceOnline should not be handled")
	}
	if _, err := s.Store.GetVehicle(context.Background(), "veh-2"); err == nil {
		t.Fatal("no state should be recorded for ignored events")
	}
}

func TestWebhookValidation(t *testing.T) {
	s := newTestServer(t)
	// parked without a position
	body := []byte(`{"event":{"type":"ignitionOff"},"device":{"uniqueId":"veh-3"}}`)
	if rr := postWebhook(t, s, body, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing position: got %d", rr.Code)
	}
	// no device identifier at all
	body = []byte(`{"event":{"type":"deviceMoving"}}`)
	if rr := postWebhook(t, s, body, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing device: got %d", rr.Code)
	}
}

func TestCheckParking(t *testing.T) {
	s := newTestServer(t)
	seedRestriction(t, s)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/parking/check", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		s.CheckParkingHandler(rr, req)
		return rr
	}

	if rr := post(`{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing coords: got %d", rr.Code)
	}
	if rr := post(`{"lat":40.7,"lng":-74.0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("out of area: got %d", rr.Code)
	}

	rr := post(`{"lat":37.76,"lng":-122.42}`)
	if rr.Code != 200 {
		t.Fatalf("check: got %d", rr.Code)
	}
	var resp struct {
		ParkingAllowed bool              `json:"parkingAllowed"`
		Restrictions   []json.RawMessage `json:"restrictions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ParkingAllowed || len(resp.Restrictions) != 1 {
		t.Fatalf("expected one restriction, allowed=false: %s", rr.Body.String())
	}

	// A spot far from any curb line inside the coverage area.
	rr = post(`{"lat":37.80,"lng":-122.44}`)
	if rr.Code != 200 {
		t.Fatalf("clear check: got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.ParkingAllowed {
		t.Fatalf("expected parkingAllowed: %s", rr.Body.String())
	}
}

func TestPushTokens(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/push-tokens", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		s.PushTokensHandler(rr, req)
		return rr
	}

	if rr := post(`{"token":"not-a-token","deviceId":"veh-1"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid token: got %d", rr.Code)
	}
	if rr := post(`{"token":"ExponentPushToken[abc123]"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing deviceId: got %d", rr.Code)
	}
	if rr := post(`{"token":"ExponentPushToken[abc123]","deviceId":"veh-1"}`); rr.Code != 200 {
		t.Fatalf("register: got %d", rr.Code)
	}
	toks, err := s.Store.TokensForDevice(context.Background(), "veh-1")
	if err != nil || len(toks) != 1 {
		t.Fatalf("tokens: %v, err %v", toks, err)
	}
}

func TestAdminDatasetStats(t *testing.T) {
	s := newTestServer(t)
	seedRestriction(t, s)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/dataset/stats", nil)
	req.Header.Set("X-Role", "user")
	s.DatasetStatsHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.DatasetStatsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/dataset/stats", nil))
	if rr.Code != 200 {
		t.Fatalf("admin stats: got %d", rr.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["segments"].(float64) != 1 {
		t.Fatalf("stats: %v", stats)
	}
}

func TestDeviceParkingUnknown(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DeviceByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/devices/ghost/parking", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d", rr.Code)
	}
}
