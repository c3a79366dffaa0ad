package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sweepwatch/internal/auth"
	"sweepwatch/internal/buildinfo"
	"sweepwatch/internal/model"
	"sweepwatch/internal/notify"
	"sweepwatch/internal/processor"
	"sweepwatch/internal/store"
)

// Traccar forward payload. Only the fields we consume; the rest of the
// envelope is ignored.
type traccarWebhook struct {
	Event struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"event"`
	Device struct {
		ID       int64  `json:"id"`
		UniqueID string `json:"uniqueId"`
		Name     string `json:"name"`
	} `json:"device"`
	Position struct {
		Latitude   float64    `json:"latitude"`
		Longitude  float64    `json:"longitude"`
		FixTime    *time.Time `json:"fixTime"`
		DeviceTime *time.Time `json:"deviceTime"`
		ServerTime *time.Time `json:"serverTime"`
	} `json:"position"`
}

// TraccarWebhookHandler handles POST /v1/traccar/webhook. ignitionOff maps to a
// parked event, deviceMoving to a moving event; everything else is
// acknowledged and dropped so Traccar does not retry.
func (s *Server) TraccarWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	if s.Cfg.WebhookSecret != "" {
		sig := r.Header.Get("X-Signature")
		if !auth.VerifyHMAC(s.Cfg.WebhookSecret, body, sig) {
			writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
			return
		}
	}
	var hook traccarWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}

	var kind model.EventKind
	switch hook.Event.Type {
	case "ignitionOff":
		kind = model.EventParked
	case "deviceMoving":
		kind = model.EventMoving
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handled": false})
		return
	}

	deviceID := hook.Device.UniqueID
	if deviceID == "" && hook.Device.ID != 0 {
		deviceID = strconv.FormatInt(hook.Device.ID, 10)
	}
	if deviceID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing device", "device.uniqueId or device.id required", r.URL.Path)
		return
	}
	if kind == model.EventParked && hook.Position.Latitude == 0 && hook.Position.Longitude == 0 {
		writeProblem(w, http.StatusBadRequest, "Missing position", "parked events require a position", r.URL.Path)
		return
	}

	eventID := uuid.NewString()
	s.Processor.Handle(r.Context(), model.Event{
		ID:       eventID,
		Kind:     kind,
		DeviceID: deviceID,
		Lat:      hook.Position.Latitude,
		Lng:      hook.Position.Longitude,
		At:       eventTime(hook),
	})
	// The id comes back in the device's state push and stream events.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handled": true, "eventId": eventID})
}

// eventTime prefers the GPS fix time, then the device clock, then Traccar's
// receive time, then our own clock.
func eventTime(hook traccarWebhook) time.Time {
	for _, t := range []*time.Time{hook.Position.FixTime, hook.Position.DeviceTime, hook.Position.ServerTime} {
		if t != nil && !t.IsZero() {
			return *t
		}
	}
	return time.Now()
}

// DeviceByIDHandler routes /v1/devices/{id}/parking and /v1/devices/{id}/stream.
func (s *Server) DeviceByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/devices/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	deviceID := parts[0]
	switch parts[1] {
	case "parking":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.parkedLocation(w, r, deviceID)
	case "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.DeviceStreamHandler(w, r, deviceID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) parkedLocation(w http.ResponseWriter, r *http.Request, deviceID string) {
	v, err := s.Store.GetVehicle(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Unknown device", "no state recorded for device", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
		return
	}
	if !v.IsParked {
		writeJSON(w, http.StatusOK, map[string]any{"deviceId": deviceID, "parked": false})
		return
	}

	// Recompute restrictions from the stored fix rather than caching them;
	// the dataset may have reloaded since the vehicle parked.
	results, err := s.Processor.Matcher.FindNear(r.Context(), model.GeoPoint{Lat: v.Lat, Lng: v.Lng}, s.Cfg.AccuracyRadiusM())
	if err != nil {
		results = nil
	}
	next := processor.SoonestSweep(results, time.Now())

	resp := map[string]any{
		"deviceId":     deviceID,
		"parked":       true,
		"lat":          v.Lat,
		"lng":          v.Lng,
		"parkedAt":     v.ParkedAt,
		"restrictions": results,
	}
	if next != nil {
		resp["nextSweep"] = next
	}
	if warn, ok := s.Scheduler.Pending(deviceID); ok {
		resp["warning"] = map[string]any{"fireAt": warn.FireAt, "sendAt": warn.SendAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rough bounding box of the coverage area; the dataset is city-scoped, so
// queries outside it would silently return nothing.
const (
	minLat = 37.70
	maxLat = 37.85
	minLng = -122.55
	maxLng = -122.35
)

// CheckParkingHandler handles POST /v1/parking/check: an ad-hoc restriction
// lookup for a coordinate, without any device state.
func (s *Server) CheckParkingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeProblem(w, http.StatusBadRequest, "Missing coordinates", "lat and lng required", r.URL.Path)
		return
	}
	lat, lng := *req.Lat, *req.Lng
	if lat < minLat || lat > maxLat || lng < minLng || lng > maxLng {
		writeProblem(w, http.StatusBadRequest, "Outside coverage area", "coordinates are outside the sweeping dataset's coverage", r.URL.Path)
		return
	}

	results, err := s.Processor.Matcher.FindNear(r.Context(), model.GeoPoint{Lat: lat, Lng: lng}, s.Cfg.AccuracyRadiusM())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
		return
	}
	next := processor.SoonestSweep(results, time.Now())
	resp := map[string]any{
		"parkingAllowed": len(results) == 0,
		"restrictions":   results,
	}
	if next != nil {
		resp["nextSweep"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// PushTokensHandler handles POST /v1/push-tokens: register (or move) an Expo
// push token for a device.
func (s *Server) PushTokensHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token    string `json:"token"`
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.DeviceID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing deviceId", "", r.URL.Path)
		return
	}
	if !notify.IsExpoPushToken(req.Token) {
		writeProblem(w, http.StatusBadRequest, "Invalid token", "token is not an Expo push token", r.URL.Path)
		return
	}
	if err := s.Store.UpsertPushToken(r.Context(), req.Token, req.DeviceID); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Register token failed", err.Error(), r.URL.Path)
		return
	}
	writeOK(w)
}

// DatasetReloadHandler handles POST /v1/admin/dataset/reload (admin only).
func (s *Server) DatasetReloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	res, err := s.Loader.Load(r.Context())
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Dataset reload failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DatasetStatsHandler handles GET /v1/admin/dataset/stats (admin only).
func (s *Server) DatasetStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	stats, err := s.Store.DatasetStats(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Stats failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	info["status"] = "ok"
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
