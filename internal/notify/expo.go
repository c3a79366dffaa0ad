package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sweepwatch/internal/metrics"
)

const (
	DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"
	expoChunkSize       = 100
)

// TokenSource resolves the push tokens registered for a device. Several
// phones can be registered to the same car.
type TokenSource interface {
	TokensForDevice(ctx context.Context, deviceID string) ([]string, error)
}

// ExpoSender delivers pushes through the Expo push API.
type ExpoSender struct {
	Tokens      TokenSource
	HTTP        *http.Client
	Endpoint    string
	AccessToken string
	limiter     *rate.Limiter
}

// NewExpoSender builds a sender with a 5s HTTP timeout and a send rate cap of
// perSecond requests (Expo throttles bursty senders).
func NewExpoSender(tokens TokenSource, endpoint, accessToken string, perSecond float64) *ExpoSender {
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	return &ExpoSender{
		Tokens:      tokens,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Endpoint:    endpoint,
		AccessToken: accessToken,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
	}
}

// IsExpoPushToken reports whether tok looks like a token minted by Expo.
func IsExpoPushToken(tok string) bool {
	return (strings.HasPrefix(tok, "ExponentPushToken[") || strings.HasPrefix(tok, "ExpoPushToken[")) &&
		strings.HasSuffix(tok, "]")
}

// Send delivers p to every valid token for the device. Invalid tokens are
// filtered; no tokens is a quiet no-op. Chunks are capped at the Expo batch
// limit and rate limited across devices.
func (s *ExpoSender) Send(ctx context.Context, deviceID string, p Push) error {
	tokens, err := s.Tokens.TokensForDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("tokens for device %s: %w", deviceID, err)
	}
	valid := tokens[:0]
	for _, t := range tokens {
		if IsExpoPushToken(t) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		log.Printf("notify: no valid push tokens for device %s, skipping", deviceID)
		return nil
	}

	msgs := make([]map[string]any, 0, len(valid))
	for _, tok := range valid {
		m := map[string]any{"to": tok}
		if p.Silent() {
			// Data-only push; _contentAvailable wakes the iOS app in background.
			m["_contentAvailable"] = true
		} else {
			m["title"] = p.Title
			m["body"] = p.Body
			m["sound"] = "default"
		}
		if p.Data != nil {
			m["data"] = p.Data
		}
		msgs = append(msgs, m)
	}

	kind := "visible"
	if p.Silent() {
		kind = "silent"
	}
	var firstErr error
	for start := 0; start < len(msgs); start += expoChunkSize {
		end := start + expoChunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := s.postChunk(ctx, msgs[start:end]); err != nil {
			metrics.PushSends.WithLabelValues(kind, "error").Inc()
			log.Printf("notify: push send failed for device %s: %v", deviceID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.PushSends.WithLabelValues(kind, "ok").Inc()
	}
	return firstErr
}

func (s *ExpoSender) postChunk(ctx context.Context, chunk []map[string]any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("expo push returned %d", resp.StatusCode)
	}
	return nil
}
