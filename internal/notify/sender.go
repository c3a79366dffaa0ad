// Package notify owns push delivery and the per-device sweep warning
// registry.
package notify

import "context"

// Push is one notification for a device. A push with no title and no body is
// delivered silently (data-only) to update app state in the background.
type Push struct {
	Title string
	Body  string
	Data  map[string]any
}

// Silent reports whether the push is data-only.
func (p Push) Silent() bool { return p.Title == "" && p.Body == "" }

// Sender delivers a push to every phone registered for a device. Delivery is
// best-effort; a returned error means the attempt failed, not that it will be
// retried here.
type Sender interface {
	Send(ctx context.Context, deviceID string, p Push) error
}
