// Package connection tracks whether the CRM backend is reachable. It probes
// the backend health endpoint at startup and keeps re-probing on an interval
// while the backend is down, so callers can show an offline banner and
// recover automatically.
package connection

import (
	"time"

	"github.com/diarai/diar-crm-client/pkg/client"
)

// DefaultInterval is the re-probe interval while disconnected.
const DefaultInterval = 30 * time.Second

// Messages recorded as LastError.
const (
	MessageServerUnavailable = "server unavailable"
	MessageOffline           = "no network connection"
)

// State is a snapshot of the backend connection.
type State struct {
	// Connected is optimistic: it is true until a probe fails.
	Connected bool `json:"connected"`

	// Checking is set while a probe is in flight.
	Checking bool `json:"checking"`

	// LastCheck is when the last probe finished. Zero before the first probe.
	LastCheck time.Time `json:"last_check"`

	// LastError describes why the backend is considered unreachable.
	LastError *client.APIError `json:"-"`
}

// IsStale reports whether the last probe is older than maxAge at now.
func (s State) IsStale(maxAge time.Duration, now time.Time) bool {
	return s.LastCheck.IsZero() || now.Sub(s.LastCheck) > maxAge
}

// Error returns the message of LastError, or "".
func (s State) Error() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Message
}

func unreachable(message string) *client.APIError {
	return &client.APIError{
		ErrorClass: client.ErrorClassNetwork,
		Message:    message,
	}
}
