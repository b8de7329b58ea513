package connection

import (
	"context"
	"sync"
	"time"

	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for backend connectivity.
var (
	backendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_backend_up",
		Help: "Whether the CRM backend answered the last health probe (1) or not (0)",
	})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_backend_health_checks_total",
		Help: "Total number of backend health probes by result",
	}, []string{"result"})
)

// Prober checks backend health. *client.Client implements it.
type Prober interface {
	CheckHealth(ctx context.Context) bool
}

// Options configures a Monitor.
type Options struct {
	// Interval between probes while disconnected (default DefaultInterval).
	Interval time.Duration

	// OnChange is called when Connected flips.
	OnChange func(State)

	// Now is the clock (default time.Now).
	Now func() time.Time
}

// Monitor tracks the connection state of the backend.
type Monitor struct {
	prober   Prober
	interval time.Duration
	onChange func(State)
	now      func() time.Time
	trigger  chan struct{}
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State
}

// NewMonitor creates a monitor. The backend is assumed reachable until the
// first probe says otherwise.
func NewMonitor(prober Prober, opts Options) *Monitor {
	if prober == nil {
		panic("prober cannot be nil")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	backendUp.Set(1)
	return &Monitor{
		prober:   prober,
		interval: opts.Interval,
		onChange: opts.OnChange,
		now:      opts.Now,
		trigger:  make(chan struct{}, 1),
		logger:   logging.NewLogger("connection"),
		state:    State{Connected: true},
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the backend is considered reachable.
func (m *Monitor) IsConnected() bool {
	return m.State().Connected
}

// Check probes the backend once and records the outcome.
func (m *Monitor) Check(ctx context.Context) State {
	m.mu.Lock()
	m.state.Checking = true
	m.mu.Unlock()

	healthy := m.prober.CheckHealth(ctx)

	result := "up"
	if !healthy {
		result = "down"
	}
	healthChecksTotal.WithLabelValues(result).Inc()

	if !healthy {
		return m.update(false, unreachable(MessageServerUnavailable))
	}
	return m.update(true, nil)
}

// MarkOffline forces the disconnected state, for example when the host
// reports that its network went away. The next probe decides recovery.
func (m *Monitor) MarkOffline(reason string) State {
	if reason == "" {
		reason = MessageOffline
	}
	return m.update(false, unreachable(reason))
}

// TriggerCheck asks a running monitor to probe now, for example when the
// host reports that its network is back. It never blocks.
func (m *Monitor) TriggerCheck() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run probes immediately, then every interval while the backend is
// disconnected, until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.trigger:
			m.Check(ctx)
		case <-ticker.C:
			if !m.IsConnected() {
				m.Check(ctx)
			}
		}
	}
}

func (m *Monitor) update(connected bool, lastErr *client.APIError) State {
	m.mu.Lock()
	changed := m.state.Connected != connected
	m.state.Connected = connected
	m.state.Checking = false
	m.state.LastCheck = m.now()
	m.state.LastError = lastErr
	snapshot := m.state
	m.mu.Unlock()

	if connected {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}

	if changed {
		event := m.logger.Info()
		if !connected {
			event = m.logger.Warn()
		}
		event.
			Bool("connected", connected).
			Str("reason", snapshot.Error()).
			Msg("Backend connection state changed")

		if m.onChange != nil {
			m.onChange(snapshot)
		}
	}
	return snapshot
}
