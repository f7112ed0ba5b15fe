// Package netmon tracks network connectivity for the Moneta client.
//
// The host shell feeds platform-reported transitions in through SetOnline;
// CheckConnectivity adds an active verification path against the remote
// service's health endpoint.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/linchiayu/moneta/internal/logging"
)

// probeTimeout bounds the health round-trip.
const probeTimeout = 5 * time.Second

// Monitor is the single source of truth for "are we online".
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	healthURL string
	client    *http.Client
	logger    *logging.Logger
}

// NewMonitor creates a Monitor. initialOnline is the platform-reported
// state at construction time. client is the pre-authenticated HTTP client
// shared with the sync transport; if nil, http.DefaultClient is used.
func NewMonitor(healthURL string, client *http.Client, initialOnline bool, logger *logging.Logger) *Monitor {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{
		online:    initialOnline,
		subs:      make(map[int]func(bool)),
		healthURL: healthURL,
		client:    client,
		logger:    logger,
	}
}

// IsOnline returns the current platform-reported connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a platform connectivity transition. Subscribers are
// notified only when the state actually changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("network state changed", map[string]interface{}{"online": online})
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a callback that is invoked immediately with the
// current state, then on every transition. The returned function
// unsubscribes; calling it more than once is safe.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	current := m.online
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// CheckConnectivity performs a lightweight round-trip to the remote
// service's health endpoint. It never returns an error:
//   - platform reports offline: false, without a network call
//   - probe succeeds (any 2xx): true
//   - probe fails: the platform-reported flag ("server unreachable" is not
//     the same as "no network interface")
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	if !m.IsOnline() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return m.IsOnline()
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("connectivity probe failed", map[string]interface{}{"error": err.Error()})
		return m.IsOnline()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	return m.IsOnline()
}
