// Package netmon tests for connectivity tracking.
package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSubscribe verifies the immediate callback and transition delivery.
func TestSubscribe(t *testing.T) {
	m := NewMonitor("http://localhost/health", nil, true, nil)

	var states []bool
	unsub := m.Subscribe(func(online bool) {
		states = append(states, online)
	})
	defer unsub()

	if len(states) != 1 || states[0] != true {
		t.Fatalf("immediate callback states = %v, want [true]", states)
	}

	m.SetOnline(false)
	m.SetOnline(false) // no transition, no callback
	m.SetOnline(true)

	want := []bool{true, false, true}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

// TestUnsubscribe_idempotent verifies unsubscribing twice is safe.
func TestUnsubscribe_idempotent(t *testing.T) {
	m := NewMonitor("http://localhost/health", nil, false, nil)

	calls := 0
	unsub := m.Subscribe(func(bool) { calls++ })

	unsub()
	unsub()

	m.SetOnline(true)
	if calls != 1 {
		t.Errorf("calls = %d, want only the immediate one", calls)
	}
}

// TestCheckConnectivity_offlineShortCircuit verifies no network call is
// made when the platform already reports offline.
func TestCheckConnectivity_offlineShortCircuit(t *testing.T) {
	probed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = true
	}))
	defer server.Close()

	m := NewMonitor(server.URL, server.Client(), false, nil)
	if m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = true while platform offline")
	}
	if probed {
		t.Error("probe was sent despite offline short-circuit")
	}
}

// TestCheckConnectivity_healthy verifies a 2xx probe means online.
func TestCheckConnectivity_healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor(server.URL, server.Client(), true, nil)
	if !m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = false for healthy endpoint")
	}
}

// TestCheckConnectivity_unreachableFallsBack verifies a transport failure
// falls back to the platform flag instead of assuming offline.
func TestCheckConnectivity_unreachableFallsBack(t *testing.T) {
	// Closed server: connection refused
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	m := NewMonitor(url, nil, true, nil)
	if !m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = false; want platform flag (true) when server unreachable")
	}
}

// TestCheckConnectivity_serverError verifies a non-2xx answer falls back
// to the platform flag too.
func TestCheckConnectivity_serverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewMonitor(server.URL, server.Client(), true, nil)
	if !m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = false; want platform flag (true) on 500")
	}
}
