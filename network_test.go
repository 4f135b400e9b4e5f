package loreline

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loreline-app/loreline/internal/testutil"
)

func TestNetworkMonitorSetOnline(t *testing.T) {
	m := NewNetworkMonitor(NetworkMonitorConfig{})
	defer m.Stop()

	if m.IsOnline() {
		t.Error("monitor starts online without StartOnline")
	}

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SetOnline(true)
	select {
	case state := <-ch:
		if state != NetworkOnline {
			t.Errorf("transition = %s, want online", state)
		}
	case <-time.After(time.Second):
		t.Fatal("no transition event")
	}
	if !m.IsOnline() {
		t.Error("IsOnline = false after SetOnline(true)")
	}

	// Setting the same state again emits nothing.
	m.SetOnline(true)
	select {
	case state := <-ch:
		t.Errorf("unexpected event %s for no-op transition", state)
	default:
	}

	m.SetOnline(false)
	select {
	case state := <-ch:
		if state != NetworkOffline {
			t.Errorf("transition = %s, want offline", state)
		}
	case <-time.After(time.Second):
		t.Fatal("no offline transition event")
	}
}

func TestNetworkMonitorProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	m := NewNetworkMonitor(NetworkMonitorConfig{
		ProbeURL:      srv.URL,
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  time.Second,
	})
	m.Start()
	defer m.Stop()

	testutil.Eventually(t, 2*time.Second, m.IsOnline, "probe never reported online")

	healthy.Store(false)
	testutil.Eventually(t, 2*time.Second, func() bool {
		return !m.IsOnline()
	}, "probe never reported offline after server degraded")
}

func TestNetworkMonitorStartOnline(t *testing.T) {
	m := NewNetworkMonitor(NetworkMonitorConfig{StartOnline: true})
	defer m.Stop()
	if !m.IsOnline() {
		t.Error("StartOnline ignored")
	}
}
