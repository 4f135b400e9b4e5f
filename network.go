package loreline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// NetworkState is the connectivity state the monitor tracks.
type NetworkState int

const (
	// NetworkOffline means remote submissions will be queued.
	NetworkOffline NetworkState = iota
	// NetworkOnline means the sync engine may drain the queue.
	NetworkOnline
)

func (s NetworkState) String() string {
	if s == NetworkOnline {
		return "online"
	}
	return "offline"
}

// NetworkMonitorConfig configures connectivity tracking.
type NetworkMonitorConfig struct {
	// ProbeURL is probed periodically to detect connectivity. Empty
	// disables probing; the host then drives state via SetOnline.
	ProbeURL string

	// ProbeInterval is how often to probe. Default: 15s.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each probe request. Default: 5s.
	ProbeTimeout time.Duration

	// StartOnline sets the initial state. Default: offline until the
	// first successful probe or SetOnline call.
	StartOnline bool

	// HTTPClient overrides the probe client.
	HTTPClient HTTPDoer
}

// DefaultNetworkMonitorConfig returns default monitor configuration.
func DefaultNetworkMonitorConfig() NetworkMonitorConfig {
	return NetworkMonitorConfig{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// NetworkMonitor tracks Online/Offline state and emits transition events
// to subscribers. Transition events can be missed by slow consumers, so
// the sync engine also polls IsOnline on a fallback timer.
type NetworkMonitor struct {
	config NetworkMonitorConfig
	client HTTPDoer

	mu     sync.RWMutex
	state  NetworkState
	subs   map[int]chan NetworkState
	nextID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNetworkMonitor creates a monitor. Call Start to begin probing.
func NewNetworkMonitor(config NetworkMonitorConfig) *NetworkMonitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 15 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &NetworkMonitor{
		config: config,
		client: config.HTTPClient,
		state:  NetworkOffline,
		subs:   make(map[int]chan NetworkState),
		ctx:    ctx,
		cancel: cancel,
	}
	if config.StartOnline {
		m.state = NetworkOnline
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: config.ProbeTimeout}
	}
	return m
}

// Start begins the probe loop if a probe URL is configured.
func (m *NetworkMonitor) Start() {
	if m.config.ProbeURL == "" {
		return
	}
	m.wg.Add(1)
	go m.probeLoop()
}

// Stop halts probing and closes subscriber channels.
func (m *NetworkMonitor) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// IsOnline reports the current state synchronously, used for the
// immediate-submit-vs-queue decision at enqueue time.
func (m *NetworkMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == NetworkOnline
}

// SetOnline transitions the state manually, for hosts with their own
// reachability signal. Emits a transition event on change.
func (m *NetworkMonitor) SetOnline(online bool) {
	next := NetworkOffline
	if online {
		next = NetworkOnline
	}

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	subs := make([]chan NetworkState, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	slog.Info("network state changed", "state", next.String())
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
			// Slow subscriber; it will catch up via polling.
		}
	}
}

// Subscribe returns a channel of state transitions and an unsubscribe
// function. The channel is buffered; missed events are recovered by the
// subscriber's own polling.
func (m *NetworkMonitor) Subscribe() (<-chan NetworkState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan NetworkState, 16)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *NetworkMonitor) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.probe()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *NetworkMonitor) probe() {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.config.ProbeURL, nil)
	if err != nil {
		m.SetOnline(false)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.SetOnline(false)
		return
	}
	_ = resp.Body.Close()
	m.SetOnline(resp.StatusCode < http.StatusInternalServerError)
}
