package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"intake/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu      sync.Mutex
	results []bool
}

func (p *fakeProber) Probe(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return true
	}
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r
}

func TestMonitorOnlineEdgeTriggersAfterSettle(t *testing.T) {
	bus := events.NewEventBus()
	var online, offline int32
	bus.Subscribe(events.EventNetworkOnline, func(_ *events.Event) error { atomic.AddInt32(&online, 1); return nil })
	bus.Subscribe(events.EventNetworkOffline, func(_ *events.Event) error { atomic.AddInt32(&offline, 1); return nil })

	m := NewMonitor(Options{SettleDelay: 20 * time.Millisecond}, nil, bus, nil)
	var triggered int32
	m.OnSettledOnline(func() { atomic.AddInt32(&triggered, 1) })

	assert.False(t, m.Online())
	assert.True(t, m.SetOnline(true))
	assert.False(t, m.SetOnline(true), "duplicate signal is not an edge")
	assert.True(t, m.Online())

	assert.Zero(t, atomic.LoadInt32(&triggered), "trigger must wait for the settle delay")
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&triggered) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&triggered))
	assert.Equal(t, int32(1), atomic.LoadInt32(&online))
	assert.Zero(t, atomic.LoadInt32(&offline))
}

func TestMonitorFlappingCancelsTrigger(t *testing.T) {
	m := NewMonitor(Options{SettleDelay: 50 * time.Millisecond}, nil, nil, nil)
	var triggered int32
	m.OnSettledOnline(func() { atomic.AddInt32(&triggered, 1) })

	m.SetOnline(true)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, m.SetOnline(false))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&triggered))
	assert.False(t, m.Online())
}

func TestMonitorWatchers(t *testing.T) {
	m := NewMonitor(Options{SettleDelay: time.Hour}, nil, nil, nil)
	var seen []bool
	m.Watch(func(online bool) { seen = append(seen, online) })

	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(false)

	assert.Equal(t, []bool{true, false}, seen)
}

func TestMonitorRunProbes(t *testing.T) {
	prober := &fakeProber{results: []bool{true, false, false, true}}
	m := NewMonitor(Options{SettleDelay: time.Millisecond, ProbeInterval: 10 * time.Millisecond}, prober, nil, nil)

	var mu sync.Mutex
	var edges []bool
	m.Watch(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		edges = append(edges, online)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(edges) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, edges[:3])
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	p := NewHTTPProber(srv.URL, time.Second)
	assert.True(t, p.Probe(context.Background()), "any response means the network is reachable")

	srv.Close()
	assert.False(t, p.Probe(context.Background()))
}
