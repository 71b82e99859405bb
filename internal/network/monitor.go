package network

import (
	"context"
	"sync"
	"time"

	"intake/internal/events"
	"intake/internal/logging"
	"intake/internal/metrics"

	"github.com/rs/zerolog"
)

// Prober reports whether the remote side is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

type Options struct {
	SettleDelay   time.Duration
	ProbeInterval time.Duration
}

// Monitor turns raw connectivity signals into online/offline edges. An
// online edge triggers replay once the connection has stayed up for the
// settle delay.
type Monitor struct {
	opts   Options
	prober Prober
	bus    *events.EventBus
	logger *zerolog.Logger

	mu        sync.Mutex
	online    bool
	gen       uint64
	timer     *time.Timer
	onSettled []func()
	watchers  []func(online bool)
}

func NewMonitor(opts Options, prober Prober, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	metrics.SetOnline(false)
	return &Monitor{
		opts:   opts,
		prober: prober,
		bus:    bus,
		logger: logging.Component(logger, "network"),
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnSettledOnline registers fn to run after each online edge that survives
// the settle delay.
func (m *Monitor) OnSettledOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSettled = append(m.onSettled, fn)
}

// Watch registers fn to be called synchronously on every edge.
func (m *Monitor) Watch(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// SetOnline feeds a connectivity signal and reports whether it was an edge.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if online {
		gen := m.gen
		m.timer = time.AfterFunc(m.opts.SettleDelay, func() { m.settled(gen) })
	}
	watchers := append([]func(bool){}, m.watchers...)
	m.mu.Unlock()

	metrics.SetOnline(online)
	eventType := events.EventNetworkOffline
	if online {
		eventType = events.EventNetworkOnline
	}
	if err := m.bus.PublishJSON(eventType, events.NetworkEventPayload{Online: online, At: time.Now()}); err != nil {
		m.logger.Warn().Err(err).Msg("publish network event")
	}
	for _, fn := range watchers {
		fn(online)
	}

	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	return true
}

func (m *Monitor) settled(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.online {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	triggers := append([]func(){}, m.onSettled...)
	m.mu.Unlock()

	m.logger.Debug().Msg("connection settled, triggering replay")
	for _, fn := range triggers {
		fn()
	}
}

// Run probes connectivity until ctx is done. Without a prober it only
// waits, leaving SetOnline as the sole signal source.
func (m *Monitor) Run(ctx context.Context) {
	defer m.stopTimer()

	if m.prober == nil || m.opts.ProbeInterval <= 0 {
		<-ctx.Done()
		return
	}

	m.SetOnline(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.prober.Probe(ctx))
		}
	}
}

func (m *Monitor) stopTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
