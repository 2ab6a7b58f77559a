// Package monitor samples a live Redis server on a fixed interval,
// evaluates threshold rules over each sample and maintains the alert
// lifecycle. One Monitor owns at most one connection and one sampling loop.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redisops/sre-assistant/internal/metrics"
	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/redisconn"
)

var (
	// ErrNotConnected signals an operation that requires an active connection.
	ErrNotConnected = errors.New("monitor: not connected")
	// ErrAlreadyMonitoring signals a second StartMonitoring on a running loop.
	ErrAlreadyMonitoring = errors.New("monitor: already monitoring")
)

// State is the connection lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateMonitoring   State = "monitoring"
)

// Conn is the server connection surface the monitor and fault injector
// use: status sampling plus the administrative commands faults are built
// from.
type Conn interface {
	Info(ctx context.Context, section string) (string, error)
	Ping(ctx context.Context) error
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Scan(ctx context.Context, cursor uint64, match string, count int) (uint64, []string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
	Addr() string
}

// DialFunc opens a connection to the monitored server.
type DialFunc func(ctx context.Context, cfg redisconn.Config) (Conn, error)

func defaultDial(ctx context.Context, cfg redisconn.Config) (Conn, error) {
	return redisconn.Dial(ctx, cfg)
}

// Options bounds the monitor's buffers.
type Options struct {
	HistorySize    int
	AlertRetention int
	SampleTimeout  time.Duration
}

// Monitor owns one monitored connection, its sample history and its alerts.
type Monitor struct {
	logger *slog.Logger
	dial   DialFunc
	rules  []Rule
	opts   Options

	mu        sync.Mutex
	state     State
	conn      Conn
	connCfg   redisconn.Config
	samples   []models.MetricSample
	alerts    []*models.Alert
	active    map[string]*models.Alert
	prev      models.RedisMetrics
	hasPrev   bool
	stop      chan struct{}
	done      chan struct{}
	callbacks []func(models.Alert)
	subs      map[chan models.Alert]struct{}
}

// New constructs a disconnected monitor with the given rule pack.
func New(rules []Rule, logger *slog.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 360
	}
	if opts.AlertRetention <= 0 {
		opts.AlertRetention = 100
	}
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = 5 * time.Second
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Monitor{
		logger: logger,
		dial:   defaultDial,
		rules:  rules,
		opts:   opts,
		state:  StateDisconnected,
		active: make(map[string]*models.Alert),
		subs:   make(map[chan models.Alert]struct{}),
	}
}

// SetDialFunc overrides how connections are opened. Must be called before
// Connect.
func (m *Monitor) SetDialFunc(dial DialFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dial = dial
}

// OnAlert registers a callback invoked on every alert raise and clear. The
// callback runs on the monitoring goroutine and must not block.
func (m *Monitor) OnAlert(fn func(models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Addr returns the connected server address, or empty when disconnected.
func (m *Monitor) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.Addr()
}

// Connect opens a connection to the server. Connecting while already
// connected replaces the prior handle; an active monitoring loop is stopped
// first.
func (m *Monitor) Connect(ctx context.Context, cfg redisconn.Config) error {
	m.StopMonitoring()

	m.mu.Lock()
	dial := m.dial
	m.mu.Unlock()

	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.connCfg = cfg
	m.state = StateConnected
	// Delta rules only compare samples taken over the same connection.
	m.prev = models.RedisMetrics{}
	m.hasPrev = false
	m.logger.Info("connected to monitored server", "addr", conn.Addr())
	return nil
}

// ConnConfig returns the configuration of the current connection, used to
// open additional connections against the same server.
func (m *Monitor) ConnConfig() (redisconn.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return redisconn.Config{}, ErrNotConnected
	}
	return m.connCfg, nil
}

// Dial opens an extra connection to the currently connected server.
func (m *Monitor) Dial(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	dial, cfg := m.dial, m.connCfg
	m.mu.Unlock()
	return dial(ctx, cfg)
}

// Disconnect stops monitoring and closes the connection. Safe to call when
// already disconnected.
func (m *Monitor) Disconnect() {
	m.StopMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
}

// Conn returns the live connection for administrative use (fault
// injection), or ErrNotConnected when disconnected.
func (m *Monitor) Conn() (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// StartMonitoring launches the periodic sampling loop. The first sample is
// taken immediately, then every interval.
func (m *Monitor) StartMonitoring(interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	m.mu.Lock()
	switch m.state {
	case StateDisconnected:
		m.mu.Unlock()
		return ErrNotConnected
	case StateMonitoring:
		m.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	m.state = StateMonitoring
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.loop(interval, stop, done)
	return nil
}

// StopMonitoring halts the loop and waits for any in-flight tick to finish.
// No-op when not monitoring. Concurrent callers wait for the loop to exit
// rather than racing to close the stop channel.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	if stop == nil {
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	m.stop = nil
	m.mu.Unlock()

	close(stop)
	<-done

	m.mu.Lock()
	if m.state == StateMonitoring {
		m.state = StateConnected
	}
	m.mu.Unlock()
}

func (m *Monitor) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	if !m.tick() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.tick() {
				return
			}
		}
	}
}

// tick samples the server once. Server error replies (LOADING during a
// restart, for example) skip the sample and keep the loop running; only loss
// of the connection ends it.
func (m *Monitor) tick() bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SampleTimeout)
	raw, err := conn.Info(ctx, "")
	cancel()
	if err != nil {
		metrics.ObserveMonitorTick(false)
		if redisconn.IsServerError(err) {
			m.logger.Warn("sampling skipped", "error", err)
			return true
		}
		m.logger.Warn("sampling failed, stopping monitor", "error", err)
		m.handleConnectionLoss()
		return false
	}

	sample := models.MetricSample{
		Timestamp: time.Now().UTC(),
		Metrics:   ParseInfo(raw),
	}
	events := m.record(sample)
	metrics.ObserveMonitorTick(true)
	for _, alert := range events {
		m.notify(alert)
	}
	return true
}

// record appends the sample and runs rule evaluation under the lock,
// returning alert events to deliver outside it.
func (m *Monitor) record(sample models.MetricSample) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, sample)
	if len(m.samples) > m.opts.HistorySize {
		m.samples = m.samples[len(m.samples)-m.opts.HistorySize:]
	}

	var events []models.Alert
	for i := range m.rules {
		rule := &m.rules[i]
		observed, bad := rule.violated(sample.Metrics, m.prev, m.hasPrev)
		current := m.active[rule.ID]

		switch {
		case bad && current == nil:
			alert := &models.Alert{
				RuleID:      rule.ID,
				Severity:    rule.Severity,
				Category:    rule.Category,
				Metric:      rule.Metric,
				Observed:    observed,
				Threshold:   rule.Value,
				Message:     rule.Message,
				TriggeredAt: sample.Timestamp,
			}
			m.active[rule.ID] = alert
			m.alerts = append(m.alerts, alert)
			events = append(events, *alert)
			m.logger.Warn("alert raised",
				"rule", rule.ID, "metric", rule.Metric,
				"observed", observed, "threshold", rule.Value)
		case !bad && current != nil:
			cleared := sample.Timestamp
			current.ClearedAt = &cleared
			delete(m.active, rule.ID)
			events = append(events, *current)
			m.logger.Info("alert cleared", "rule", rule.ID)
		}
	}

	m.trimAlertsLocked()
	metrics.SetActiveAlerts(len(m.active))
	m.prev = sample.Metrics
	m.hasPrev = true
	return events
}

// trimAlertsLocked drops the oldest cleared alerts above the retention
// bound. Active alerts are never dropped.
func (m *Monitor) trimAlertsLocked() {
	excess := len(m.alerts) - m.opts.AlertRetention
	if excess <= 0 {
		return
	}
	kept := m.alerts[:0]
	for _, alert := range m.alerts {
		if excess > 0 && !alert.Active() {
			excess--
			continue
		}
		kept = append(kept, alert)
	}
	m.alerts = kept
}

func (m *Monitor) handleConnectionLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
}

// Subscribe returns a channel receiving every alert raise and clear. Slow
// receivers drop events rather than stalling the loop. The returned cancel
// function releases the subscription.
func (m *Monitor) Subscribe() (<-chan models.Alert, func()) {
	ch := make(chan models.Alert, 16)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Monitor) notify(alert models.Alert) {
	m.mu.Lock()
	callbacks := make([]func(models.Alert), len(m.callbacks))
	copy(callbacks, m.callbacks)
	for ch := range m.subs {
		select {
		case ch <- alert:
		default:
		}
	}
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(alert)
	}
}

// Latest returns the most recent sample, or false when none was taken yet.
// The buffer survives disconnection.
func (m *Monitor) Latest() (models.MetricSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return models.MetricSample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// Samples returns a copy of the history buffer, oldest first.
func (m *Monitor) Samples() []models.MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MetricSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Alerts returns all retained alerts, newest first.
func (m *Monitor) Alerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		out = append(out, *m.alerts[i])
	}
	return out
}

// ActiveAlerts returns only the currently active alerts, newest first.
func (m *Monitor) ActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, 0, len(m.active))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if m.alerts[i].Active() {
			out = append(out, *m.alerts[i])
		}
	}
	return out
}
