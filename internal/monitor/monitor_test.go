package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/redisconn"
)

// fakeConn scripts INFO responses and records admin commands. When infoGate
// is set, Info parks until the gate channel is closed.
type fakeConn struct {
	mu       sync.Mutex
	infos    []string
	infoIdx  int
	infoErr  error
	infoGate chan struct{}
	closed   bool
	keys     map[string]string
	addr     string
}

func newFakeConn(infos ...string) *fakeConn {
	return &fakeConn{infos: infos, keys: make(map[string]string), addr: "fake:6379"}
}

func (f *fakeConn) Info(context.Context, string) (string, error) {
	f.mu.Lock()
	gate := f.infoGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return "", f.infoErr
	}
	if len(f.infos) == 0 {
		return "", nil
	}
	info := f.infos[f.infoIdx]
	if f.infoIdx < len(f.infos)-1 {
		f.infoIdx++
	}
	return info, nil
}

func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
	return nil
}

func (f *fakeConn) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeConn) Scan(_ context.Context, cursor uint64, pattern string, _ int) (uint64, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := pattern[:len(pattern)-1] // patterns end in *
	var keys []string
	for k := range f.keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return 0, keys, nil
}

func (f *fakeConn) Keys(ctx context.Context, pattern string) ([]string, error) {
	_, keys, err := f.Scan(ctx, 0, pattern, 0)
	return keys, err
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Addr() string { return f.addr }

func connectedMonitor(t *testing.T, rules []Rule, conn Conn) *Monitor {
	t.Helper()
	m := New(rules, nil, Options{HistorySize: 5, AlertRetention: 10})
	m.SetDialFunc(func(context.Context, redisconn.Config) (Conn, error) {
		return conn, nil
	})
	if err := m.Connect(context.Background(), redisconn.Config{Addr: "fake:6379"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

func sampleWithClients(n int64) models.MetricSample {
	return models.MetricSample{
		Timestamp: time.Now().UTC(),
		Metrics:   models.RedisMetrics{ConnectedClients: n},
	}
}

func TestStartMonitoringRequiresConnection(t *testing.T) {
	m := New(nil, nil, Options{})
	if err := m.StartMonitoring(time.Second); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestStartMonitoringTwiceRejected(t *testing.T) {
	m := connectedMonitor(t, nil, newFakeConn("connected_clients:1\r\n"))
	defer m.Disconnect()

	if err := m.StartMonitoring(time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StartMonitoring(time.Hour); !errors.Is(err, ErrAlreadyMonitoring) {
		t.Fatalf("expected ErrAlreadyMonitoring, got %v", err)
	}

	m.StopMonitoring()
	if got := m.State(); got != StateConnected {
		t.Fatalf("state after stop = %s, want %s", got, StateConnected)
	}
	// A fresh loop may start after stop.
	if err := m.StartMonitoring(time.Hour); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.StopMonitoring()
}

func TestStopMonitoringWhenIdleIsNoop(t *testing.T) {
	m := New(nil, nil, Options{})
	m.StopMonitoring()
	m.StopMonitoring()
}

func TestStopMonitoringConcurrentCallers(t *testing.T) {
	gate := make(chan struct{})
	conn := newFakeConn("connected_clients:1\r\n")
	conn.infoGate = gate
	m := connectedMonitor(t, nil, conn)

	if err := m.StartMonitoring(time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The first tick is parked inside Info; both stops must wait for the
	// loop to exit instead of racing on the stop channel.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.StopMonitoring()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := m.State(); got != StateConnected {
		t.Fatalf("state after concurrent stops = %s, want %s", got, StateConnected)
	}
	// A fresh loop may start afterwards.
	if err := m.StartMonitoring(time.Hour); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.StopMonitoring()
	m.Disconnect()
}

func TestServerErrorSkipsTick(t *testing.T) {
	conn := newFakeConn("connected_clients:3\r\n")
	m := connectedMonitor(t, nil, conn)
	defer m.Disconnect()

	if err := m.StartMonitoring(5 * time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := m.Latest(); ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// An error reply (LOADING during a restart) must not end the loop.
	conn.mu.Lock()
	conn.infoErr = &redisconn.ServerError{Message: "LOADING Redis is loading the dataset in memory"}
	conn.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	if got := m.State(); got != StateMonitoring {
		t.Fatalf("state after server error reply = %s, want %s", got, StateMonitoring)
	}

	// Sampling resumes once the server recovers.
	before := len(m.Samples())
	conn.mu.Lock()
	conn.infoErr = nil
	conn.mu.Unlock()

	deadline = time.Now().Add(time.Second)
	for len(m.Samples()) <= before {
		if time.Now().After(deadline) {
			t.Fatalf("sampling did not resume after the server recovered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAlertLifecycleOverFourTicks(t *testing.T) {
	rules := []Rule{{
		ID:       "clients",
		Metric:   "connected_clients",
		Op:       OpGreaterThan,
		Value:    10,
		Severity: models.SeverityHigh,
		Category: models.CategoryConnection,
		Message:  "too many clients",
	}}
	m := New(rules, nil, Options{HistorySize: 10, AlertRetention: 10})

	// not violated, violated, violated, not violated
	m.record(sampleWithClients(5))
	m.record(sampleWithClients(50))
	m.record(sampleWithClients(60))
	m.record(sampleWithClients(5))

	alerts := m.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.RuleID != "clients" {
		t.Fatalf("alert rule = %s", alert.RuleID)
	}
	if alert.Active() {
		t.Fatalf("alert should have cleared")
	}
	if alert.Observed != 50 {
		t.Fatalf("observed = %v, want value at raise time", alert.Observed)
	}
}

func TestAlertNotDuplicatedWhileActive(t *testing.T) {
	rules := []Rule{{ID: "clients", Metric: "connected_clients", Op: OpGreaterThan, Value: 10}}
	m := New(rules, nil, Options{})

	for i := 0; i < 5; i++ {
		m.record(sampleWithClients(100))
	}
	if got := len(m.Alerts()); got != 1 {
		t.Fatalf("expected one alert across the violation window, got %d", got)
	}
	if got := len(m.ActiveAlerts()); got != 1 {
		t.Fatalf("expected one active alert, got %d", got)
	}
}

func TestDeltaRuleFiresOnIncreaseOnly(t *testing.T) {
	rules := []Rule{{ID: "rejected", Metric: "rejected_connections", Op: OpGreaterThan, Value: 0, Delta: true}}
	m := New(rules, nil, Options{})

	base := models.MetricSample{Timestamp: time.Now(), Metrics: models.RedisMetrics{RejectedConnections: 7}}
	// First tick has no previous sample: a monotonic counter's absolute
	// value must not fire the rule.
	m.record(base)
	if got := len(m.Alerts()); got != 0 {
		t.Fatalf("delta rule fired on first sample, got %d alerts", got)
	}

	base.Metrics.RejectedConnections = 9
	m.record(base)
	if got := len(m.ActiveAlerts()); got != 1 {
		t.Fatalf("expected delta alert after increase, got %d", got)
	}

	// Flat counter clears the alert.
	m.record(base)
	if got := len(m.ActiveAlerts()); got != 0 {
		t.Fatalf("expected delta alert to clear, got %d active", got)
	}
}

func TestHistoryBufferIsBoundedFIFO(t *testing.T) {
	m := New(nil, nil, Options{HistorySize: 3})
	for i := 1; i <= 5; i++ {
		m.record(sampleWithClients(int64(i)))
	}
	samples := m.Samples()
	if len(samples) != 3 {
		t.Fatalf("buffer length = %d, want 3", len(samples))
	}
	for i, want := range []int64{3, 4, 5} {
		if got := samples[i].Metrics.ConnectedClients; got != want {
			t.Fatalf("sample %d = %d, want %d (oldest evicted first)", i, got, want)
		}
	}
	latest, ok := m.Latest()
	if !ok || latest.Metrics.ConnectedClients != 5 {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestConnectionLossStopsLoopAndKeepsBuffer(t *testing.T) {
	conn := newFakeConn("connected_clients:3\r\n")
	m := connectedMonitor(t, nil, conn)

	if err := m.StartMonitoring(5 * time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let at least one good sample land, then break the connection.
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := m.Latest(); ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	conn.mu.Lock()
	conn.infoErr = errors.New("broken pipe")
	conn.mu.Unlock()

	deadline = time.Now().Add(time.Second)
	for m.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("monitor did not transition to disconnected")
		}
		time.Sleep(time.Millisecond)
	}

	if _, ok := m.Latest(); !ok {
		t.Fatalf("buffer should survive disconnection")
	}
	if err := m.StartMonitoring(time.Hour); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after loss, got %v", err)
	}
}

func TestReconnectReplacesHandle(t *testing.T) {
	first := newFakeConn("connected_clients:1\r\n")
	m := connectedMonitor(t, nil, first)

	second := newFakeConn("connected_clients:2\r\n")
	m.SetDialFunc(func(context.Context, redisconn.Config) (Conn, error) {
		return second, nil
	})
	if err := m.Connect(context.Background(), redisconn.Config{Addr: "fake:6380"}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !first.closed {
		t.Fatalf("prior handle should be closed on reconnect")
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %s", m.State())
	}
}

func TestReconnectResetsDeltaBaseline(t *testing.T) {
	rules := []Rule{{ID: "rejected", Metric: "rejected_connections", Op: OpGreaterThan, Value: 0, Delta: true}}
	m := connectedMonitor(t, rules, newFakeConn("rejected_connections:7\r\n"))

	sample := models.MetricSample{Timestamp: time.Now(), Metrics: models.RedisMetrics{RejectedConnections: 7}}
	m.record(sample)
	m.record(sample)
	if got := len(m.ActiveAlerts()); got != 0 {
		t.Fatalf("flat counter raised %d alerts", got)
	}

	// Reconnect to a server whose counter sits below the old baseline. The
	// first sample of the new connection must not be compared against it.
	m.SetDialFunc(func(context.Context, redisconn.Config) (Conn, error) {
		return newFakeConn("rejected_connections:100\r\n"), nil
	})
	if err := m.Connect(context.Background(), redisconn.Config{Addr: "fake:6380"}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	sample.Metrics.RejectedConnections = 100
	m.record(sample)
	if got := len(m.ActiveAlerts()); got != 0 {
		t.Fatalf("delta rule fired across reconnect, got %d alerts", got)
	}

	sample.Metrics.RejectedConnections = 101
	m.record(sample)
	if got := len(m.ActiveAlerts()); got != 1 {
		t.Fatalf("delta rule should fire within the new connection, got %d", got)
	}
}

func TestSubscribeReceivesRaiseAndClear(t *testing.T) {
	rules := []Rule{{ID: "clients", Metric: "connected_clients", Op: OpGreaterThan, Value: 10}}
	m := New(rules, nil, Options{})

	ch, cancel := m.Subscribe()
	defer cancel()

	for _, event := range m.record(sampleWithClients(99)) {
		m.notify(event)
	}
	for _, event := range m.record(sampleWithClients(1)) {
		m.notify(event)
	}

	raise := <-ch
	if raise.ClearedAt != nil {
		t.Fatalf("first event should be the raise")
	}
	cleared := <-ch
	if cleared.ClearedAt == nil {
		t.Fatalf("second event should be the clear")
	}
}

func TestAlertRetentionKeepsActive(t *testing.T) {
	var rules []Rule
	for i := 0; i < 4; i++ {
		rules = append(rules, Rule{
			ID:     fmt.Sprintf("r%d", i),
			Metric: "connected_clients",
			Op:     OpGreaterThan,
			Value:  float64(i * 10),
		})
	}
	m := New(rules, nil, Options{AlertRetention: 2})

	m.record(sampleWithClients(100)) // all four raise
	if got := len(m.Alerts()); got != 4 {
		t.Fatalf("active alerts must survive retention, got %d", got)
	}
	m.record(sampleWithClients(0)) // all clear, retention trims to 2
	if got := len(m.Alerts()); got != 2 {
		t.Fatalf("retention bound = 2, got %d", got)
	}
}
