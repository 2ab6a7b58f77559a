// Package faultinject provokes controlled failures on a monitored Redis
// server: memory pressure, connection exhaustion and slow commands. Every
// injected artifact is tracked so Cleanup can reverse it.
package faultinject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redisops/sre-assistant/internal/monitor"
	"github.com/redisops/sre-assistant/internal/redisconn"
)

const (
	memoryKeyPrefix = "test:memory:"
	slowKeyPrefix   = "slowtest:"
	slowKeyCount    = 10000
)

// ErrNotConnected signals an injection attempt without an active connection.
var ErrNotConnected = monitor.ErrNotConnected

// Source provides the connection faults are injected through. The Monitor
// satisfies it.
type Source interface {
	Conn() (monitor.Conn, error)
	Dial(ctx context.Context) (monitor.Conn, error)
}

// FillReport describes the outcome of a FillMemory call.
type FillReport struct {
	KeysCreated  int  `json:"keys_created"`
	OOMTriggered bool `json:"oom_triggered"`
}

// ConnReport describes the outcome of an ExhaustConnections call.
type ConnReport struct {
	Opened       int  `json:"opened"`
	Failed       int  `json:"failed"`
	LimitReached bool `json:"limit_reached"`
}

// SlowReport describes the outcome of a TriggerSlowOperation call.
type SlowReport struct {
	KeysScanned int           `json:"keys_scanned"`
	Elapsed     time.Duration `json:"elapsed"`
}

// CleanupReport describes what Cleanup removed.
type CleanupReport struct {
	KeysDeleted       int `json:"keys_deleted"`
	ConnectionsClosed int `json:"connections_closed"`
}

// Injector tracks injected faults against one monitored server.
type Injector struct {
	source Source
	logger *slog.Logger

	mu         sync.Mutex
	memoryKeys int
	slowSeeded bool
	held       []monitor.Conn
}

// New constructs an injector over the given connection source.
func New(source Source, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{source: source, logger: logger}
}

// FillMemory writes sizeMB one-megabyte values. Hitting the server's memory
// limit is the expected outcome, reported rather than returned as an error.
func (inj *Injector) FillMemory(ctx context.Context, sizeMB int) (FillReport, error) {
	if sizeMB <= 0 {
		sizeMB = 50
	}
	conn, err := inj.source.Conn()
	if err != nil {
		return FillReport{}, err
	}

	value := strings.Repeat("x", 1024*1024)
	var report FillReport

	inj.mu.Lock()
	next := inj.memoryKeys
	inj.mu.Unlock()

	for i := 0; i < sizeMB; i++ {
		key := fmt.Sprintf("%s%d", memoryKeyPrefix, next+i)
		if err := conn.Set(ctx, key, value); err != nil {
			if redisconn.IsServerError(err) {
				report.OOMTriggered = true
				break
			}
			inj.track(report.KeysCreated)
			return report, err
		}
		report.KeysCreated++
	}

	inj.track(report.KeysCreated)
	inj.logger.Info("memory fill injected",
		"keys_created", report.KeysCreated, "oom", report.OOMTriggered)
	return report, nil
}

func (inj *Injector) track(created int) {
	inj.mu.Lock()
	inj.memoryKeys += created
	inj.mu.Unlock()
}

// ExhaustConnections opens and holds count extra connections. Opening stops
// early when the server refuses new clients.
func (inj *Injector) ExhaustConnections(ctx context.Context, count int) (ConnReport, error) {
	if count <= 0 {
		count = 50
	}
	if _, err := inj.source.Conn(); err != nil {
		return ConnReport{}, err
	}

	var report ConnReport
	var opened []monitor.Conn
	for i := 0; i < count; i++ {
		conn, err := inj.source.Dial(ctx)
		if err != nil {
			report.Failed++
			if errors.Is(err, monitor.ErrNotConnected) {
				break
			}
			if strings.Contains(err.Error(), "max number of clients") {
				report.LimitReached = true
				break
			}
			break
		}
		opened = append(opened, conn)
		report.Opened++
	}

	inj.mu.Lock()
	inj.held = append(inj.held, opened...)
	inj.mu.Unlock()

	inj.logger.Info("connections injected",
		"opened", report.Opened, "failed", report.Failed, "limit_reached", report.LimitReached)
	return report, nil
}

// TriggerSlowOperation seeds a batch of keys and runs a full KEYS scan over
// them, a known O(N) operation, reporting how long the server took.
func (inj *Injector) TriggerSlowOperation(ctx context.Context) (SlowReport, error) {
	conn, err := inj.source.Conn()
	if err != nil {
		return SlowReport{}, err
	}

	inj.mu.Lock()
	seeded := inj.slowSeeded
	inj.mu.Unlock()

	if !seeded {
		for i := 0; i < slowKeyCount; i++ {
			if err := conn.Set(ctx, fmt.Sprintf("%s%d", slowKeyPrefix, i), fmt.Sprintf("value%d", i)); err != nil {
				return SlowReport{}, err
			}
		}
		inj.mu.Lock()
		inj.slowSeeded = true
		inj.mu.Unlock()
	}

	start := time.Now()
	keys, err := conn.Keys(ctx, slowKeyPrefix+"*")
	if err != nil {
		return SlowReport{}, err
	}
	report := SlowReport{KeysScanned: len(keys), Elapsed: time.Since(start)}
	inj.logger.Info("slow operation injected",
		"keys_scanned", report.KeysScanned, "elapsed", report.Elapsed)
	return report, nil
}

// Cleanup removes every injected key and closes held connections. Safe to
// call repeatedly and when nothing was injected.
func (inj *Injector) Cleanup(ctx context.Context) (CleanupReport, error) {
	conn, err := inj.source.Conn()
	if err != nil {
		return CleanupReport{}, err
	}

	var report CleanupReport
	for _, pattern := range []string{memoryKeyPrefix + "*", slowKeyPrefix + "*"} {
		deleted, err := sweep(ctx, conn, pattern)
		report.KeysDeleted += deleted
		if err != nil {
			return report, err
		}
	}

	inj.mu.Lock()
	held := inj.held
	inj.held = nil
	inj.memoryKeys = 0
	inj.slowSeeded = false
	inj.mu.Unlock()

	for _, c := range held {
		c.Close()
		report.ConnectionsClosed++
	}

	inj.logger.Info("injected faults cleaned up",
		"keys_deleted", report.KeysDeleted, "connections_closed", report.ConnectionsClosed)
	return report, nil
}

// sweep SCAN-deletes every key matching pattern.
func sweep(ctx context.Context, conn monitor.Conn, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		next, keys, err := conn.Scan(ctx, cursor, pattern, 1000)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := conn.Del(ctx, keys...)
			deleted += int(n)
			if err != nil {
				return deleted, err
			}
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
