package monitor

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/redisops/sre-assistant/internal/models"
)

// Op is a threshold comparison.
type Op string

const (
	OpGreaterThan Op = "gt"
	OpLessThan    Op = "lt"
	OpEquals      Op = "eq"
)

// Rule is one configured threshold check. Delta rules compare the per-tick
// increase of a monotonic counter instead of its absolute value.
type Rule struct {
	ID       string          `yaml:"id"`
	Metric   string          `yaml:"metric"`
	Op       Op              `yaml:"op"`
	Value    float64         `yaml:"value"`
	Severity models.Severity `yaml:"severity"`
	Category models.Category `yaml:"category"`
	Message  string          `yaml:"message"`
	Delta    bool            `yaml:"delta"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule pack from path. A missing file yields the default
// pack; a present but malformed file is an error.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRules(), nil
		}
		return nil, err
	}
	var cfg ruleFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	for i := range cfg.Rules {
		if err := validateRule(&cfg.Rules[i]); err != nil {
			return nil, fmt.Errorf("rule pack %s: %w", path, err)
		}
	}
	return cfg.Rules, nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return errors.New("rule without id")
	}
	if _, ok := metricValue(models.RedisMetrics{}, r.Metric); !ok {
		return fmt.Errorf("rule %s references unknown metric %q", r.ID, r.Metric)
	}
	switch r.Op {
	case OpGreaterThan, OpLessThan, OpEquals:
	default:
		return fmt.Errorf("rule %s has unknown op %q", r.ID, r.Op)
	}
	if !r.Severity.Valid() {
		r.Severity = models.SeverityMedium
	}
	if !r.Category.Valid() {
		r.Category = models.CategoryPerformance
	}
	return nil
}

// DefaultRules mirrors the built-in health checks applied when no rule pack
// is configured.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "memory-critical", Metric: "memory_usage_percent", Op: OpGreaterThan, Value: 90,
			Severity: models.SeverityCritical, Category: models.CategoryMemory,
			Message: "memory usage above 90% of maxmemory"},
		{ID: "memory-warning", Metric: "memory_usage_percent", Op: OpGreaterThan, Value: 80,
			Severity: models.SeverityMedium, Category: models.CategoryMemory,
			Message: "memory usage above 80% of maxmemory"},
		{ID: "clients-critical", Metric: "connected_clients", Op: OpGreaterThan, Value: 5000,
			Severity: models.SeverityCritical, Category: models.CategoryConnection,
			Message: "connected clients above critical threshold"},
		{ID: "clients-warning", Metric: "connected_clients", Op: OpGreaterThan, Value: 1000,
			Severity: models.SeverityMedium, Category: models.CategoryConnection,
			Message: "connected clients above warning threshold"},
		{ID: "blocked-clients", Metric: "blocked_clients", Op: OpGreaterThan, Value: 50,
			Severity: models.SeverityMedium, Category: models.CategoryConnection,
			Message: "blocked clients above threshold"},
		{ID: "rejected-connections", Metric: "rejected_connections", Op: OpGreaterThan, Value: 0, Delta: true,
			Severity: models.SeverityCritical, Category: models.CategoryConnection,
			Message: "server rejected new connections this interval"},
		{ID: "evicted-keys", Metric: "evicted_keys", Op: OpGreaterThan, Value: 0, Delta: true,
			Severity: models.SeverityMedium, Category: models.CategoryMemory,
			Message: "keys evicted this interval"},
		{ID: "fragmentation", Metric: "mem_fragmentation_ratio", Op: OpGreaterThan, Value: 1.5,
			Severity: models.SeverityMedium, Category: models.CategoryMemory,
			Message: "memory fragmentation ratio high"},
	}
}

// metricValue resolves a rule's metric name against a sample. Derived
// metrics use the same names the status API exposes.
func metricValue(m models.RedisMetrics, name string) (float64, bool) {
	switch name {
	case "used_memory":
		return float64(m.UsedMemory), true
	case "used_memory_peak":
		return float64(m.UsedMemoryPeak), true
	case "used_memory_rss":
		return float64(m.UsedMemoryRSS), true
	case "maxmemory":
		return float64(m.Maxmemory), true
	case "memory_usage_percent":
		return m.MemoryUsagePercent(), true
	case "mem_fragmentation_ratio":
		return m.MemFragmentationRatio, true
	case "evicted_keys":
		return float64(m.EvictedKeys), true
	case "connected_clients":
		return float64(m.ConnectedClients), true
	case "blocked_clients":
		return float64(m.BlockedClients), true
	case "rejected_connections":
		return float64(m.RejectedConnections), true
	case "total_connections_received":
		return float64(m.TotalConnections), true
	case "total_commands_processed":
		return float64(m.TotalCommandsProcessed), true
	case "instantaneous_ops_per_sec":
		return float64(m.InstantaneousOpsPerSec), true
	case "keyspace_hits":
		return float64(m.KeyspaceHits), true
	case "keyspace_misses":
		return float64(m.KeyspaceMisses), true
	case "hit_rate":
		return m.HitRate(), true
	case "connected_slaves":
		return float64(m.ConnectedSlaves), true
	case "cluster_slots_fail":
		return float64(m.ClusterSlotsFail), true
	case "rdb_changes_since_last_save":
		return float64(m.RDBChangesSinceLastSave), true
	case "uptime_in_seconds":
		return float64(m.UptimeInSeconds), true
	}
	return 0, false
}

// violated evaluates the rule against the current sample. prev carries the
// previous sample for delta rules; hasPrev is false on the first tick, where
// delta rules never fire.
func (r *Rule) violated(curr, prev models.RedisMetrics, hasPrev bool) (observed float64, ok bool) {
	value, known := metricValue(curr, r.Metric)
	if !known {
		return 0, false
	}
	if r.Delta {
		if !hasPrev {
			return 0, false
		}
		prevValue, _ := metricValue(prev, r.Metric)
		value -= prevValue
	}
	observed = value
	switch r.Op {
	case OpGreaterThan:
		return observed, value > r.Value
	case OpLessThan:
		return observed, value < r.Value
	case OpEquals:
		return observed, value == r.Value
	}
	return observed, false
}
