package models

import (
	"strings"
	"time"
)

// DeploymentType tags the monitored topology.
type DeploymentType string

const (
	DeploymentStandalone DeploymentType = "standalone"
	DeploymentSentinel   DeploymentType = "sentinel"
	DeploymentCluster    DeploymentType = "cluster"
)

// Valid reports whether the deployment type is a known topology.
func (d DeploymentType) Valid() bool {
	switch d {
	case DeploymentStandalone, DeploymentSentinel, DeploymentCluster:
		return true
	}
	return false
}

// RedisMetrics is the flattened snapshot of the INFO fields the assistant
// cares about. Fields default to zero when the server does not report them.
type RedisMetrics struct {
	UsedMemory              int64   `json:"used_memory"`
	UsedMemoryPeak          int64   `json:"used_memory_peak"`
	UsedMemoryRSS           int64   `json:"used_memory_rss"`
	Maxmemory               int64   `json:"maxmemory"`
	MemFragmentationRatio   float64 `json:"mem_fragmentation_ratio"`
	EvictedKeys             int64   `json:"evicted_keys"`
	ConnectedClients        int64   `json:"connected_clients"`
	BlockedClients          int64   `json:"blocked_clients"`
	RejectedConnections     int64   `json:"rejected_connections"`
	TotalConnections        int64   `json:"total_connections_received"`
	TotalCommandsProcessed  int64   `json:"total_commands_processed"`
	InstantaneousOpsPerSec  int64   `json:"instantaneous_ops_per_sec"`
	KeyspaceHits            int64   `json:"keyspace_hits"`
	KeyspaceMisses          int64   `json:"keyspace_misses"`
	Role                    string  `json:"role,omitempty"`
	ConnectedSlaves         int64   `json:"connected_slaves"`
	MasterLinkStatus        string  `json:"master_link_status,omitempty"`
	ClusterEnabled          bool    `json:"cluster_enabled"`
	ClusterState            string  `json:"cluster_state,omitempty"`
	ClusterSlotsOK          int64   `json:"cluster_slots_ok"`
	ClusterSlotsFail        int64   `json:"cluster_slots_fail"`
	RDBLastBgsaveStatus     string  `json:"rdb_last_bgsave_status,omitempty"`
	RDBChangesSinceLastSave int64   `json:"rdb_changes_since_last_save"`
	AOFEnabled              bool    `json:"aof_enabled"`
	AOFLastBgrewriteStatus  string  `json:"aof_last_bgrewrite_status,omitempty"`
	Loading                 bool    `json:"loading"`
	RedisVersion            string  `json:"redis_version,omitempty"`
	UptimeInSeconds         int64   `json:"uptime_in_seconds"`
}

// MemoryUsagePercent returns used memory as a percentage of maxmemory, or 0
// when no limit is configured.
func (m *RedisMetrics) MemoryUsagePercent() float64 {
	if m.Maxmemory <= 0 {
		return 0
	}
	return float64(m.UsedMemory) / float64(m.Maxmemory) * 100
}

// HitRate returns the keyspace hit percentage, or 0 with no traffic.
func (m *RedisMetrics) HitRate() float64 {
	total := m.KeyspaceHits + m.KeyspaceMisses
	if total <= 0 {
		return 0
	}
	return float64(m.KeyspaceHits) / float64(total) * 100
}

// IncidentInput is the transient description of an incident submitted for
// analysis. At least one of ErrorLogs or Metrics must carry a signal.
type IncidentInput struct {
	Timestamp      time.Time      `json:"timestamp"`
	ErrorLogs      []string       `json:"error_logs"`
	Metrics        *RedisMetrics  `json:"metrics,omitempty"`
	RedisInfo      string         `json:"redis_info,omitempty"`
	RedisVersion   string         `json:"redis_version,omitempty"`
	DeploymentType DeploymentType `json:"deployment_type,omitempty"`
	Description    string         `json:"description,omitempty"`
}

// Normalize fills defaults for optional fields.
func (in *IncidentInput) Normalize() {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	if in.RedisVersion == "" {
		in.RedisVersion = "7.0.0"
	}
	if !in.DeploymentType.Valid() {
		in.DeploymentType = DeploymentStandalone
	}
}

// HasSignal reports whether the input carries analysable content.
func (in *IncidentInput) HasSignal() bool {
	for _, line := range in.ErrorLogs {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return in.Metrics != nil
}
