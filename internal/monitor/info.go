package monitor

import (
	"strconv"
	"strings"

	"github.com/redisops/sre-assistant/internal/models"
)

// ParseInfo turns INFO command output into a metrics snapshot. Unknown
// fields are ignored; missing fields keep their zero value.
func ParseInfo(raw string) models.RedisMetrics {
	var m models.RedisMetrics
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch key {
		case "used_memory":
			m.UsedMemory = parseInt(value)
		case "used_memory_peak":
			m.UsedMemoryPeak = parseInt(value)
		case "used_memory_rss":
			m.UsedMemoryRSS = parseInt(value)
		case "maxmemory":
			m.Maxmemory = parseInt(value)
		case "mem_fragmentation_ratio":
			m.MemFragmentationRatio = parseFloat(value)
		case "evicted_keys":
			m.EvictedKeys = parseInt(value)
		case "connected_clients":
			m.ConnectedClients = parseInt(value)
		case "blocked_clients":
			m.BlockedClients = parseInt(value)
		case "rejected_connections":
			m.RejectedConnections = parseInt(value)
		case "total_connections_received":
			m.TotalConnections = parseInt(value)
		case "total_commands_processed":
			m.TotalCommandsProcessed = parseInt(value)
		case "instantaneous_ops_per_sec":
			m.InstantaneousOpsPerSec = parseInt(value)
		case "keyspace_hits":
			m.KeyspaceHits = parseInt(value)
		case "keyspace_misses":
			m.KeyspaceMisses = parseInt(value)
		case "role":
			m.Role = value
		case "connected_slaves":
			m.ConnectedSlaves = parseInt(value)
		case "master_link_status":
			m.MasterLinkStatus = value
		case "cluster_enabled":
			m.ClusterEnabled = value == "1"
		case "cluster_state":
			m.ClusterState = value
		case "cluster_slots_ok":
			m.ClusterSlotsOK = parseInt(value)
		case "cluster_slots_fail":
			m.ClusterSlotsFail = parseInt(value)
		case "rdb_last_bgsave_status":
			m.RDBLastBgsaveStatus = value
		case "rdb_changes_since_last_save":
			m.RDBChangesSinceLastSave = parseInt(value)
		case "aof_enabled":
			m.AOFEnabled = value == "1"
		case "aof_last_bgrewrite_status":
			m.AOFLastBgrewriteStatus = value
		case "loading":
			m.Loading = value == "1"
		case "redis_version":
			m.RedisVersion = value
		case "uptime_in_seconds":
			m.UptimeInSeconds = parseInt(value)
		}
	}
	return m
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
