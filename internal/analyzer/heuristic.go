package analyzer

import (
	"strings"

	"github.com/redisops/sre-assistant/internal/models"
)

// classification is the locally derived severity/category hint used when the
// generative backend is unavailable or returns an unusable response.
type classification struct {
	Severity models.Severity
	Category models.Category
	Summary  string
	Actions  []string
}

type keywordRule struct {
	keywords []string
	class    classification
}

// Rules are checked in order; the first match wins. Memory and connection
// exhaustion outrank replication and cluster problems, which outrank
// persistence and general slowness.
var keywordRules = []keywordRule{
	{
		keywords: []string{"oom", "out of memory", "maxmemory", "can't save in background"},
		class: classification{
			Severity: models.SeverityCritical,
			Category: models.CategoryMemory,
			Summary:  "메모리 한도 초과로 인한 장애로 추정됩니다.",
			Actions: []string{
				"INFO memory로 used_memory와 maxmemory를 확인하세요.",
				"maxmemory-policy 설정을 확인하고 필요 시 eviction 정책을 조정하세요.",
				"대형 키를 확인하세요: redis-cli --bigkeys",
			},
		},
	},
	{
		keywords: []string{"max number of clients", "max clients", "connection refused", "connection reset"},
		class: classification{
			Severity: models.SeverityHigh,
			Category: models.CategoryConnection,
			Summary:  "클라이언트 연결 한도 초과 또는 연결 장애로 추정됩니다.",
			Actions: []string{
				"CLIENT LIST로 연결 수와 유휴 연결을 확인하세요.",
				"maxclients 설정과 OS 파일 디스크립터 한도를 확인하세요.",
			},
		},
	},
	{
		keywords: []string{"master link", "master_link_status:down", "sync error", "replication"},
		class: classification{
			Severity: models.SeverityCritical,
			Category: models.CategoryReplication,
			Summary:  "복제 링크 장애로 추정됩니다.",
			Actions: []string{
				"INFO replication으로 master_link_status를 확인하세요.",
				"마스터와 레플리카 간 네트워크 연결을 점검하세요.",
			},
		},
	},
	{
		keywords: []string{"cluster_state:fail", "clusterdown", "cluster is down", "slot"},
		class: classification{
			Severity: models.SeverityCritical,
			Category: models.CategoryCluster,
			Summary:  "클러스터 상태 이상으로 추정됩니다.",
			Actions: []string{
				"CLUSTER INFO와 CLUSTER NODES로 실패한 노드와 슬롯 상태를 확인하세요.",
			},
		},
	},
	{
		keywords: []string{"bgsave", "rdb", "aof", "bgrewriteaof", "disk is full", "persistence"},
		class: classification{
			Severity: models.SeverityHigh,
			Category: models.CategoryPersistence,
			Summary:  "영속화(RDB/AOF) 실패로 추정됩니다.",
			Actions: []string{
				"INFO persistence로 rdb_last_bgsave_status와 aof_last_bgrewrite_status를 확인하세요.",
				"디스크 여유 공간을 확인하세요.",
			},
		},
	},
	{
		keywords: []string{"slow", "latency", "timeout", "blocked"},
		class: classification{
			Severity: models.SeverityMedium,
			Category: models.CategoryPerformance,
			Summary:  "명령 지연 또는 성능 저하로 추정됩니다.",
			Actions: []string{
				"SLOWLOG GET으로 느린 명령을 확인하세요.",
				"O(N) 명령(KEYS, SMEMBERS 등)의 사용 여부를 점검하세요.",
			},
		},
	},
}

// classify derives a severity/category hint from logs and metrics. Log
// keywords are checked first; metric thresholds fill in when the logs carry
// no recognisable signal.
func classify(in models.IncidentInput) classification {
	joined := strings.ToLower(strings.Join(in.ErrorLogs, "\n") + "\n" + in.Description)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(joined, kw) {
				return rule.class
			}
		}
	}

	if m := in.Metrics; m != nil {
		switch {
		case m.Maxmemory > 0 && m.MemoryUsagePercent() >= 90:
			return keywordRules[0].class
		case m.RejectedConnections > 0:
			return keywordRules[1].class
		case m.MasterLinkStatus == "down":
			return keywordRules[2].class
		case m.ClusterState == "fail":
			return keywordRules[3].class
		case m.RDBLastBgsaveStatus != "" && m.RDBLastBgsaveStatus != "ok":
			return keywordRules[4].class
		}
	}

	return classification{
		Severity: models.SeverityMedium,
		Category: models.CategoryPerformance,
		Summary:  "수집된 정보만으로는 원인을 특정하기 어렵습니다.",
		Actions: []string{
			"INFO all 출력과 최근 에러 로그를 수집해 다시 분석을 요청하세요.",
		},
	}
}
