package analyzer

import (
	"fmt"
	"strings"

	"github.com/redisops/sre-assistant/internal/models"
)

// incidentPrompt renders the incident as the analysis request shown to the
// generative backend. Section order is fixed so the prompt is deterministic
// for a given input.
func incidentPrompt(in models.IncidentInput) string {
	var b strings.Builder

	b.WriteString("## Redis 장애 상황 분석 요청\n\n")
	b.WriteString("### 기본 정보\n")
	fmt.Fprintf(&b, "- 발생 시간: %s\n", in.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Redis 버전: %s\n", in.RedisVersion)
	fmt.Fprintf(&b, "- 배포 타입: %s\n", in.DeploymentType)

	b.WriteString("\n### 에러 로그\n```\n")
	b.WriteString(strings.Join(in.ErrorLogs, "\n"))
	b.WriteString("\n```\n")

	if m := in.Metrics; m != nil {
		b.WriteString("\n### 메트릭 정보\n")
		fmt.Fprintf(&b, "- used_memory: %d\n", m.UsedMemory)
		fmt.Fprintf(&b, "- maxmemory: %d\n", m.Maxmemory)
		fmt.Fprintf(&b, "- connected_clients: %d\n", m.ConnectedClients)
		fmt.Fprintf(&b, "- blocked_clients: %d\n", m.BlockedClients)
		fmt.Fprintf(&b, "- rejected_connections: %d\n", m.RejectedConnections)
		fmt.Fprintf(&b, "- ops/sec: %d\n", m.InstantaneousOpsPerSec)
		fmt.Fprintf(&b, "- master_link_status: %s\n", m.MasterLinkStatus)
		fmt.Fprintf(&b, "- cluster_state: %s\n", m.ClusterState)
	}

	if in.Description != "" {
		b.WriteString("\n### 사용자 설명\n")
		b.WriteString(in.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// contextExcerpts renders retrieved documents as prompt context, bounded so
// an oversized knowledge base cannot blow the prompt budget.
func contextExcerpts(docs []models.KnowledgeDocument, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = 8000
	}
	excerpts := make([]string, 0, len(docs))
	total := 0
	for _, doc := range docs {
		text := doc.EmbeddingText()
		if total+len(text) > maxChars {
			break
		}
		total += len(text)
		excerpts = append(excerpts, text)
	}
	return excerpts
}
