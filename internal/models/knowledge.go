package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether the severity is one of the enumerated values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ParseSeverity normalises a string into a Severity, defaulting to medium.
func ParseSeverity(value string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return SeverityMedium
	}
	return s
}

// Category enumerates the troubleshooting knowledge domains.
type Category string

const (
	CategoryMemory      Category = "memory"
	CategoryConnection  Category = "connection"
	CategoryReplication Category = "replication"
	CategoryCluster     Category = "cluster"
	CategoryPerformance Category = "performance"
	CategoryPersistence Category = "persistence"
	CategorySecurity    Category = "security"
)

// Valid reports whether the category is one of the enumerated values.
func (c Category) Valid() bool {
	switch c {
	case CategoryMemory, CategoryConnection, CategoryReplication, CategoryCluster,
		CategoryPerformance, CategoryPersistence, CategorySecurity:
		return true
	}
	return false
}

// ParseCategory normalises a string into a Category, defaulting to performance.
func ParseCategory(value string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.Valid() {
		return CategoryPerformance
	}
	return c
}

// KnowledgeDocument is a single troubleshooting playbook entry.
type KnowledgeDocument struct {
	ID             string    `json:"id" yaml:"id"`
	Category       Category  `json:"category" yaml:"category"`
	Title          string    `json:"title" yaml:"title"`
	Symptoms       []string  `json:"symptoms" yaml:"symptoms"`
	RootCauses     []string  `json:"root_causes" yaml:"root_causes"`
	DiagnosisSteps []string  `json:"diagnosis_steps" yaml:"diagnosis_steps"`
	Solutions      []string  `json:"solutions" yaml:"solutions"`
	Prevention     []string  `json:"prevention" yaml:"prevention"`
	RelatedMetrics []string  `json:"related_metrics,omitempty" yaml:"related_metrics"`
	Severity       Severity  `json:"severity" yaml:"severity"`
	Tags           []string  `json:"tags,omitempty" yaml:"tags"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the store invariants for a document.
func (d *KnowledgeDocument) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("unknown category %q", d.Category)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("document title is required")
	}
	if !d.Severity.Valid() {
		d.Severity = SeverityMedium
	}
	return nil
}

// EmbeddingText renders the document into the canonical text fed to the
// embedding backend. The section order is fixed; changing it changes every
// stored vector.
func (d *KnowledgeDocument) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "제목: %s\n", d.Title)
	fmt.Fprintf(&b, "카테고리: %s\n", d.Category)
	fmt.Fprintf(&b, "심각도: %s\n", d.Severity)

	writeBullets := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n" + header + "\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	writeNumbered := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n" + header + "\n")
		for i, item := range items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item)
		}
	}

	writeBullets("증상:", d.Symptoms)
	writeBullets("근본 원인:", d.RootCauses)
	writeNumbered("진단 절차:", d.DiagnosisSteps)
	writeNumbered("해결 방법:", d.Solutions)
	writeBullets("예방 조치:", d.Prevention)

	if len(d.Tags) > 0 {
		fmt.Fprintf(&b, "\n태그: %s\n", strings.Join(d.Tags, ", "))
	}
	return strings.TrimSpace(b.String())
}
