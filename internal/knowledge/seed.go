// Package knowledge reads troubleshooting document seed files.
package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/redisops/sre-assistant/internal/models"
)

type seedFile struct {
	Documents []models.KnowledgeDocument `yaml:"documents"`
}

// LoadSeedFile parses a YAML seed file into knowledge documents. Every
// document is validated; one bad entry fails the whole file so seed packs
// stay trustworthy.
func LoadSeedFile(path string) ([]models.KnowledgeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i := range file.Documents {
		if err := file.Documents[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed file %s, document %d: %w", path, i, err)
		}
	}
	return file.Documents, nil
}
