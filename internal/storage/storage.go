package storage

import (
	"shardrun/internal/config"
	"shardrun/internal/domain"
)

// Storage persists and loads run results (e.g. for the report viewer).
type Storage interface {
	Save(output *domain.RunResultsOutput) error
	Load() (*domain.RunResultsOutput, error)
}

// JSONStorage stores results in a JSON file under the configured output path.
type JSONStorage struct {
	cfg *config.Config
}

// NewJSONStorage returns a Storage that reads/writes the config's output JSON path.
func NewJSONStorage(cfg *config.Config) *JSONStorage {
	return &JSONStorage{cfg: cfg}
}
