package ui

import "shardrun/internal/domain"

// Viewer displays run results
type Viewer interface {
	View(results *domain.RunResultsOutput) error
}
