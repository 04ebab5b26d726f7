package db

import (
	"fmt"
)

// Migrate creates or updates the schema.
func (h *Handle) Migrate() error {
	if err := h.DB.AutoMigrate(
		&Category{},
		&Product{},
		&ImportFile{},
		&KV{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}
	return nil
}
