package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/certificates"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	// The reference-number allocator increments a single pre-existing row.
	seed := &types.CertificateSequence{ID: certificates.SequenceRowID, LastNumber: 0}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return fmt.Errorf("seed certificate_sequence: %w", err)
	}
	return nil
}
