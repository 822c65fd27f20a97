package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeBlockPositions = "2026-08-20_normalize_block_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeBlockPositions, apply: normalizeBlockPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeBlockPositions rewrites each sibling group to contiguous positions
// starting at zero. Databases written before reorder batches became atomic
// can hold duplicate or gapped positions; render order stays stable because
// ties break on creation time.
func normalizeBlockPositions(db *gorm.DB) error {
	const statement = `
WITH ranked AS (
	SELECT id,
	       ROW_NUMBER() OVER (
	           PARTITION BY note_id, COALESCE(parent_id, '')
	           ORDER BY position, created_at, id
	       ) - 1 AS new_position
	FROM blocks
)
UPDATE blocks
SET position = (SELECT new_position FROM ranked WHERE ranked.id = blocks.id)
WHERE position <> (SELECT new_position FROM ranked WHERE ranked.id = blocks.id);`
	return db.Exec(statement).Error
}
