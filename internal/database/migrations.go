package database

import (
	"errors"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneEmptyLanguageNames = "2024-06-01_prune_empty_language_names"

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

var migrations = []migrationDefinition{
	{name: migrationPruneEmptyLanguageNames, apply: pruneEmptyLanguageNames},
}

// Migrate creates the profile schema and applies each data migration once.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append(profiles.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(transaction *gorm.DB) error {
			if err := migration.apply(transaction); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return transaction.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Blank names predate catalog filtering; memberships pointing at them cascade.
func pruneEmptyLanguageNames(db *gorm.DB) error {
	return db.Where("TRIM(name) = ''").Delete(&profiles.Language{}).Error
}
