package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSplitSettingsPartitions = "2025-06-14_split_settings_partitions"
	migrationRekeyLegacyThumbnails   = "2025-09-02_rekey_legacy_thumbnails"
	migrationRenameLegacyThumbTime   = "2026-01-10_rename_time_to_thumb_time_ms"
)

// legacyCombinedPartition is the partition key old installations used for
// their single flat settings object.
const legacyCombinedPartition = "all"

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

// applyMigrations runs each unapplied migration in order and records it.
// Every step also checks the legacy shape it repairs before writing, so an
// upgrade interrupted mid-step is safe to re-run.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSplitSettingsPartitions, apply: splitSettingsPartitions},
		{name: migrationRekeyLegacyThumbnails, apply: rekeyLegacyThumbnails},
		{name: migrationRenameLegacyThumbTime, apply: renameLegacyThumbTime},
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

// splitSettingsPartitions breaks the legacy single settings row into the
// device and sync partitions. Existing partition rows are never overwritten,
// so a re-run after a partial apply only fills what is still missing.
func splitSettingsPartitions(db *gorm.DB) error {
	var legacy settings.Row
	err := db.Where("partition = ?", legacyCombinedPartition).Take(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	combined := struct {
		settings.DeviceSettings
		settings.SyncSettings
	}{
		DeviceSettings: settings.DefaultDevice(),
		SyncSettings:   settings.DefaultSync(),
	}
	if err := json.Unmarshal([]byte(legacy.PayloadJSON), &combined); err != nil {
		return err
	}
	devicePayload, err := json.Marshal(combined.DeviceSettings)
	if err != nil {
		return err
	}
	syncPayload, err := json.Marshal(combined.SyncSettings)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		rows := []settings.Row{
			{Partition: settings.PartitionDevice, PayloadJSON: string(devicePayload)},
			{Partition: settings.PartitionSync, PayloadJSON: string(syncPayload)},
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		return tx.Where("partition = ?", legacyCombinedPartition).Delete(&settings.Row{}).Error
	})
}

// rekeyLegacyThumbnails moves rows out of the old combined "thumbnails"
// table, which keyed lesson and figure previews by owner id in one store,
// into the per-collection tables. Rows already moved are skipped.
func rekeyLegacyThumbnails(db *gorm.DB) error {
	if !db.Migrator().HasTable("thumbnails") {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			INSERT INTO lesson_thumbnails (lesson_id, data)
			SELECT t.owner_id, t.data FROM thumbnails t
			WHERE t.owner_id IN (SELECT id FROM lessons)
			  AND t.owner_id NOT IN (SELECT lesson_id FROM lesson_thumbnails)`).Error; err != nil {
			return err
		}
		if err := tx.Exec(`
			INSERT INTO figure_thumbnails (figure_id, data)
			SELECT t.owner_id, t.data FROM thumbnails t
			WHERE t.owner_id IN (SELECT id FROM figures)
			  AND t.owner_id NOT IN (SELECT figure_id FROM figure_thumbnails)`).Error; err != nil {
			return err
		}
		return tx.Exec("DROP TABLE thumbnails").Error
	})
}

// renameLegacyThumbTime copies the deprecated "time" column into
// thumb_time_ms on both item tables and drops it.
func renameLegacyThumbTime(db *gorm.DB) error {
	for _, table := range []string{"lessons", "figures"} {
		hasColumn := false
		columns, err := db.Migrator().ColumnTypes(table)
		if err != nil {
			return err
		}
		for _, column := range columns {
			if column.Name() == "time" {
				hasColumn = true
				break
			}
		}
		if !hasColumn {
			continue
		}
		if err := db.Exec("UPDATE " + table + " SET thumb_time_ms = time WHERE thumb_time_ms = 0").Error; err != nil {
			return err
		}
		if err := db.Exec("ALTER TABLE " + table + " DROP COLUMN time").Error; err != nil {
			return err
		}
	}
	return nil
}
