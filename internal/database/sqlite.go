package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// groupingTables lists the four tables backed by the shared Grouping model.
var groupingTables = []library.GroupingKind{
	library.GroupingLessonCategory,
	library.GroupingFigureCategory,
	library.GroupingSchool,
	library.GroupingInstructor,
}

// Open establishes a SQLite connection, creates any missing collections, and
// runs the ordered schema migrations.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&library.Lesson{},
		&library.Figure{},
		&library.VideoBlob{},
		&library.LessonThumbnail{},
		&library.FigureThumbnail{},
		&library.Tombstone{},
		&settings.Row{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}
	for _, kind := range groupingTables {
		if err := db.Table(kind.Table()).AutoMigrate(&library.Grouping{}); err != nil {
			return nil, err
		}
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
