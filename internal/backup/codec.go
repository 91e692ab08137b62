package backup

import (
	"fmt"
	"time"

	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProgressFunc receives monotonic progress in [0, 1]. A failed import
// reports 0 before the error propagates.
type ProgressFunc func(fraction float64)

// Config describes the dependencies required by the codec.
type Config struct {
	Database   *gorm.DB
	Library    *library.Service
	Settings   *settings.Engine
	Clock      func() time.Time
	IDProvider library.IDProvider
	Logger     *zap.Logger
}

// Codec exports the full store into a Document and restores one.
type Codec struct {
	db       *gorm.DB
	library  *library.Service
	settings *settings.Engine
	clock    func() time.Time
	ids      library.IDProvider
	logger   *zap.Logger
}

// NewCodec constructs the codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("backup: database connection required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("backup: library service required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("backup: settings engine required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = library.NewTimeRandomProvider(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{
		db:       cfg.Database,
		library:  cfg.Library,
		settings: cfg.Settings,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}, nil
}

func progressOrNop(onProgress ProgressFunc) ProgressFunc {
	if onProgress == nil {
		return func(float64) {}
	}
	return onProgress
}
