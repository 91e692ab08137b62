package library

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies required by the store service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	Thumbnailer Thumbnailer
	Logger      *zap.Logger
	// CoalesceWindow bounds how long change notifications are batched.
	// Zero selects the default window.
	CoalesceWindow time.Duration
	// After overrides the notifier's wait primitive; tests inject a channel
	// here so coalescing can be driven without wall-clock sleeps.
	After func(time.Duration) <-chan time.Time
}

// Service provides durable CRUD over the media library: lessons, figures,
// grouping entities, binary blobs, and the deletion tombstone log. Every
// mutating call marks the coalescing notifier so external observers see one
// signal per burst of writes.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      IDProvider
	thumbs   Thumbnailer
	logger   *zap.Logger
	notifier *Notifier
	blobs    *HandleCache
}

// NewService constructs the store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("library: database connection required")
	}
	if cfg.Thumbnailer == nil {
		return nil, fmt.Errorf("library: thumbnailer required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewTimeRandomProvider(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		ids:      ids,
		thumbs:   cfg.Thumbnailer,
		logger:   logger,
		notifier: NewNotifier(cfg.CoalesceWindow, cfg.After),
		blobs:    NewHandleCache(),
	}, nil
}

// Notifier exposes the change-notification fan-out for subscribers and for
// sibling services that mutate store-adjacent state.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Blobs exposes the process-wide blob-handle cache.
func (s *Service) Blobs() *HandleCache {
	return s.blobs
}

// Close stops the notifier loop.
func (s *Service) Close() {
	s.notifier.Close()
}

// stamp formats the current clock time in the canonical modified-time layout.
func (s *Service) stamp() string {
	return s.clock().UTC().Format(timeLayout)
}

// stampOr returns the explicit timestamp when supplied, otherwise the
// clock's. Remote writes supply the remote's timestamp to preserve it.
func (s *Service) stampOr(explicit *string) string {
	if explicit != nil && *explicit != "" {
		return *explicit
	}
	return s.stamp()
}

func (s *Service) notify() {
	s.notifier.Mark()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("library store error", attrs...)
}

// allTables lists every collection the store owns, in delete-safe order.
// Used by Wipe and by the backup import's clear phase.
var allTables = []string{
	"figure_thumbnails",
	"lesson_thumbnails",
	"videos",
	"figures",
	"lessons",
	"lesson_categories",
	"figure_categories",
	"schools",
	"instructors",
	"drive_tombstones",
}

// Wipe clears every entity, blob, and tombstone collection. The blob-handle
// cache is emptied first so no handle survives pointing at a removed row.
// Settings partitions are left intact.
func (s *Service) Wipe(ctx context.Context) error {
	s.blobs.Clear()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range allTables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logError("library.wipe", "clear_failed", err)
		return err
	}
	s.notify()
	return nil
}
