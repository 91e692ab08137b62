package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stepvault/stepvault/internal/library"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Config describes the dependencies required by the settings engine.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// Notifier, when set, receives a mark on every non-silent settings
	// write so store subscribers observe settings changes too.
	Notifier *library.Notifier
}

// Engine assembles one logical settings object from the device-local and
// synchronizable partitions and applies optimistic updates with rollback.
type Engine struct {
	db       *gorm.DB
	clock    func() time.Time
	logger   *zap.Logger
	notifier *library.Notifier

	group singleflight.Group
	mu    sync.Mutex
	cache *Settings
}

// NewEngine constructs the settings engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("settings: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       cfg.Database,
		clock:    clock,
		logger:   logger,
		notifier: cfg.Notifier,
	}, nil
}

// Load returns the merged settings. Concurrent callers during a cache miss
// share one in-flight read. Merge order: device defaults, stored device
// partition, sync defaults, stored sync partition. The partitions do not
// overlap, so later sources only fill their own half.
func (e *Engine) Load(ctx context.Context) (Settings, error) {
	e.mu.Lock()
	if e.cache != nil {
		out := e.cache.Clone()
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	value, err, _ := e.group.Do("load", func() (any, error) {
		loaded, err := e.loadFromStore(ctx)
		if err != nil {
			return nil, err
		}
		e.setCache(loaded)
		return loaded.Clone(), nil
	})
	if err != nil {
		e.logger.Error("settings load failed", zap.Error(err))
		return Settings{}, err
	}
	return value.(Settings), nil
}

func (e *Engine) loadFromStore(ctx context.Context) (Settings, error) {
	merged := Settings{
		Device: DefaultDevice(),
		Sync:   DefaultSync(),
	}

	var rows []Row
	if err := e.db.WithContext(ctx).
		Where("partition IN ?", []string{PartitionDevice, PartitionSync}).
		Find(&rows).Error; err != nil {
		return Settings{}, err
	}
	for _, row := range rows {
		switch row.Partition {
		case PartitionDevice:
			if err := json.Unmarshal([]byte(row.PayloadJSON), &merged.Device); err != nil {
				return Settings{}, fmt.Errorf("settings: device partition corrupt: %w", err)
			}
		case PartitionSync:
			if err := json.Unmarshal([]byte(row.PayloadJSON), &merged.Sync); err != nil {
				return Settings{}, fmt.Errorf("settings: sync partition corrupt: %w", err)
			}
		}
	}
	return merged, nil
}

// Update applies the patch optimistically: the in-memory cache changes
// first, both partitions persist, and a persistence failure rolls the cache
// back to the pre-patch snapshot.
func (e *Engine) Update(ctx context.Context, patch Patch, opts UpdateOptions) error {
	current, err := e.Load(ctx)
	if err != nil {
		return err
	}
	snapshot := current.Clone()

	next := current.Clone()
	applyDevicePatch(&next.Device, patch.Device)
	applySyncPatch(&next.Sync, patch.Sync)
	if !patch.Sync.isZero() {
		next.Sync.ModifiedTime = e.stamp()
	}

	e.setCache(next)
	if err := e.persist(ctx, next); err != nil {
		e.setCache(snapshot)
		e.logger.Error("settings update failed, rolled back", zap.Error(err))
		return err
	}

	if !opts.Silent {
		e.markChanged()
	}
	return nil
}

// ApplyRemote persists a sync-partition write accepted from the remote
// store, stamping the remote's modified time instead of the clock's. Always
// notifies.
func (e *Engine) ApplyRemote(ctx context.Context, patch SyncPatch, modifiedTime string) error {
	current, err := e.Load(ctx)
	if err != nil {
		return err
	}
	snapshot := current.Clone()

	next := current.Clone()
	applySyncPatch(&next.Sync, patch)
	next.Sync.ModifiedTime = modifiedTime

	e.setCache(next)
	if err := e.persist(ctx, next); err != nil {
		e.setCache(snapshot)
		e.logger.Error("remote settings apply failed, rolled back", zap.Error(err))
		return err
	}

	e.markChanged()
	return nil
}

// ToggleCollapsedGroup flips membership of groupKey in the collapsed-group
// list for the item type. Read-merge-write on a single field: concurrent
// toggles of the same field are last-write-wins, unrelated fields stay
// intact.
func (e *Engine) ToggleCollapsedGroup(ctx context.Context, itemType library.ItemType, groupKey string) error {
	current, err := e.Load(ctx)
	if err != nil {
		return err
	}

	source := current.Device.CollapsedLessonGroups
	if itemType == library.ItemTypeFigure {
		source = current.Device.CollapsedFigureGroups
	}
	toggled := toggleMembership(source, groupKey)

	patch := Patch{}
	if itemType == library.ItemTypeFigure {
		patch.Device.CollapsedFigureGroups = &toggled
	} else {
		patch.Device.CollapsedLessonGroups = &toggled
	}
	return e.Update(ctx, patch, UpdateOptions{})
}

// ToggleMuted flips the mute flag.
func (e *Engine) ToggleMuted(ctx context.Context) error {
	current, err := e.Load(ctx)
	if err != nil {
		return err
	}
	muted := !current.Device.Muted
	return e.Update(ctx, Patch{Device: DevicePatch{Muted: &muted}}, UpdateOptions{})
}

// Invalidate drops the in-memory cache. Called after a bulk overwrite of the
// persisted partitions (backup import) so the next Load re-reads the store.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cache = nil
	e.mu.Unlock()
}

func (e *Engine) persist(ctx context.Context, next Settings) error {
	devicePayload, err := json.Marshal(next.Device)
	if err != nil {
		return err
	}
	syncPayload, err := json.Marshal(next.Sync)
	if err != nil {
		return err
	}
	rows := []Row{
		{Partition: PartitionDevice, PayloadJSON: string(devicePayload)},
		{Partition: PartitionSync, PayloadJSON: string(syncPayload)},
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

func (e *Engine) setCache(value Settings) {
	e.mu.Lock()
	e.cache = &value
	e.mu.Unlock()
}

func (e *Engine) stamp() string {
	return e.clock().UTC().Format(timeLayout)
}

func (e *Engine) markChanged() {
	if e.notifier != nil {
		e.notifier.Mark()
	}
}

func toggleMembership(values []string, member string) []string {
	out := make([]string, 0, len(values)+1)
	found := false
	for _, value := range values {
		if value == member {
			found = true
			continue
		}
		out = append(out, value)
	}
	if !found {
		out = append(out, member)
	}
	return out
}
