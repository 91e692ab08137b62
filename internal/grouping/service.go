// Package grouping reconciles the local grouping entities (categories,
// schools, instructors) against a remote-provided grouping configuration and
// assembles the inverse document for upload. Remote ids are authoritative:
// already-synced entities are matched and updated in place by the remote's
// id, never re-created under a fresh local id.
package grouping

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
)

// RemoteEntry is one grouping entity in the remote document.
type RemoteEntry struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	DriveID *string `json:"driveId,omitempty"`
}

// RemoteConfig is the remote grouping-configuration document for one item
// type. Zero values stand in for anything a partial remote payload omits.
type RemoteConfig struct {
	Categories  []RemoteEntry `json:"categories"`
	Schools     []RemoteEntry `json:"schools"`
	Instructors []RemoteEntry `json:"instructors"`
	ShowEmpty   bool          `json:"showEmpty"`
	ShowCount   bool          `json:"showCount"`
}

// ParseConfig decodes a remote payload without ever failing: malformed or
// partial documents degrade to empty lists and false toggles, keeping
// reconciliation total.
func ParseConfig(data []byte) RemoteConfig {
	var cfg RemoteConfig
	_ = json.Unmarshal(data, &cfg)
	return cfg
}

// ServiceConfig describes the dependencies required by the reconciler.
type ServiceConfig struct {
	Library  *library.Service
	Settings *settings.Engine
	Logger   *zap.Logger
}

// Service applies remote grouping configurations and builds upload
// documents.
type Service struct {
	library  *library.Service
	settings *settings.Engine
	logger   *zap.Logger
}

// NewService constructs the reconciler.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Library == nil {
		return nil, fmt.Errorf("grouping: library service required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("grouping: settings engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		library:  cfg.Library,
		settings: cfg.Settings,
		logger:   logger,
	}, nil
}

// ApplyRemoteConfig reconciles the three grouping kinds for the item type
// against the remote document, then persists the remote's ordering and
// display toggles into the sync settings partition under the remote's
// modified time. Applying the same document twice is a no-op on the second
// pass.
func (s *Service) ApplyRemoteConfig(ctx context.Context, itemType library.ItemType, remote RemoteConfig, modifiedTime string) error {
	kinds := []struct {
		kind    library.GroupingKind
		entries []RemoteEntry
	}{
		{library.CategoryKind(itemType), remote.Categories},
		{library.GroupingSchool, remote.Schools},
		{library.GroupingInstructor, remote.Instructors},
	}
	for _, step := range kinds {
		if err := s.reconcileKind(ctx, step.kind, step.entries, modifiedTime); err != nil {
			s.logger.Error("grouping reconciliation failed",
				zap.String("item_type", string(itemType)),
				zap.String("kind", step.kind.String()),
				zap.Error(err))
			return err
		}
	}

	display := settings.GroupingDisplayPatch{
		CategoryOrder:   library.Pointer(entryIDs(remote.Categories)),
		SchoolOrder:     library.Pointer(entryIDs(remote.Schools)),
		InstructorOrder: library.Pointer(entryIDs(remote.Instructors)),
		ShowEmpty:       &remote.ShowEmpty,
		ShowCount:       &remote.ShowCount,
	}
	patch := settings.SyncPatch{}
	if itemType == library.ItemTypeFigure {
		patch.Figures = &display
	} else {
		patch.Lessons = &display
	}
	return s.settings.ApplyRemote(ctx, patch, modifiedTime)
}

func (s *Service) reconcileKind(ctx context.Context, kind library.GroupingKind, entries []RemoteEntry, modifiedTime string) error {
	locals, err := s.library.ListGroupings(ctx, kind)
	if err != nil {
		return err
	}
	localByID := make(map[string]library.Grouping, len(locals))
	for _, local := range locals {
		localByID[local.ID] = local
	}

	remoteIDs := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		remoteIDs[entry.ID] = struct{}{}

		local, exists := localByID[entry.ID]
		if !exists {
			_, err := s.library.AddGrouping(ctx, kind, library.NewGrouping{
				ID:           entry.ID,
				Name:         entry.Name,
				DriveID:      entry.DriveID,
				ModifiedTime: &modifiedTime,
			})
			if err != nil {
				return err
			}
			continue
		}
		if local.Name == entry.Name && equalPointer(local.DriveID, entry.DriveID) {
			continue
		}
		_, err := s.library.UpdateGrouping(ctx, kind, entry.ID, library.GroupingPatch{
			Name:         &entry.Name,
			DriveID:      library.Pointer(entry.DriveID),
			ModifiedTime: &modifiedTime,
		})
		if err != nil {
			return err
		}
	}

	for _, local := range locals {
		if _, kept := remoteIDs[local.ID]; kept {
			continue
		}
		// The remote already dropped this entity; deleting locally must not
		// tombstone it back at the remote.
		if err := s.library.DeleteGrouping(ctx, kind, local.ID, library.DeleteOptions{SkipTombstone: true}); err != nil {
			return err
		}
	}
	return nil
}

// ConfigForUpload assembles the grouping document for the item type: local
// entities sorted by the stored order array, entities missing from the array
// appended in insertion order, plus the stored display toggles. The second
// return is the sync partition's modified time for the transport to attach.
func (s *Service) ConfigForUpload(ctx context.Context, itemType library.ItemType) (RemoteConfig, string, error) {
	state, err := s.settings.Load(ctx)
	if err != nil {
		return RemoteConfig{}, "", err
	}
	display := state.Sync.Lessons
	if itemType == library.ItemTypeFigure {
		display = state.Sync.Figures
	}

	categories, err := s.orderedEntries(ctx, library.CategoryKind(itemType), display.CategoryOrder)
	if err != nil {
		return RemoteConfig{}, "", err
	}
	schools, err := s.orderedEntries(ctx, library.GroupingSchool, display.SchoolOrder)
	if err != nil {
		return RemoteConfig{}, "", err
	}
	instructors, err := s.orderedEntries(ctx, library.GroupingInstructor, display.InstructorOrder)
	if err != nil {
		return RemoteConfig{}, "", err
	}

	cfg := RemoteConfig{
		Categories:  categories,
		Schools:     schools,
		Instructors: instructors,
		ShowEmpty:   display.ShowEmpty,
		ShowCount:   display.ShowCount,
	}
	return cfg, state.Sync.ModifiedTime, nil
}

func (s *Service) orderedEntries(ctx context.Context, kind library.GroupingKind, order []string) ([]RemoteEntry, error) {
	locals, err := s.library.ListGroupings(ctx, kind)
	if err != nil {
		return nil, err
	}

	rank := make(map[string]int, len(order))
	for position, id := range order {
		rank[id] = position
	}

	listed := make([]library.Grouping, 0, len(locals))
	unlisted := make([]library.Grouping, 0)
	for _, local := range locals {
		if _, ok := rank[local.ID]; ok {
			listed = append(listed, local)
		} else {
			unlisted = append(unlisted, local)
		}
	}
	// locals arrive in insertion order; a stable sort by rank preserves it
	// for ties and the unlisted tail keeps it outright.
	for i := 1; i < len(listed); i++ {
		for j := i; j > 0 && rank[listed[j-1].ID] > rank[listed[j].ID]; j-- {
			listed[j-1], listed[j] = listed[j], listed[j-1]
		}
	}

	entries := make([]RemoteEntry, 0, len(locals))
	for _, local := range append(listed, unlisted...) {
		entries = append(entries, RemoteEntry{
			ID:      local.ID,
			Name:    local.Name,
			DriveID: local.DriveID,
		})
	}
	return entries, nil
}

func entryIDs(entries []RemoteEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		ids = append(ids, entry.ID)
	}
	return ids
}

func equalPointer(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
