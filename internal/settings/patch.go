package settings

// DevicePatch describes a partial update to the device partition. Nil fields
// are left untouched; filter fields use a pointer-to-struct so a patch can
// replace the whole filter.
type DevicePatch struct {
	Language              *string
	Muted                 *bool
	Volume                *float64
	LessonSort            *string
	FigureSort            *string
	LessonGrouping        *string
	FigureGrouping        *string
	CollapsedLessonGroups *[]string
	CollapsedFigureGroups *[]string
	LessonFilter          *ItemFilter
	FigureFilter          *ItemFilter
}

func (p DevicePatch) isZero() bool {
	return p == DevicePatch{}
}

// GroupingDisplayPatch describes a partial update to one item type's
// grouping display state.
type GroupingDisplayPatch struct {
	CategoryOrder   *[]string
	SchoolOrder     *[]string
	InstructorOrder *[]string
	ShowEmpty       *bool
	ShowCount       *bool
}

// SyncPatch describes a partial update to the sync partition.
type SyncPatch struct {
	Lessons      *GroupingDisplayPatch
	Figures      *GroupingDisplayPatch
	LastSyncTime *string
}

func (p SyncPatch) isZero() bool {
	return p.Lessons == nil && p.Figures == nil && p.LastSyncTime == nil
}

// Patch combines updates to both partitions. The split into device and sync
// fields is structural, so no key-list bookkeeping decides which partition a
// field lands in.
type Patch struct {
	Device DevicePatch
	Sync   SyncPatch
}

// UpdateOptions tunes Update behavior.
type UpdateOptions struct {
	// Silent suppresses the subscriber notification. Used by high-frequency
	// UI-driven writes such as volume changes.
	Silent bool
}

func applyDevicePatch(device *DeviceSettings, patch DevicePatch) {
	if patch.Language != nil {
		device.Language = *patch.Language
	}
	if patch.Muted != nil {
		device.Muted = *patch.Muted
	}
	if patch.Volume != nil {
		device.Volume = *patch.Volume
	}
	if patch.LessonSort != nil {
		device.LessonSort = *patch.LessonSort
	}
	if patch.FigureSort != nil {
		device.FigureSort = *patch.FigureSort
	}
	if patch.LessonGrouping != nil {
		device.LessonGrouping = *patch.LessonGrouping
	}
	if patch.FigureGrouping != nil {
		device.FigureGrouping = *patch.FigureGrouping
	}
	if patch.CollapsedLessonGroups != nil {
		device.CollapsedLessonGroups = cloneStrings(*patch.CollapsedLessonGroups)
	}
	if patch.CollapsedFigureGroups != nil {
		device.CollapsedFigureGroups = cloneStrings(*patch.CollapsedFigureGroups)
	}
	if patch.LessonFilter != nil {
		device.LessonFilter = patch.LessonFilter.clone()
	}
	if patch.FigureFilter != nil {
		device.FigureFilter = patch.FigureFilter.clone()
	}
}

func applyGroupingDisplayPatch(display *GroupingDisplay, patch GroupingDisplayPatch) {
	if patch.CategoryOrder != nil {
		display.CategoryOrder = cloneStrings(*patch.CategoryOrder)
	}
	if patch.SchoolOrder != nil {
		display.SchoolOrder = cloneStrings(*patch.SchoolOrder)
	}
	if patch.InstructorOrder != nil {
		display.InstructorOrder = cloneStrings(*patch.InstructorOrder)
	}
	if patch.ShowEmpty != nil {
		display.ShowEmpty = *patch.ShowEmpty
	}
	if patch.ShowCount != nil {
		display.ShowCount = *patch.ShowCount
	}
}

func applySyncPatch(sync *SyncSettings, patch SyncPatch) {
	if patch.Lessons != nil {
		applyGroupingDisplayPatch(&sync.Lessons, *patch.Lessons)
	}
	if patch.Figures != nil {
		applyGroupingDisplayPatch(&sync.Figures, *patch.Figures)
	}
	if patch.LastSyncTime != nil {
		sync.LastSyncTime = *patch.LastSyncTime
	}
}
