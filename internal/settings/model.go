package settings

import "encoding/json"

// Partition names for the two settings rows.
const (
	PartitionDevice = "device"
	PartitionSync   = "sync"
)

// Row is the persisted shape of one settings partition: a single JSON
// payload keyed by partition name.
type Row struct {
	Partition   string `gorm:"column:partition;primaryKey;size:32;not null"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Row) TableName() string {
	return "settings"
}

// ItemFilter captures the active gallery filters for one item type.
type ItemFilter struct {
	CategoryID   *string `json:"categoryId"`
	SchoolID     *string `json:"schoolId"`
	InstructorID *string `json:"instructorId"`
}

// DeviceSettings is the device-local partition: installation-scoped state
// that is never sent to the remote store.
type DeviceSettings struct {
	Language              string     `json:"language"`
	Muted                 bool       `json:"muted"`
	Volume                float64    `json:"volume"`
	LessonSort            string     `json:"lessonSort"`
	FigureSort            string     `json:"figureSort"`
	LessonGrouping        string     `json:"lessonGrouping"`
	FigureGrouping        string     `json:"figureGrouping"`
	CollapsedLessonGroups []string   `json:"collapsedLessonGroups"`
	CollapsedFigureGroups []string   `json:"collapsedFigureGroups"`
	LessonFilter          ItemFilter `json:"lessonFilter"`
	FigureFilter          ItemFilter `json:"figureFilter"`
}

// GroupingDisplay holds the ordered grouping-entity ids and display toggles
// for one item type.
type GroupingDisplay struct {
	CategoryOrder   []string `json:"categoryOrder"`
	SchoolOrder     []string `json:"schoolOrder"`
	InstructorOrder []string `json:"instructorOrder"`
	ShowEmpty       bool     `json:"showEmpty"`
	ShowCount       bool     `json:"showCount"`
}

// SyncSettings is the synchronizable partition, eligible for remote
// overwrite under last-writer-wins by ModifiedTime.
type SyncSettings struct {
	Lessons      GroupingDisplay `json:"lessons"`
	Figures      GroupingDisplay `json:"figures"`
	LastSyncTime string          `json:"lastSyncTime"`
	ModifiedTime string          `json:"modifiedTime"`
}

// Settings is the assembled logical settings object.
type Settings struct {
	Device DeviceSettings `json:"device"`
	Sync   SyncSettings   `json:"sync"`
}

// DefaultDevice returns the hardcoded device defaults.
func DefaultDevice() DeviceSettings {
	return DeviceSettings{
		Language:       "en",
		Volume:         1.0,
		LessonSort:     "uploadDate",
		FigureSort:     "name",
		LessonGrouping: "category",
		FigureGrouping: "category",
	}
}

// DefaultSync returns the hardcoded sync defaults.
func DefaultSync() SyncSettings {
	return SyncSettings{}
}

// Clone returns a deep copy, so optimistic rollback snapshots are not
// aliased to the live cache.
func (s Settings) Clone() Settings {
	out := s
	out.Device.CollapsedLessonGroups = cloneStrings(s.Device.CollapsedLessonGroups)
	out.Device.CollapsedFigureGroups = cloneStrings(s.Device.CollapsedFigureGroups)
	out.Device.LessonFilter = s.Device.LessonFilter.clone()
	out.Device.FigureFilter = s.Device.FigureFilter.clone()
	out.Sync.Lessons = s.Sync.Lessons.clone()
	out.Sync.Figures = s.Sync.Figures.clone()
	return out
}

func (f ItemFilter) clone() ItemFilter {
	return ItemFilter{
		CategoryID:   clonePointer(f.CategoryID),
		SchoolID:     clonePointer(f.SchoolID),
		InstructorID: clonePointer(f.InstructorID),
	}
}

func (d GroupingDisplay) clone() GroupingDisplay {
	out := d
	out.CategoryOrder = cloneStrings(d.CategoryOrder)
	out.SchoolOrder = cloneStrings(d.SchoolOrder)
	out.InstructorOrder = cloneStrings(d.InstructorOrder)
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func clonePointer[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// EncodeSyncRow marshals a sync partition into its persisted row. The backup
// codec uses it to overwrite the partition inside its own import
// transaction.
func EncodeSyncRow(sync SyncSettings) (Row, error) {
	payload, err := json.Marshal(sync)
	if err != nil {
		return Row{}, err
	}
	return Row{Partition: PartitionSync, PayloadJSON: string(payload)}, nil
}
