package library

// timeLayout is the canonical modified-time format. Fixed-width fractional
// seconds keep lexicographic ordering equal to chronological ordering, which
// last-writer-wins comparisons rely on.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ItemType distinguishes the two media item families the store manages.
type ItemType string

const (
	// ItemTypeLesson selects full video lessons.
	ItemTypeLesson ItemType = "lesson"
	// ItemTypeFigure selects extracted clips.
	ItemTypeFigure ItemType = "figure"
)

// Lesson models a stored video lesson. Times are millisecond offsets into the
// owning video. Drive identifiers are nil until the external sync queue has
// uploaded the item.
type Lesson struct {
	ID           string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	VideoID      string  `gorm:"column:video_id;size:190;not null;index:idx_lessons_video" json:"videoId"`
	UploadDate   string  `gorm:"column:upload_date;size:64;not null" json:"uploadDate"`
	StartTimeMs  int64   `gorm:"column:start_time_ms;not null;default:0" json:"startTime"`
	EndTimeMs    int64   `gorm:"column:end_time_ms;not null;default:0" json:"endTime"`
	ThumbTimeMs  int64   `gorm:"column:thumb_time_ms;not null;default:0" json:"thumbTime"`
	CategoryID   *string `gorm:"column:category_id;size:190" json:"categoryId"`
	SchoolID     *string `gorm:"column:school_id;size:190" json:"schoolId"`
	InstructorID *string `gorm:"column:instructor_id;size:190" json:"instructorId"`
	DriveID      *string `gorm:"column:drive_id;size:190" json:"driveId"`
	VideoDriveID *string `gorm:"column:video_drive_id;size:190" json:"videoDriveId"`
	ModifiedTime string  `gorm:"column:modified_time;size:64;not null" json:"modifiedTime"`
}

// TableName provides the explicit table binding for GORM.
func (Lesson) TableName() string {
	return "lessons"
}

// Figure models a clip extracted from a lesson. It belongs to exactly one
// lesson and is removed when that lesson is deleted.
type Figure struct {
	ID           string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	LessonID     string  `gorm:"column:lesson_id;size:190;not null;index:idx_figures_lesson" json:"lessonId"`
	Name         string  `gorm:"column:name;size:320;not null" json:"name"`
	StartTimeMs  int64   `gorm:"column:start_time_ms;not null;default:0" json:"startTime"`
	EndTimeMs    int64   `gorm:"column:end_time_ms;not null;default:0" json:"endTime"`
	ThumbTimeMs  int64   `gorm:"column:thumb_time_ms;not null;default:0" json:"thumbTime"`
	CategoryID   *string `gorm:"column:category_id;size:190" json:"categoryId"`
	SchoolID     *string `gorm:"column:school_id;size:190" json:"schoolId"`
	InstructorID *string `gorm:"column:instructor_id;size:190" json:"instructorId"`
	DriveID      *string `gorm:"column:drive_id;size:190" json:"driveId"`
	ModifiedTime string  `gorm:"column:modified_time;size:64;not null" json:"modifiedTime"`
}

// TableName provides the explicit table binding for GORM.
func (Figure) TableName() string {
	return "figures"
}

// Grouping is the shared row shape for categories, schools and instructors.
// The concrete table is selected by GroupingKind.
type Grouping struct {
	ID           string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name         string  `gorm:"column:name;size:320;not null" json:"name"`
	DriveID      *string `gorm:"column:drive_id;size:190" json:"driveId"`
	ModifiedTime string  `gorm:"column:modified_time;size:64;not null" json:"modifiedTime"`
}

// GroupingKind enumerates the grouping tables.
type GroupingKind int

const (
	// GroupingLessonCategory buckets lessons by category.
	GroupingLessonCategory GroupingKind = iota
	// GroupingFigureCategory buckets figures by category.
	GroupingFigureCategory
	// GroupingSchool is shared by lessons and figures.
	GroupingSchool
	// GroupingInstructor is shared by lessons and figures.
	GroupingInstructor
)

// String returns a stable identifier for logging.
func (k GroupingKind) String() string {
	switch k {
	case GroupingLessonCategory:
		return "lesson_category"
	case GroupingFigureCategory:
		return "figure_category"
	case GroupingSchool:
		return "school"
	case GroupingInstructor:
		return "instructor"
	default:
		return "unknown"
	}
}

// Table returns the backing table name for the kind.
func (k GroupingKind) Table() string {
	switch k {
	case GroupingLessonCategory:
		return "lesson_categories"
	case GroupingFigureCategory:
		return "figure_categories"
	case GroupingSchool:
		return "schools"
	case GroupingInstructor:
		return "instructors"
	default:
		return ""
	}
}

// references lists the (table, column) pairs on item tables whose foreign
// key points at this kind.
func (k GroupingKind) references() []tableColumn {
	switch k {
	case GroupingLessonCategory:
		return []tableColumn{{table: "lessons", column: "category_id"}}
	case GroupingFigureCategory:
		return []tableColumn{{table: "figures", column: "category_id"}}
	case GroupingSchool:
		return []tableColumn{
			{table: "lessons", column: "school_id"},
			{table: "figures", column: "school_id"},
		}
	case GroupingInstructor:
		return []tableColumn{
			{table: "lessons", column: "instructor_id"},
			{table: "figures", column: "instructor_id"},
		}
	default:
		return nil
	}
}

type tableColumn struct {
	table  string
	column string
}

// CategoryKind maps an item type to its category grouping kind.
func CategoryKind(itemType ItemType) GroupingKind {
	if itemType == ItemTypeFigure {
		return GroupingFigureCategory
	}
	return GroupingLessonCategory
}

// VideoBlob stores raw video bytes keyed by video id. The blob is shared
// across every lesson that points at the same video id.
type VideoBlob struct {
	VideoID string `gorm:"column:video_id;primaryKey;size:190;not null"`
	Data    []byte `gorm:"column:data;type:blob;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VideoBlob) TableName() string {
	return "videos"
}

// LessonThumbnail stores the rendered preview frame for a lesson.
type LessonThumbnail struct {
	LessonID string `gorm:"column:lesson_id;primaryKey;size:190;not null"`
	Data     []byte `gorm:"column:data;type:blob;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LessonThumbnail) TableName() string {
	return "lesson_thumbnails"
}

// FigureThumbnail stores the rendered preview frame for a figure.
type FigureThumbnail struct {
	FigureID string `gorm:"column:figure_id;primaryKey;size:190;not null"`
	Data     []byte `gorm:"column:data;type:blob;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FigureThumbnail) TableName() string {
	return "figure_thumbnails"
}

// Tombstone records that an entity with the given drive id was deleted
// locally. The external sync queue consults this set before re-creating
// remote items. Rows are append-only.
type Tombstone struct {
	DriveID   string `gorm:"column:drive_id;primaryKey;size:190;not null" json:"driveId"`
	DeletedAt string `gorm:"column:deleted_at;size:64;not null" json:"deletedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Tombstone) TableName() string {
	return "drive_tombstones"
}
