package library

// NewLesson carries the caller-supplied fields for AddLesson. Exactly one of
// the video payload (passed separately) or VideoID must be provided; a set
// VideoID shares an already-stored video blob with another lesson.
type NewLesson struct {
	VideoID      *string
	UploadDate   string
	StartTimeMs  int64
	EndTimeMs    int64
	ThumbTimeMs  *int64
	CategoryID   *string
	SchoolID     *string
	InstructorID *string
}

// LessonPatch describes a partial lesson update. Nil fields are left
// untouched. Optional references use a double pointer so a patch can
// distinguish "leave as is" (nil) from "clear" (*nil).
type LessonPatch struct {
	UploadDate   *string
	StartTimeMs  *int64
	EndTimeMs    *int64
	ThumbTimeMs  *int64
	CategoryID   **string
	SchoolID     **string
	InstructorID **string
	DriveID      **string
	VideoDriveID **string
	// ModifiedTime, when set, is applied verbatim instead of the clock's
	// value. Used when persisting a remote write.
	ModifiedTime *string
}

// NewFigure carries the caller-supplied fields for AddFigure.
type NewFigure struct {
	LessonID     string
	Name         string
	StartTimeMs  int64
	EndTimeMs    int64
	ThumbTimeMs  *int64
	CategoryID   *string
	SchoolID     *string
	InstructorID *string
}

// FigurePatch describes a partial figure update.
type FigurePatch struct {
	Name         *string
	StartTimeMs  *int64
	EndTimeMs    *int64
	ThumbTimeMs  *int64
	CategoryID   **string
	SchoolID     **string
	InstructorID **string
	DriveID      **string
	ModifiedTime *string
}

// NewGrouping carries the caller-supplied fields for AddGrouping. ID is
// normally left empty and generated; grouping reconciliation sets it so
// remote-assigned identifiers stay authoritative.
type NewGrouping struct {
	ID           string
	Name         string
	DriveID      *string
	ModifiedTime *string
}

// GroupingPatch describes a partial grouping update.
type GroupingPatch struct {
	Name         *string
	DriveID      **string
	ModifiedTime *string
}

// DeleteOptions tunes delete behavior.
type DeleteOptions struct {
	// SkipTombstone suppresses the tombstone append even when the entity
	// carries a drive id. Set when applying a deletion the remote already
	// knows about.
	SkipTombstone bool
}

// Pointer returns a pointer to the provided value. Convenience for building
// patches.
func Pointer[T any](value T) *T {
	return &value
}
