package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stepvault/stepvault/internal/backup"
	"github.com/stepvault/stepvault/internal/grouping"
	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
	"go.uber.org/zap"
)

var (
	errMissingLibraryService  = errors.New("library service dependency required")
	errMissingSettingsEngine  = errors.New("settings engine dependency required")
	errMissingGroupingService = errors.New("grouping service dependency required")
	errMissingBackupCodec     = errors.New("backup codec dependency required")
)

// Dependencies carries the services the HTTP surface exposes.
type Dependencies struct {
	Library  *library.Service
	Settings *settings.Engine
	Grouping *grouping.Service
	Backup   *backup.Codec
	Logger   *zap.Logger
}

// NewHTTPHandler assembles the gin router over the provided services.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Library == nil {
		return nil, errMissingLibraryService
	}
	if deps.Settings == nil {
		return nil, errMissingSettingsEngine
	}
	if deps.Grouping == nil {
		return nil, errMissingGroupingService
	}
	if deps.Backup == nil {
		return nil, errMissingBackupCodec
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		library:  deps.Library,
		settings: deps.Settings,
		grouping: deps.Grouping,
		backup:   deps.Backup,
		logger:   logger,
	}

	api := router.Group("/api")
	api.GET("/lessons", handler.handleListLessons)
	api.POST("/lessons", handler.handleAddLesson)
	api.GET("/lessons/:id", handler.handleGetLesson)
	api.PATCH("/lessons/:id", handler.handleUpdateLesson)
	api.DELETE("/lessons/:id", handler.handleDeleteLesson)
	api.GET("/lessons/:id/figures", handler.handleListLessonFigures)
	api.GET("/lessons/:id/video", handler.handleLessonVideo)
	api.GET("/lessons/:id/thumbnail", handler.handleLessonThumbnail)

	api.GET("/figures", handler.handleListFigures)
	api.POST("/figures", handler.handleAddFigure)
	api.GET("/figures/:id", handler.handleGetFigure)
	api.PATCH("/figures/:id", handler.handleUpdateFigure)
	api.DELETE("/figures/:id", handler.handleDeleteFigure)
	api.GET("/figures/:id/thumbnail", handler.handleFigureThumbnail)

	api.GET("/groupings/:kind", handler.handleListGroupings)
	api.POST("/groupings/:kind", handler.handleAddGrouping)
	api.PATCH("/groupings/:kind/:id", handler.handleUpdateGrouping)
	api.DELETE("/groupings/:kind/:id", handler.handleDeleteGrouping)

	api.GET("/settings", handler.handleGetSettings)
	api.PATCH("/settings", handler.handlePatchSettings)
	api.POST("/settings/muted/toggle", handler.handleToggleMuted)
	api.POST("/settings/groups/:type/:key/toggle", handler.handleToggleGroup)

	api.GET("/sync/grouping/:type", handler.handleGroupingUpload)
	api.PUT("/sync/grouping/:type", handler.handleGroupingDownload)
	api.GET("/sync/tombstones", handler.handleListTombstones)

	api.GET("/backup", handler.handleExport)
	api.POST("/backup", handler.handleImport)
	api.POST("/wipe", handler.handleWipe)

	api.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	library  *library.Service
	settings *settings.Engine
	grouping *grouping.Service
	backup   *backup.Codec
	logger   *zap.Logger
}

func (h *httpHandler) writeServiceError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, library.ErrMissingBlob):
		c.JSON(http.StatusConflict, gin.H{"error": "missing_video"})
	case errors.Is(err, library.ErrInvalidTimeRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_time_range"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type addLessonPayload struct {
	VideoBase64  string  `json:"video"`
	VideoID      *string `json:"videoId"`
	UploadDate   string  `json:"uploadDate"`
	StartTimeMs  int64   `json:"startTime"`
	EndTimeMs    int64   `json:"endTime"`
	ThumbTimeMs  *int64  `json:"thumbTime"`
	CategoryID   *string `json:"categoryId"`
	SchoolID     *string `json:"schoolId"`
	InstructorID *string `json:"instructorId"`
}

func (h *httpHandler) handleAddLesson(c *gin.Context) {
	var request addLessonPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var video []byte
	if request.VideoBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(request.VideoBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_video_encoding"})
			return
		}
		video = decoded
	}
	lesson, err := h.library.AddLesson(c.Request.Context(), library.NewLesson{
		VideoID:      request.VideoID,
		UploadDate:   request.UploadDate,
		StartTimeMs:  request.StartTimeMs,
		EndTimeMs:    request.EndTimeMs,
		ThumbTimeMs:  request.ThumbTimeMs,
		CategoryID:   request.CategoryID,
		SchoolID:     request.SchoolID,
		InstructorID: request.InstructorID,
	}, video)
	if err != nil {
		h.writeServiceError(c, "add lesson", err)
		return
	}
	c.JSON(http.StatusCreated, lesson)
}

func (h *httpHandler) handleListLessons(c *gin.Context) {
	lessons, err := h.library.ListLessons(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "list lessons", err)
		return
	}
	c.JSON(http.StatusOK, lessons)
}

func (h *httpHandler) handleGetLesson(c *gin.Context) {
	lesson, err := h.library.GetLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, "get lesson", err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handleUpdateLesson(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch, err := decodeLessonPatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	lesson, err := h.library.UpdateLesson(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeServiceError(c, "update lesson", err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handleDeleteLesson(c *gin.Context) {
	opts := library.DeleteOptions{SkipTombstone: c.Query("skipTombstone") == "true"}
	if err := h.library.DeleteLesson(c.Request.Context(), c.Param("id"), opts); err != nil {
		h.writeServiceError(c, "delete lesson", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListLessonFigures(c *gin.Context) {
	figures, err := h.library.ListFiguresByLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, "list lesson figures", err)
		return
	}
	c.JSON(http.StatusOK, figures)
}

func (h *httpHandler) handleLessonVideo(c *gin.Context) {
	lesson, err := h.library.GetLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, "serve lesson video", err)
		return
	}
	url, err := h.library.VideoURL(c.Request.Context(), lesson.VideoID)
	if err != nil {
		h.writeServiceError(c, "serve lesson video", err)
		return
	}
	defer h.library.ReleaseVideoURL(lesson.VideoID)
	data, ok := h.library.ResolveHandle(url)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, "video/mp4", data)
}

func (h *httpHandler) handleLessonThumbnail(c *gin.Context) {
	id := c.Param("id")
	url, err := h.library.LessonThumbnailURL(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "serve lesson thumbnail", err)
		return
	}
	defer h.library.ReleaseLessonThumbnailURL(id)
	data, ok := h.library.ResolveHandle(url)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

type addFigurePayload struct {
	LessonID     string  `json:"lessonId"`
	Name         string  `json:"name"`
	StartTimeMs  int64   `json:"startTime"`
	EndTimeMs    int64   `json:"endTime"`
	ThumbTimeMs  *int64  `json:"thumbTime"`
	CategoryID   *string `json:"categoryId"`
	SchoolID     *string `json:"schoolId"`
	InstructorID *string `json:"instructorId"`
}

func (h *httpHandler) handleAddFigure(c *gin.Context) {
	var request addFigurePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.LessonID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	figure, err := h.library.AddFigure(c.Request.Context(), library.NewFigure{
		LessonID:     request.LessonID,
		Name:         request.Name,
		StartTimeMs:  request.StartTimeMs,
		EndTimeMs:    request.EndTimeMs,
		ThumbTimeMs:  request.ThumbTimeMs,
		CategoryID:   request.CategoryID,
		SchoolID:     request.SchoolID,
		InstructorID: request.InstructorID,
	})
	if err != nil {
		h.writeServiceError(c, "add figure", err)
		return
	}
	c.JSON(http.StatusCreated, figure)
}

func (h *httpHandler) handleListFigures(c *gin.Context) {
	figures, err := h.library.ListFigures(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "list figures", err)
		return
	}
	c.JSON(http.StatusOK, figures)
}

func (h *httpHandler) handleGetFigure(c *gin.Context) {
	figure, err := h.library.GetFigure(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, "get figure", err)
		return
	}
	c.JSON(http.StatusOK, figure)
}

func (h *httpHandler) handleUpdateFigure(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch, err := decodeFigurePatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	figure, err := h.library.UpdateFigure(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeServiceError(c, "update figure", err)
		return
	}
	c.JSON(http.StatusOK, figure)
}

func (h *httpHandler) handleDeleteFigure(c *gin.Context) {
	opts := library.DeleteOptions{SkipTombstone: c.Query("skipTombstone") == "true"}
	if err := h.library.DeleteFigure(c.Request.Context(), c.Param("id"), opts); err != nil {
		h.writeServiceError(c, "delete figure", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFigureThumbnail(c *gin.Context) {
	id := c.Param("id")
	url, err := h.library.FigureThumbnailURL(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "serve figure thumbnail", err)
		return
	}
	defer h.library.ReleaseFigureThumbnailURL(id)
	data, ok := h.library.ResolveHandle(url)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

type addGroupingPayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	DriveID *string `json:"driveId"`
}

func (h *httpHandler) handleAddGrouping(c *gin.Context) {
	kind, ok := parseGroupingKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_grouping_kind"})
		return
	}
	var request addGroupingPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	entity, err := h.library.AddGrouping(c.Request.Context(), kind, library.NewGrouping{
		ID:      request.ID,
		Name:    request.Name,
		DriveID: request.DriveID,
	})
	if err != nil {
		h.writeServiceError(c, "add grouping", err)
		return
	}
	c.JSON(http.StatusCreated, entity)
}

func (h *httpHandler) handleListGroupings(c *gin.Context) {
	kind, ok := parseGroupingKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_grouping_kind"})
		return
	}
	entities, err := h.library.ListGroupings(c.Request.Context(), kind)
	if err != nil {
		h.writeServiceError(c, "list groupings", err)
		return
	}
	c.JSON(http.StatusOK, entities)
}

func (h *httpHandler) handleUpdateGrouping(c *gin.Context) {
	kind, ok := parseGroupingKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_grouping_kind"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch, err := decodeGroupingPatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	entity, err := h.library.UpdateGrouping(c.Request.Context(), kind, c.Param("id"), patch)
	if err != nil {
		h.writeServiceError(c, "update grouping", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

func (h *httpHandler) handleDeleteGrouping(c *gin.Context) {
	kind, ok := parseGroupingKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_grouping_kind"})
		return
	}
	opts := library.DeleteOptions{SkipTombstone: c.Query("skipTombstone") == "true"}
	if err := h.library.DeleteGrouping(c.Request.Context(), kind, c.Param("id"), opts); err != nil {
		h.writeServiceError(c, "delete grouping", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	state, err := h.settings.Load(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "load settings", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handlePatchSettings(c *gin.Context) {
	var request settingsPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	opts := settings.UpdateOptions{Silent: c.Query("silent") == "true"}
	if err := h.settings.Update(c.Request.Context(), request.toPatch(), opts); err != nil {
		h.writeServiceError(c, "update settings", err)
		return
	}
	state, err := h.settings.Load(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "load settings", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleToggleMuted(c *gin.Context) {
	if err := h.settings.ToggleMuted(c.Request.Context()); err != nil {
		h.writeServiceError(c, "toggle muted", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleToggleGroup(c *gin.Context) {
	itemType, ok := parseItemType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_item_type"})
		return
	}
	if err := h.settings.ToggleCollapsedGroup(c.Request.Context(), itemType, c.Param("key")); err != nil {
		h.writeServiceError(c, "toggle collapsed group", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type groupingUploadPayload struct {
	Config       grouping.RemoteConfig `json:"config"`
	ModifiedTime string                `json:"modifiedTime"`
}

func (h *httpHandler) handleGroupingUpload(c *gin.Context) {
	itemType, ok := parseItemType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_item_type"})
		return
	}
	cfg, modifiedTime, err := h.grouping.ConfigForUpload(c.Request.Context(), itemType)
	if err != nil {
		h.writeServiceError(c, "build grouping upload", err)
		return
	}
	c.JSON(http.StatusOK, groupingUploadPayload{Config: cfg, ModifiedTime: modifiedTime})
}

func (h *httpHandler) handleGroupingDownload(c *gin.Context) {
	itemType, ok := parseItemType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_item_type"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	remote := grouping.ParseConfig(body)
	modifiedTime := c.Query("modifiedTime")
	if err := h.grouping.ApplyRemoteConfig(c.Request.Context(), itemType, remote, modifiedTime); err != nil {
		h.writeServiceError(c, "apply remote grouping config", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListTombstones(c *gin.Context) {
	tombstones, err := h.library.Tombstones(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "list tombstones", err)
		return
	}
	c.JSON(http.StatusOK, tombstones)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	document, err := h.backup.Export(c.Request.Context(), nil)
	if err != nil {
		h.writeServiceError(c, "export backup", err)
		return
	}
	c.Data(http.StatusOK, "application/json", document)
}

func (h *httpHandler) handleImport(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err = h.backup.Import(c.Request.Context(), body, nil)
	switch {
	case errors.Is(err, backup.ErrInvalidFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_backup"})
	case errors.Is(err, backup.ErrUnsupportedFormat):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported_backup_version"})
	case err != nil:
		h.writeServiceError(c, "import backup", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *httpHandler) handleWipe(c *gin.Context) {
	if err := h.library.Wipe(c.Request.Context()); err != nil {
		h.writeServiceError(c, "wipe store", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseGroupingKind(value string) (library.GroupingKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lesson-categories":
		return library.GroupingLessonCategory, true
	case "figure-categories":
		return library.GroupingFigureCategory, true
	case "schools":
		return library.GroupingSchool, true
	case "instructors":
		return library.GroupingInstructor, true
	default:
		return 0, false
	}
}

func parseItemType(value string) (library.ItemType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lessons", "lesson":
		return library.ItemTypeLesson, true
	case "figures", "figure":
		return library.ItemTypeFigure, true
	default:
		return "", false
	}
}

type settingsPatchPayload struct {
	Device devicePatchPayload `json:"device"`
	Sync   syncPatchPayload   `json:"sync"`
}

type devicePatchPayload struct {
	Language              *string              `json:"language"`
	Muted                 *bool                `json:"muted"`
	Volume                *float64             `json:"volume"`
	LessonSort            *string              `json:"lessonSort"`
	FigureSort            *string              `json:"figureSort"`
	LessonGrouping        *string              `json:"lessonGrouping"`
	FigureGrouping        *string              `json:"figureGrouping"`
	CollapsedLessonGroups *[]string            `json:"collapsedLessonGroups"`
	CollapsedFigureGroups *[]string            `json:"collapsedFigureGroups"`
	LessonFilter          *settings.ItemFilter `json:"lessonFilter"`
	FigureFilter          *settings.ItemFilter `json:"figureFilter"`
}

type syncPatchPayload struct {
	Lessons      *groupingDisplayPatchPayload `json:"lessons"`
	Figures      *groupingDisplayPatchPayload `json:"figures"`
	LastSyncTime *string                      `json:"lastSyncTime"`
}

type groupingDisplayPatchPayload struct {
	CategoryOrder   *[]string `json:"categoryOrder"`
	SchoolOrder     *[]string `json:"schoolOrder"`
	InstructorOrder *[]string `json:"instructorOrder"`
	ShowEmpty       *bool     `json:"showEmpty"`
	ShowCount       *bool     `json:"showCount"`
}

func (p settingsPatchPayload) toPatch() settings.Patch {
	patch := settings.Patch{
		Device: settings.DevicePatch{
			Language:              p.Device.Language,
			Muted:                 p.Device.Muted,
			Volume:                p.Device.Volume,
			LessonSort:            p.Device.LessonSort,
			FigureSort:            p.Device.FigureSort,
			LessonGrouping:        p.Device.LessonGrouping,
			FigureGrouping:        p.Device.FigureGrouping,
			CollapsedLessonGroups: p.Device.CollapsedLessonGroups,
			CollapsedFigureGroups: p.Device.CollapsedFigureGroups,
			LessonFilter:          p.Device.LessonFilter,
			FigureFilter:          p.Device.FigureFilter,
		},
		Sync: settings.SyncPatch{
			Lessons:      p.Sync.Lessons.toPatch(),
			Figures:      p.Sync.Figures.toPatch(),
			LastSyncTime: p.Sync.LastSyncTime,
		},
	}
	return patch
}

func (p *groupingDisplayPatchPayload) toPatch() *settings.GroupingDisplayPatch {
	if p == nil {
		return nil
	}
	return &settings.GroupingDisplayPatch{
		CategoryOrder:   p.CategoryOrder,
		SchoolOrder:     p.SchoolOrder,
		InstructorOrder: p.InstructorOrder,
		ShowEmpty:       p.ShowEmpty,
		ShowCount:       p.ShowCount,
	}
}

// decodeLessonPatch maps JSON field presence onto the patch shape: an absent
// key leaves the field alone, an explicit null clears optional references.
func decodeLessonPatch(data []byte) (library.LessonPatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return library.LessonPatch{}, err
	}
	var patch library.LessonPatch
	var err error
	if patch.UploadDate, err = stringField(fields, "uploadDate"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.StartTimeMs, err = int64Field(fields, "startTime"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.EndTimeMs, err = int64Field(fields, "endTime"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.ThumbTimeMs, err = int64Field(fields, "thumbTime"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.CategoryID, err = optionalRefField(fields, "categoryId"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.SchoolID, err = optionalRefField(fields, "schoolId"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.InstructorID, err = optionalRefField(fields, "instructorId"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.DriveID, err = optionalRefField(fields, "driveId"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.VideoDriveID, err = optionalRefField(fields, "videoDriveId"); err != nil {
		return library.LessonPatch{}, err
	}
	if patch.ModifiedTime, err = stringField(fields, "modifiedTime"); err != nil {
		return library.LessonPatch{}, err
	}
	return patch, nil
}

func decodeFigurePatch(data []byte) (library.FigurePatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return library.FigurePatch{}, err
	}
	var patch library.FigurePatch
	var err error
	if patch.Name, err = stringField(fields, "name"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.StartTimeMs, err = int64Field(fields, "startTime"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.EndTimeMs, err = int64Field(fields, "endTime"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.ThumbTimeMs, err = int64Field(fields, "thumbTime"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.CategoryID, err = optionalRefField(fields, "categoryId"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.SchoolID, err = optionalRefField(fields, "schoolId"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.InstructorID, err = optionalRefField(fields, "instructorId"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.DriveID, err = optionalRefField(fields, "driveId"); err != nil {
		return library.FigurePatch{}, err
	}
	if patch.ModifiedTime, err = stringField(fields, "modifiedTime"); err != nil {
		return library.FigurePatch{}, err
	}
	return patch, nil
}

func decodeGroupingPatch(data []byte) (library.GroupingPatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return library.GroupingPatch{}, err
	}
	var patch library.GroupingPatch
	var err error
	if patch.Name, err = stringField(fields, "name"); err != nil {
		return library.GroupingPatch{}, err
	}
	if patch.DriveID, err = optionalRefField(fields, "driveId"); err != nil {
		return library.GroupingPatch{}, err
	}
	if patch.ModifiedTime, err = stringField(fields, "modifiedTime"); err != nil {
		return library.GroupingPatch{}, err
	}
	return patch, nil
}

func stringField(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func int64Field(fields map[string]json.RawMessage, key string) (*int64, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var value int64
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// optionalRefField returns nil for an absent key, a pointer to nil for an
// explicit JSON null, and a pointer to a pointer for a string value.
func optionalRefField(fields map[string]json.RawMessage, key string) (**string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}
