package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/instarlab/instar-maps/backend/internal/assets"
	"github.com/instarlab/instar-maps/backend/internal/export"
	"github.com/instarlab/instar-maps/backend/internal/projects"
)

var (
	errMissingProjectsService = errors.New("projects service dependency required")
	errMissingAssetsService   = errors.New("assets service dependency required")
)

type Dependencies struct {
	ProjectsService *projects.Service
	AssetsService   *assets.Service
	Logger          *zap.Logger
	// MediaRoot enables static serving of stored assets when non-empty.
	MediaRoot    string
	MediaBaseURL string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ProjectsService == nil {
		return nil, errMissingProjectsService
	}
	if deps.AssetsService == nil {
		return nil, errMissingAssetsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	handler := &httpHandler{
		projects: deps.ProjectsService,
		assets:   deps.AssetsService,
		logger:   logger,
	}

	router.GET("/ping/", handler.handlePing)

	router.GET("/projects/", handler.handleListProjects)
	router.POST("/projects/", handler.handleCreateProject)
	router.GET("/projects/:id/", handler.handleGetProject)
	router.PUT("/projects/:id/", handler.handleUpdateProject)
	router.PATCH("/projects/:id/", handler.handleUpdateProject)
	router.DELETE("/projects/:id/", handler.handleDeleteProject)
	router.GET("/projects/:id/export-txt/", handler.handleExportTxt)
	router.GET("/projects/slug/:slug/", handler.handleGetProjectBySlug)
	router.GET("/projects/by-name/:name/", handler.handleGetProjectByName)

	router.POST("/upload-floor-image/", handler.handleUploadFloorImage)

	if deps.MediaRoot != "" {
		baseURL := deps.MediaBaseURL
		if baseURL == "" {
			baseURL = "/media"
		}
		router.Static(baseURL, deps.MediaRoot)
	}

	return router, nil
}

type httpHandler struct {
	projects *projects.Service
	assets   *assets.Service
	logger   *zap.Logger
}

func (h *httpHandler) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type summaryPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	UpdatedAt string `json:"updated_at"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	summaries, err := h.projects.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payload := make([]summaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, summaryPayload{
			ID:        summary.ID,
			Name:      summary.Name,
			Slug:      summary.Slug,
			UpdatedAt: time.Unix(summary.UpdatedAtSeconds, 0).UTC().Format(time.RFC3339),
			Thumbnail: summary.Thumbnail,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	project, err := h.projects.Create(c.Request.Context(), decodeBody(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.respondProject(c, http.StatusCreated, project)
}

func (h *httpHandler) handleGetProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		respondNotFound(c)
		return
	}
	project, err := h.projects.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project)
}

func (h *httpHandler) handleUpdateProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		respondNotFound(c)
		return
	}
	project, err := h.projects.Update(c.Request.Context(), id, decodeBody(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project)
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		respondNotFound(c)
		return
	}
	if err := h.projects.Delete(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleGetProjectBySlug(c *gin.Context) {
	project, err := h.projects.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project)
}

func (h *httpHandler) handleGetProjectByName(c *gin.Context) {
	project, err := h.projects.FindLatestByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project)
}

func (h *httpHandler) handleExportTxt(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		respondNotFound(c)
		return
	}
	project, err := h.projects.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	doc, err := project.Document()
	if err != nil {
		h.logger.Error("stored document decode failed", zap.Int64("project_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	archive, err := export.Txt(doc)
	if errors.Is(err, export.ErrNotImplemented) {
		c.JSON(http.StatusNotImplemented, gin.H{"detail": "Not Implemented"})
		return
	}
	if err != nil {
		h.logger.Error("project export failed", zap.Int64("project_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Data(http.StatusOK, "application/zip", archive)
}

func (h *httpHandler) handleUploadFloorImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file"})
		return
	}

	floor := 0
	if parsed, err := strconv.Atoi(c.PostForm("floor")); err == nil {
		floor = parsed
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("uploaded file open failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	defer file.Close()

	result, err := h.assets.UploadFloorImage(c.Request.Context(), assets.UploadRequest{
		File:       file,
		FileName:   fileHeader.Filename,
		ProjectRef: c.PostForm("project"),
		Floor:      floor,
	})
	if err != nil {
		h.logger.Error("floor image upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "url": absoluteURL(c.Request, result.URL)})
}

func (h *httpHandler) respondProject(c *gin.Context, status int, project *projects.Project) {
	response, err := project.Response()
	if err != nil {
		h.logger.Error("stored document decode failed",
			zap.Int64("project_id", project.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, response)
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	if errors.Is(err, projects.ErrProjectNotFound) {
		respondNotFound(c)
		return
	}

	h.logger.Error("projects request failed", zap.Error(err))

	var serviceError *projects.ServiceError
	if errors.As(err, &serviceError) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceError.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeBody reads the request body as arbitrary JSON. Malformed or empty
// bodies yield nil: the normalizer treats that as an empty document, matching
// the absorb-never-reject contract.
func decodeBody(c *gin.Context) any {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// absoluteURL resolves a relative asset URL against the request origin.
func absoluteURL(request *http.Request, relative string) string {
	scheme := "http"
	if request.TLS != nil {
		scheme = "https"
	}
	if forwarded := request.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + request.Host + relative
}
