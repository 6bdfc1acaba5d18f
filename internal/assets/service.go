package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/instarlab/instar-maps/backend/internal/document"
	"github.com/instarlab/instar-maps/backend/internal/projects"
)

const (
	bucketPrefix   = "floor_images"
	fallbackBucket = "misc"
)

var (
	// ErrMissingFile indicates an upload request without file content.
	ErrMissingFile = errors.New("assets: file content is required")

	errMissingStorage  = errors.New("assets: storage collaborator is required")
	errMissingProjects = errors.New("assets: project directory is required")
)

// ProjectDirectory is the slice of the project repository the asset service
// needs: reference resolution and the document-only update path.
type ProjectDirectory interface {
	Get(ctx context.Context, id int64) (*projects.Project, error)
	GetBySlug(ctx context.Context, slug string) (*projects.Project, error)
	FindLatestByName(ctx context.Context, name string) (*projects.Project, error)
	UpdateDocument(ctx context.Context, id int64, mutate func(map[string]any) map[string]any) (*projects.Project, error)
}

type ServiceConfig struct {
	Storage  Storage
	Projects ProjectDirectory
	Logger   *zap.Logger
}

// Service ties uploaded floor images to projects: it stores the bytes and
// reconciles the resulting URL back into the project document.
type Service struct {
	storage  Storage
	projects ProjectDirectory
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if cfg.Projects == nil {
		return nil, errMissingProjects
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage:  cfg.Storage,
		projects: cfg.Projects,
		logger:   logger,
	}, nil
}

// UploadRequest carries one floor image upload. ProjectRef may be a numeric
// id, a slug, or a project name; Floor is the zero-based floor index.
type UploadRequest struct {
	File       io.Reader
	FileName   string
	ProjectRef string
	Floor      int
}

// UploadResult reports where the asset landed. ProjectID is zero when the
// reference resolved to no project and the asset went to the fallback bucket.
type UploadResult struct {
	URL       string
	ProjectID int64
}

// UploadFloorImage stores the file and, when the project reference resolves,
// records the new URL at the floor index in the project document. An
// unresolvable reference is not an error: floor images may be staged before a
// project exists, so the asset is kept under the fallback bucket.
func (s *Service) UploadFloorImage(ctx context.Context, request UploadRequest) (UploadResult, error) {
	if request.File == nil {
		return UploadResult{}, ErrMissingFile
	}

	floor := request.Floor
	if floor < 0 {
		floor = 0
	}

	project := s.resolveProject(ctx, strings.TrimSpace(request.ProjectRef))
	bucket := fallbackBucket
	if project != nil {
		bucket = strconv.FormatInt(project.ID, 10)
	}

	key := fmt.Sprintf("%s/%s/%d_%s", bucketPrefix, bucket, floor, sanitizeFileName(request.FileName))
	relURL, err := s.storage.Save(ctx, key, request.File)
	if err != nil {
		s.logger.Error("floor image save failed",
			zap.String("key", key),
			zap.Error(err))
		return UploadResult{}, fmt.Errorf("assets: save floor image: %w", err)
	}

	result := UploadResult{URL: relURL}
	if project != nil {
		result.ProjectID = project.ID
		_, err := s.projects.UpdateDocument(ctx, project.ID, func(doc map[string]any) map[string]any {
			return document.SetFloorImage(doc, floor, relURL)
		})
		if err != nil {
			s.logger.Error("floor image document update failed",
				zap.Int64("project_id", project.ID),
				zap.Error(err))
			return UploadResult{}, fmt.Errorf("assets: record floor image: %w", err)
		}
	}

	return result, nil
}

// resolveProject tries, in order: exact numeric id, exact slug, then the most
// recently updated project with a matching name.
func (s *Service) resolveProject(ctx context.Context, reference string) *projects.Project {
	if reference == "" {
		return nil
	}
	if id, err := strconv.ParseInt(reference, 10, 64); err == nil {
		if project, err := s.projects.Get(ctx, id); err == nil {
			return project
		}
	}
	if project, err := s.projects.GetBySlug(ctx, reference); err == nil {
		return project
	}
	if project, err := s.projects.FindLatestByName(ctx, reference); err == nil {
		return project
	}
	return nil
}

// sanitizeFileName strips path separators so an uploaded name cannot steer the
// storage key outside its bucket.
func sanitizeFileName(name string) string {
	sanitized := strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "upload"
	}
	return sanitized
}

// Cleanup adapts the storage collaborator to the project repository's delete
// cascade.
type Cleanup struct {
	storage Storage
}

func NewCleanup(storage Storage) *Cleanup {
	return &Cleanup{storage: storage}
}

// RemoveProjectAssets drops every stored asset under the project's bucket.
func (c *Cleanup) RemoveProjectAssets(ctx context.Context, projectID int64) error {
	return c.storage.RemoveAll(ctx, path.Join(bucketPrefix, strconv.FormatInt(projectID, 10)))
}
