package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/instarlab/instar-maps/backend/internal/document"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrProjectNotFound indicates that no project matched the lookup key.
	ErrProjectNotFound = errors.New("projects: project not found")
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "projects.service.new"
	opCreate         = "projects.create"
	opGet            = "projects.get"
	opGetBySlug      = "projects.get_by_slug"
	opFindByName     = "projects.find_by_name"
	opList           = "projects.list"
	opUpdate         = "projects.update"
	opUpdateDocument = "projects.update_document"
	opDelete         = "projects.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ListOrder selects the listing direction over the update timestamp. Either
// way the order is total: the project id breaks timestamp ties.
type ListOrder string

const (
	// ListOrderUpdatedDesc lists most recently updated projects first.
	ListOrderUpdatedDesc ListOrder = "updated_desc"
	// ListOrderUpdatedAsc lists least recently updated projects first.
	ListOrderUpdatedAsc ListOrder = "updated_asc"
)

// AssetCleanup removes stored binary assets tied to a project id. Cleanup
// failures must never fail the surrounding delete.
type AssetCleanup interface {
	RemoveProjectAssets(ctx context.Context, projectID int64) error
}

type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	ListOrder    ListOrder
	AssetCleanup AssetCleanup
}

// Service owns persisted projects: normalization, identity, and storage are
// applied as one pipeline so no partially-normalized document is ever written.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	logger       *zap.Logger
	listOrder    ListOrder
	assetCleanup AssetCleanup
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	listOrder := cfg.ListOrder
	if listOrder == "" {
		listOrder = ListOrderUpdatedDesc
	}
	if listOrder != ListOrderUpdatedDesc && listOrder != ListOrderUpdatedAsc {
		return nil, newServiceError(opServiceNew, "invalid_list_order", fmt.Errorf("unknown list order %q", listOrder))
	}

	return &Service{
		db:           cfg.Database,
		clock:        clock,
		logger:       logger,
		listOrder:    listOrder,
		assetCleanup: cfg.AssetCleanup,
	}, nil
}

// Create normalizes the raw payload, derives name and slug, and persists the
// new project. Malformed payloads are absorbed, never rejected.
func (s *Service) Create(ctx context.Context, raw any) (*Project, error) {
	if s.db == nil {
		s.logError(opCreate, "missing_database", errMissingDatabase)
		return nil, newServiceError(opCreate, "missing_database", errMissingDatabase)
	}

	doc := document.Normalize(raw)
	identity := resolveIdentity("", doc, true)

	encoded, err := json.Marshal(doc)
	if err != nil {
		s.logError(opCreate, "document_encode_failed", err)
		return nil, newServiceError(opCreate, "document_encode_failed", err)
	}

	var created Project
	txErr := s.withSlugRetry(opCreate, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			slugValue, err := uniqueSlug(tx, slugBase(identity.Name), 0)
			if err != nil {
				return newServiceError(opCreate, "slug_probe_failed", err)
			}

			now := s.clock().UTC().Unix()
			created = Project{
				Name:             identity.Name,
				Slug:             slugValue,
				DocumentJSON:     string(encoded),
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}
			return tx.Create(&created).Error
		})
	})
	if txErr != nil {
		s.logError(opCreate, "insert_failed", txErr, zap.String("name", identity.Name))
		return nil, txErr
	}

	return &created, nil
}

// Get returns the project with the given id.
func (s *Service) Get(ctx context.Context, id int64) (*Project, error) {
	return s.lookup(ctx, opGet, "id = ?", id)
}

// GetBySlug returns the project with the given slug.
func (s *Service) GetBySlug(ctx context.Context, slugValue string) (*Project, error) {
	return s.lookup(ctx, opGetBySlug, "slug = ?", slugValue)
}

// FindLatestByName returns the most recently updated project carrying the
// name. Names are not unique; the freshest record wins, id breaking ties.
func (s *Service) FindLatestByName(ctx context.Context, name string) (*Project, error) {
	if s.db == nil {
		s.logError(opFindByName, "missing_database", errMissingDatabase)
		return nil, newServiceError(opFindByName, "missing_database", errMissingDatabase)
	}

	var project Project
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("updated_at_s DESC, id DESC").
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opFindByName, "not_found", ErrProjectNotFound)
	}
	if err != nil {
		s.logError(opFindByName, "query_failed", err, zap.String("name", name))
		return nil, newServiceError(opFindByName, "query_failed", err)
	}
	return &project, nil
}

// List returns project summaries in a single consistent total order over the
// update timestamp, direction per configuration.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	if s.db == nil {
		s.logError(opList, "missing_database", errMissingDatabase)
		return nil, newServiceError(opList, "missing_database", errMissingDatabase)
	}

	order := "updated_at_s DESC, id DESC"
	if s.listOrder == ListOrderUpdatedAsc {
		order = "updated_at_s ASC, id ASC"
	}

	var rows []Project
	if err := s.db.WithContext(ctx).Order(order).Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}

	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		thumbnail := ""
		if doc, err := row.Document(); err == nil {
			thumbnail = document.Thumbnail(doc)
		}
		summaries = append(summaries, Summary{
			ID:               row.ID,
			Name:             row.Name,
			Slug:             row.Slug,
			UpdatedAtSeconds: row.UpdatedAtSeconds,
			Thumbnail:        thumbnail,
		})
	}
	return summaries, nil
}

// Update shallow-merges the raw payload over the stored document, normalizes
// the result, re-resolves identity, and persists. The read-merge-write runs
// under a row lock so concurrent updates to the same project serialize.
func (s *Service) Update(ctx context.Context, id int64, raw any) (*Project, error) {
	if s.db == nil {
		s.logError(opUpdate, "missing_database", errMissingDatabase)
		return nil, newServiceError(opUpdate, "missing_database", errMissingDatabase)
	}

	incoming, _ := raw.(map[string]any)

	var updated Project
	txErr := s.withSlugRetry(opUpdate, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := lockProject(tx, id)
			if err != nil {
				return classifyLookupError(opUpdate, err)
			}

			stored, err := existing.Document()
			if err != nil {
				return newServiceError(opUpdate, "document_decode_failed", err)
			}

			doc := document.Normalize(document.Merge(stored, incoming))
			identity := resolveIdentity(existing.Name, doc, false)

			existing.Name = identity.Name
			if identity.RegenerateSlug {
				slugValue, err := uniqueSlug(tx, slugBase(identity.Name), existing.ID)
				if err != nil {
					return newServiceError(opUpdate, "slug_probe_failed", err)
				}
				existing.Slug = slugValue
			}

			encoded, err := json.Marshal(doc)
			if err != nil {
				return newServiceError(opUpdate, "document_encode_failed", err)
			}
			existing.DocumentJSON = string(encoded)
			existing.UpdatedAtSeconds = s.clock().UTC().Unix()

			if err := tx.Save(existing).Error; err != nil {
				return err
			}
			updated = *existing
			return nil
		})
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrProjectNotFound) {
			s.logError(opUpdate, "update_failed", txErr, zap.Int64("project_id", id))
		}
		return nil, txErr
	}

	return &updated, nil
}

// UpdateDocument applies a document-only mutation under the project's row
// lock. Identity is untouched: the mutated document is normalized and stored,
// but name and slug stay as they are. Used by asset association.
func (s *Service) UpdateDocument(ctx context.Context, id int64, mutate func(map[string]any) map[string]any) (*Project, error) {
	if s.db == nil {
		s.logError(opUpdateDocument, "missing_database", errMissingDatabase)
		return nil, newServiceError(opUpdateDocument, "missing_database", errMissingDatabase)
	}
	if mutate == nil {
		return nil, newServiceError(opUpdateDocument, "missing_mutation", errors.New("mutation function is required"))
	}

	var updated Project
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockProject(tx, id)
		if err != nil {
			return classifyLookupError(opUpdateDocument, err)
		}

		stored, err := existing.Document()
		if err != nil {
			return newServiceError(opUpdateDocument, "document_decode_failed", err)
		}

		doc := document.Normalize(mutate(stored))
		encoded, err := json.Marshal(doc)
		if err != nil {
			return newServiceError(opUpdateDocument, "document_encode_failed", err)
		}
		existing.DocumentJSON = string(encoded)
		existing.UpdatedAtSeconds = s.clock().UTC().Unix()

		if err := tx.Save(existing).Error; err != nil {
			return err
		}
		updated = *existing
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrProjectNotFound) {
			s.logError(opUpdateDocument, "update_failed", txErr, zap.Int64("project_id", id))
		}
		return nil, txErr
	}

	return &updated, nil
}

// Delete removes the project and then asks the asset cleanup collaborator to
// drop the project's stored files. Cleanup failure is logged and swallowed:
// the delete has already succeeded.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.db == nil {
		s.logError(opDelete, "missing_database", errMissingDatabase)
		return newServiceError(opDelete, "missing_database", errMissingDatabase)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockProject(tx, id); err != nil {
			return classifyLookupError(opDelete, err)
		}
		return tx.Where("id = ?", id).Delete(&Project{}).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrProjectNotFound) {
			s.logError(opDelete, "delete_failed", txErr, zap.Int64("project_id", id))
		}
		return txErr
	}

	if s.assetCleanup != nil {
		if err := s.assetCleanup.RemoveProjectAssets(ctx, id); err != nil {
			s.loggerOrDefault().Warn("project asset cleanup failed",
				zap.Int64("project_id", id),
				zap.Error(err))
		}
	}

	return nil
}

func (s *Service) lookup(ctx context.Context, operation string, condition string, value any) (*Project, error) {
	if s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return nil, newServiceError(operation, "missing_database", errMissingDatabase)
	}

	var project Project
	err := s.db.WithContext(ctx).Where(condition, value).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(operation, "not_found", ErrProjectNotFound)
	}
	if err != nil {
		s.logError(operation, "query_failed", err)
		return nil, newServiceError(operation, "query_failed", err)
	}
	return &project, nil
}

func lockProject(tx *gorm.DB, id int64) (*Project, error) {
	var project Project
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func classifyLookupError(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, "not_found", ErrProjectNotFound)
	}
	return newServiceError(operation, "project_select_failed", err)
}

// uniqueSlug probes the slug index for the first free candidate: the base
// itself, then base-2, base-3, and so on. The record's own id is excluded so a
// rename may keep its current slug.
func uniqueSlug(tx *gorm.DB, base string, excludeID int64) (string, error) {
	candidate := base
	for suffix := 2; ; suffix++ {
		query := tx.Model(&Project{}).Where("slug = ?", candidate)
		if excludeID > 0 {
			query = query.Where("id <> ?", excludeID)
		}
		var count int64
		if err := query.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}

const slugRetryAttempts = 3

// withSlugRetry closes the probe race: the unique index on slug rejects a
// concurrent writer that claimed the same candidate, and the losing
// transaction recomputes from a fresh probe.
func (s *Service) withSlugRetry(operation string, attempt func() error) error {
	var err error
	for try := 0; try < slugRetryAttempts; try++ {
		err = attempt()
		if err == nil || !isDuplicateSlug(err) {
			return err
		}
	}
	return newServiceError(operation, "slug_conflict_retries_exhausted", err)
}

func isDuplicateSlug(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not translate constraint violations.
	return strings.Contains(err.Error(), "UNIQUE constraint failed: projects.slug")
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
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
	s.loggerOrDefault().Error("projects service error", attrs...)
}
