package projects

import (
	"encoding/json"
	"time"
)

// Project models the persisted map project. The document payload is stored as
// serialized JSON and is always in canonical form; id and slug are repository
// fields merged into response payloads only, never into the stored document.
type Project struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name             string `gorm:"column:name;size:255;not null;index:idx_projects_name"`
	Slug             string `gorm:"column:slug;size:255;not null;uniqueIndex:idx_projects_slug"`
	DocumentJSON     string `gorm:"column:document_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_projects_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Document decodes the stored payload into a fresh mapping.
func (p *Project) Document() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(p.DocumentJSON), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Response builds the API payload: the canonical document with the
// repository-managed id and slug merged in.
func (p *Project) Response() (map[string]any, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	doc["id"] = p.ID
	doc["slug"] = p.Slug
	return doc, nil
}

// UpdatedAt exposes the last-modified instant.
func (p *Project) UpdatedAt() time.Time {
	return time.Unix(p.UpdatedAtSeconds, 0).UTC()
}

// Summary is the listing projection of a project.
type Summary struct {
	ID               int64
	Name             string
	Slug             string
	UpdatedAtSeconds int64
	Thumbnail        string
}
