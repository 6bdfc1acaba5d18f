package document

import (
	"encoding/json"
	"strconv"
)

// DefaultProjectName is the placeholder label assigned to documents that carry
// no project name. It is a sentinel, not a real name: identity resolution must
// never treat it as a user-chosen rename.
const DefaultProjectName = "새 프로젝트"

// Canonical top-level keys of the project document.
const (
	KeyMeta           = "meta"
	KeyScale          = "scale"
	KeyNodes          = "nodes"
	KeyConnections    = "connections"
	KeySpecialPoints  = "specialPoints"
	KeyNorthReference = "northReference"
	KeyImages         = "images"
	KeyProjectName    = "projectName"
	KeyProjectAuthor  = "projectAuthor"
)

// Normalize coerces arbitrary decoded JSON into the canonical project document
// shape. It never fails: malformed fragments are coerced or dropped in place,
// never rejected, so every downstream consumer may assume the canonical shape
// unconditionally. The input value is not mutated.
func Normalize(raw any) map[string]any {
	doc := map[string]any{}
	if mapping, ok := raw.(map[string]any); ok {
		for key, value := range mapping {
			doc[key] = value
		}
	}

	doc[KeyMeta] = normalizeMeta(doc[KeyMeta])
	doc[KeyScale] = coerceFloat(doc[KeyScale])
	doc[KeyNodes] = forceMapping(doc[KeyNodes])
	doc[KeyConnections] = forceMapping(doc[KeyConnections])

	// specialPoints is optional: repaired when present, never invented.
	if _, present := doc[KeySpecialPoints]; present {
		doc[KeySpecialPoints] = forceMapping(doc[KeySpecialPoints])
	}

	if reference, present := doc[KeyNorthReference]; present {
		if mapping, ok := reference.(map[string]any); ok {
			doc[KeyNorthReference] = normalizeNorthReference(mapping)
		} else {
			delete(doc, KeyNorthReference)
		}
	}

	switch doc[KeyImages].(type) {
	case []any, map[string]any:
	default:
		doc[KeyImages] = []any{}
	}

	// id and slug are repository-managed, never part of the stored document.
	delete(doc, "id")
	delete(doc, "slug")

	return doc
}

func normalizeMeta(raw any) map[string]any {
	meta := map[string]any{}
	if mapping, ok := raw.(map[string]any); ok {
		for key, value := range mapping {
			meta[key] = value
		}
	}
	if _, present := meta[KeyProjectName]; !present {
		meta[KeyProjectName] = DefaultProjectName
	}
	if _, present := meta[KeyProjectAuthor]; !present {
		meta[KeyProjectAuthor] = ""
	}
	return meta
}

// normalizeNorthReference rebuilds the reference with exactly three keys.
// Empty-ish node references collapse to null so the stored shape stays stable.
func normalizeNorthReference(reference map[string]any) map[string]any {
	return map[string]any{
		"fromNode": nodeRefOrNil(reference["fromNode"]),
		"toNode":   nodeRefOrNil(reference["toNode"]),
		"azimuth":  coerceFloat(reference["azimuth"]),
	}
}

func nodeRefOrNil(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		if typed == "" {
			return nil
		}
		return typed
	case bool:
		if !typed {
			return nil
		}
		return typed
	case float64:
		if typed == 0 {
			return nil
		}
		return typed
	default:
		return typed
	}
}

func forceMapping(value any) map[string]any {
	if mapping, ok := value.(map[string]any); ok {
		return mapping
	}
	return map[string]any{}
}

func coerceFloat(value any) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		if parsed, err := typed.Float64(); err == nil {
			return parsed
		}
	case string:
		if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
			return parsed
		}
	case bool:
		if typed {
			return 1
		}
	}
	return 0
}
