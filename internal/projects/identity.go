package projects

import (
	"strings"

	"github.com/gosimple/slug"

	"github.com/instarlab/instar-maps/backend/internal/document"
)

const (
	fallbackName = "Untitled"
	fallbackSlug = "untitled"
)

// placeholderNames are the shipped default project labels. They are sentinels:
// a payload carrying one is treated as "no rename", never as a genuine name.
var placeholderNames = map[string]struct{}{
	document.DefaultProjectName: {},
	"New Project":               {},
}

type identityOutcome struct {
	Name           string
	RegenerateSlug bool
}

// resolveIdentity derives the display name from the document and decides
// whether the slug must be regenerated. A placeholder project name never
// overrides an existing real name; the name is never empty on the way out.
func resolveIdentity(currentName string, doc map[string]any, isNew bool) identityOutcome {
	incoming := strings.TrimSpace(extractProjectName(doc))

	name := currentName
	if incoming != "" && !isPlaceholderName(incoming) {
		name = incoming
	}
	if name == "" {
		name = incoming
	}
	if name == "" {
		name = fallbackName
	}

	return identityOutcome{
		Name:           name,
		RegenerateSlug: isNew || name != currentName,
	}
}

// slugBase transliterates a name into a URL-safe token. Names with no
// transliterable content (for example the shipped Korean placeholder on some
// configurations) fall back to a fixed token.
func slugBase(name string) string {
	base := slug.Make(name)
	if base == "" {
		return fallbackSlug
	}
	return base
}

func isPlaceholderName(name string) bool {
	_, reserved := placeholderNames[name]
	return reserved
}

func extractProjectName(doc map[string]any) string {
	meta, ok := doc[document.KeyMeta].(map[string]any)
	if !ok {
		return ""
	}
	name, ok := meta[document.KeyProjectName].(string)
	if !ok {
		return ""
	}
	return name
}
