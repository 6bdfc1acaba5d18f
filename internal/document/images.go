package document

import (
	"sort"
	"strconv"
)

// Thumbnail returns the first non-null image URL in the document, or the empty
// string when none exists. Sequence-shaped images yield the first non-empty
// string element; mapping-shaped images are scanned in ascending key order,
// comparing numeric keys numerically.
func Thumbnail(doc map[string]any) string {
	switch images := doc[KeyImages].(type) {
	case []any:
		for _, entry := range images {
			if url, ok := entry.(string); ok && url != "" {
				return url
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(images))
		for key := range images {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return lessFloorKey(keys[i], keys[j])
		})
		for _, key := range keys {
			if url, ok := images[key].(string); ok && url != "" {
				return url
			}
		}
	}
	return ""
}

// SetFloorImage records an image URL at the given floor index and returns the
// updated document. Sequence-shaped images are padded with nulls up to the
// index; mapping-shaped images are keyed by the decimal floor number. Any other
// shape is reset to a sequence first. The input document is not mutated.
func SetFloorImage(doc map[string]any, floor int, url string) map[string]any {
	if floor < 0 {
		floor = 0
	}

	updated := make(map[string]any, len(doc)+1)
	for key, value := range doc {
		updated[key] = value
	}

	switch images := updated[KeyImages].(type) {
	case map[string]any:
		copied := make(map[string]any, len(images)+1)
		for key, value := range images {
			copied[key] = value
		}
		copied[strconv.Itoa(floor)] = url
		updated[KeyImages] = copied
	case []any:
		copied := make([]any, len(images))
		copy(copied, images)
		for len(copied) <= floor {
			copied = append(copied, nil)
		}
		copied[floor] = url
		updated[KeyImages] = copied
	default:
		copied := make([]any, floor+1)
		copied[floor] = url
		updated[KeyImages] = copied
	}

	return updated
}

func lessFloorKey(left, right string) bool {
	leftNumber, leftErr := strconv.Atoi(left)
	rightNumber, rightErr := strconv.Atoi(right)
	if leftErr == nil && rightErr == nil {
		return leftNumber < rightNumber
	}
	return left < right
}
