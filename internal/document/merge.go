package document

// Merge applies a shallow, replace-by-key merge of incoming over existing.
// Every top-level key present in incoming fully replaces the same-named key in
// existing; keys absent from incoming are left untouched. Nested values are
// never merged recursively: an incoming "nodes" mapping with a single entry
// replaces the entire stored "nodes" mapping. Neither argument is mutated.
func Merge(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range incoming {
		merged[key] = value
	}
	return merged
}
