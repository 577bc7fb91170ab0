package normalize

import (
	"sort"

	"langd/internal/domain"
)

// MergeCompletions combines an external server's completions with the
// internal fallback provider's. External items come first and outrank
// internal ones; internal items join only when include_internal is set.
// With deduplicate, items are keyed by label and the first occurrence
// wins. The assembled list is sorted by descending score; equal or missing
// scores keep their append order.
func MergeCompletions(external, internal []domain.CompletionItem, cfg domain.MergeConfig) []domain.CompletionItem {
	assembled := make([]domain.CompletionItem, 0, len(external)+len(internal))
	assembled = append(assembled, external...)
	if cfg.IncludeInternal {
		assembled = append(assembled, internal...)
	}

	if cfg.Deduplicate {
		seen := make(map[string]struct{}, len(assembled))
		deduped := assembled[:0]
		for _, item := range assembled {
			if _, dup := seen[item.Label]; dup {
				continue
			}
			seen[item.Label] = struct{}{}
			deduped = append(deduped, item)
		}
		assembled = deduped
	}

	sort.SliceStable(assembled, func(i, j int) bool {
		return assembled[i].Score > assembled[j].Score
	})
	return assembled
}
