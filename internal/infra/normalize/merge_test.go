package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"langd/internal/domain"
)

func item(label string, score float64, source domain.CompletionSource) domain.CompletionItem {
	return domain.CompletionItem{Label: label, Score: score, Source: source}
}

func TestMergeCompletionsDedupeAndSort(t *testing.T) {
	external := []domain.CompletionItem{
		item("foo", 0.9, domain.CompletionSourceExternal),
		item("bar", 0.5, domain.CompletionSourceExternal),
	}
	internal := []domain.CompletionItem{
		item("foo", 0.7, domain.CompletionSourceInternal),
		item("baz", 0.8, domain.CompletionSourceInternal),
	}

	merged := MergeCompletions(external, internal, domain.MergeConfig{
		IncludeInternal: true,
		Deduplicate:     true,
	})

	// The duplicate "foo" keeps its first (external) occurrence, and the
	// result is ordered by descending score.
	require.Len(t, merged, 3)
	require.Equal(t, "foo", merged[0].Label)
	require.Equal(t, domain.CompletionSourceExternal, merged[0].Source)
	require.InDelta(t, 0.9, merged[0].Score, 1e-9)
	require.Equal(t, "baz", merged[1].Label)
	require.Equal(t, "bar", merged[2].Label)
}

func TestMergeCompletionsExcludesInternal(t *testing.T) {
	external := []domain.CompletionItem{item("foo", 0.9, domain.CompletionSourceExternal)}
	internal := []domain.CompletionItem{item("baz", 0.8, domain.CompletionSourceInternal)}

	merged := MergeCompletions(external, internal, domain.MergeConfig{
		IncludeInternal: false,
		Deduplicate:     true,
	})

	require.Len(t, merged, 1)
	require.Equal(t, "foo", merged[0].Label)
}

func TestMergeCompletionsNoDedupe(t *testing.T) {
	external := []domain.CompletionItem{item("foo", 0.5, domain.CompletionSourceExternal)}
	internal := []domain.CompletionItem{item("foo", 0.5, domain.CompletionSourceInternal)}

	merged := MergeCompletions(external, internal, domain.MergeConfig{
		IncludeInternal: true,
		Deduplicate:     false,
	})

	// Equal scores keep assembly order: external before internal.
	require.Len(t, merged, 2)
	require.Equal(t, domain.CompletionSourceExternal, merged[0].Source)
	require.Equal(t, domain.CompletionSourceInternal, merged[1].Source)
}

func TestMergeCompletionsStableForEqualScores(t *testing.T) {
	external := []domain.CompletionItem{
		item("a", 0.5, domain.CompletionSourceExternal),
		item("b", 0.5, domain.CompletionSourceExternal),
		item("c", 0.5, domain.CompletionSourceExternal),
	}

	merged := MergeCompletions(external, nil, domain.MergeConfig{IncludeInternal: true, Deduplicate: true})

	require.Equal(t, []string{"a", "b", "c"}, []string{merged[0].Label, merged[1].Label, merged[2].Label})
}

func TestMergeCompletionsEmptyInputs(t *testing.T) {
	merged := MergeCompletions(nil, nil, domain.MergeConfig{IncludeInternal: true, Deduplicate: true})
	require.Empty(t, merged)

	internal := []domain.CompletionItem{item("only", 0.1, domain.CompletionSourceInternal)}
	merged = MergeCompletions(nil, internal, domain.MergeConfig{IncludeInternal: true, Deduplicate: true})
	require.Len(t, merged, 1)
	require.Equal(t, "only", merged[0].Label)
}
