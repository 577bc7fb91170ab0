package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"langd/internal/domain"
)

// CompletionProvider is the capability interface internal fallback
// providers implement. Implementations are stored in a map keyed by
// language; polymorphism over this small capability set replaces any
// deeper hierarchy.
type CompletionProvider interface {
	Complete(ctx context.Context, req domain.CompletionRequest) []domain.CompletionItem
}

// ProviderRegistry holds one internal provider per language plus a shared
// fallback for languages with no dedicated provider.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]CompletionProvider
	fallback  CompletionProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]CompletionProvider),
		fallback:  WordCompletionProvider{},
	}
}

// Register installs a language-specific internal provider.
func (r *ProviderRegistry) Register(language string, provider CompletionProvider) {
	if language == "" || provider == nil {
		return
	}
	r.mu.Lock()
	r.providers[language] = provider
	r.mu.Unlock()
}

// For returns the provider for a language, falling back to the shared one.
func (r *ProviderRegistry) For(language string) CompletionProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if provider, ok := r.providers[language]; ok {
		return provider
	}
	return r.fallback
}

// WordCompletionProvider is the builtin fallback: it offers words already
// present in the request's text that share the typed prefix, ranked by
// occurrence count.
type WordCompletionProvider struct{}

func (WordCompletionProvider) Complete(_ context.Context, req domain.CompletionRequest) []domain.CompletionItem {
	if req.Text == "" {
		return nil
	}
	counts := make(map[string]int)
	words := strings.FieldsFunc(req.Text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, word := range words {
		if len(word) < 2 || word == req.Prefix {
			continue
		}
		if req.Prefix != "" && !strings.HasPrefix(word, req.Prefix) {
			continue
		}
		counts[word]++
	}

	items := make([]domain.CompletionItem, 0, len(counts))
	total := 0
	for _, n := range counts {
		total += n
	}
	for word, n := range counts {
		items = append(items, domain.CompletionItem{
			Label:  word,
			Kind:   "text",
			Score:  float64(n) / float64(total+1),
			Source: domain.CompletionSourceInternal,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Label < items[j].Label
	})
	return items
}
